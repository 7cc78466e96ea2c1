package isolation

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// lease owns one profile artifact inside a private temp directory.
type lease struct {
	dir      string
	artifact string
	wrap     func(cmd *exec.Cmd) error
	closers  []func() error

	once sync.Once
	err  error
}

// newLease writes content to a fresh 0700 directory and returns a lease over it.
func newLease(name string, content []byte) (*lease, error) {
	dir, err := os.MkdirTemp("", "nightshift-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod sandbox dir: %w", err)
	}
	artifact := filepath.Join(dir, name)
	if err := os.WriteFile(artifact, content, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write sandbox profile: %w", err)
	}
	return &lease{dir: dir, artifact: artifact}, nil
}

func (l *lease) Wrap(cmd *exec.Cmd) error {
	if l.wrap == nil {
		return nil
	}
	return l.wrap(cmd)
}

func (l *lease) ArtifactPath() string { return l.artifact }

// Release closes any open handles and removes the artifact directory. Safe to
// call more than once.
func (l *lease) Release() error {
	l.once.Do(func() {
		for _, c := range l.closers {
			_ = c()
		}
		l.err = os.RemoveAll(l.dir)
	})
	return l.err
}

// wrapCommand replaces cmd's program with launcher, keeping the original
// program and arguments after prefix.
func wrapCommand(cmd *exec.Cmd, launcher string, prefix ...string) error {
	if cmd.Err != nil {
		return cmd.Err
	}
	path, err := exec.LookPath(launcher)
	if err != nil {
		return fmt.Errorf("find %s: %w", launcher, err)
	}
	orig := cmd.Path
	var rest []string
	if len(cmd.Args) > 1 {
		rest = cmd.Args[1:]
	}
	args := append([]string{launcher}, prefix...)
	args = append(args, orig)
	cmd.Path = path
	cmd.Args = append(args, rest...)
	return nil
}
