package isolation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
)

const bubblewrapLauncher = "bwrap"

// BubblewrapProvider confines the agent with bwrap on Linux. The argument
// list is passed through an inherited file descriptor (--args).
type BubblewrapProvider struct {
	once  sync.Once
	avail error
}

func NewBubblewrapProvider() *BubblewrapProvider { return &BubblewrapProvider{} }

func (p *BubblewrapProvider) Name() string { return "bubblewrap" }

// Available runs a trivial sandbox once; user namespaces are often disabled
// even where the binary is installed.
func (p *BubblewrapProvider) Available() error {
	p.once.Do(func() {
		if runtime.GOOS != "linux" {
			p.avail = &domain.IsolationUnavailableError{Provider: p.Name(), Reason: "requires linux, running on " + runtime.GOOS}
			return
		}
		path, err := exec.LookPath(bubblewrapLauncher)
		if err != nil {
			p.avail = &domain.IsolationUnavailableError{Provider: p.Name(), Reason: bubblewrapLauncher + " not found"}
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, path, "--ro-bind", "/", "/", "--", "true").CombinedOutput()
		if err != nil {
			p.avail = &domain.IsolationUnavailableError{
				Provider: p.Name(),
				Reason:   fmt.Sprintf("probe failed: %v: %s", err, strings.TrimSpace(string(out))),
			}
		}
	})
	return p.avail
}

func (p *BubblewrapProvider) Apply(profile *domain.IsolationProfile) (ports.IsolationLease, error) {
	if err := p.Available(); err != nil {
		return nil, err
	}
	l, err := newLease("bwrap.args", RenderBubblewrapArgs(profile))
	if err != nil {
		return nil, err
	}
	l.wrap = func(cmd *exec.Cmd) error {
		f, err := os.Open(l.artifact)
		if err != nil {
			return fmt.Errorf("open bwrap args: %w", err)
		}
		l.closers = append(l.closers, f.Close)
		fd := 3 + len(cmd.ExtraFiles)
		cmd.ExtraFiles = append(cmd.ExtraFiles, f)
		return wrapCommand(cmd, bubblewrapLauncher, "--args", strconv.Itoa(fd), "--")
	}
	return l, nil
}

// RenderBubblewrapArgs produces the NUL-separated argument file: the whole
// filesystem read-only, fresh /dev and /proc, then writable binds.
func RenderBubblewrapArgs(profile *domain.IsolationProfile) []byte {
	args := []string{
		"--ro-bind", "/", "/",
		"--dev", "/dev",
		"--proc", "/proc",
	}
	for _, path := range profile.WritablePaths {
		bind := "--bind-try"
		if path == "/dev" || strings.HasPrefix(path, "/dev/") {
			bind = "--dev-bind-try"
		}
		args = append(args, bind, path, path)
	}
	args = append(args, "--die-with-parent")

	var b strings.Builder
	for _, a := range args {
		b.WriteString(a)
		b.WriteByte(0)
	}
	return []byte(b.String())
}
