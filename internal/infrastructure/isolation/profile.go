package isolation

import (
	"sort"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/domain"
)

// ProfileRequest is what the scheduler knows about a task when it builds the
// sandbox policy.
type ProfileRequest struct {
	TaskID        string
	WritablePaths []string
	NeedsVCS      bool
}

// Builder turns a task's writable-path allow-list into an IsolationProfile.
type Builder struct {
	tempDir  string
	stateDir string
	vcsPaths []string
}

func NewBuilder(cfg config.SandboxConfig) *Builder {
	return &Builder{
		tempDir:  cfg.TempDir,
		stateDir: cfg.StateDir,
		vcsPaths: cfg.VCSPaths,
	}
}

// Build permits reads and executes everywhere and writes only to the task's
// allow-list, the temp dir and the agent state dir, plus the VCS device paths
// and credential cache when the task needs version control.
func (b *Builder) Build(req ProfileRequest) (*domain.IsolationProfile, error) {
	if len(req.WritablePaths) == 0 {
		return nil, domain.NewValidationError("task %s has no writable paths", req.TaskID)
	}

	seen := make(map[string]bool)
	var writable []string
	add := func(raw string, fromTask bool) error {
		path, err := validatePath(raw)
		if err != nil {
			if fromTask {
				return err
			}
			return nil
		}
		if !seen[path] {
			seen[path] = true
			writable = append(writable, path)
		}
		return nil
	}

	for _, p := range req.WritablePaths {
		if err := add(p, true); err != nil {
			return nil, err
		}
	}
	// Host paths from config are best effort: a missing setting must not
	// block the task.
	_ = add(b.tempDir, false)
	_ = add(b.stateDir, false)
	if req.NeedsVCS {
		for _, p := range b.vcsPaths {
			_ = add(p, false)
		}
	}
	sort.Strings(writable)

	return &domain.IsolationProfile{
		TaskID:        req.TaskID,
		WritablePaths: writable,
		ReadAll:       true,
		ExecAll:       true,
		NeedsVCS:      req.NeedsVCS,
	}, nil
}

// validatePath requires a clean absolute path and refuses the filesystem root
// as a writable location.
func validatePath(raw string) (string, error) {
	path, err := domain.CleanAbsPath(raw)
	if err != nil {
		return "", err
	}
	if path == "/" {
		return "", domain.NewValidationError("refusing to make / writable")
	}
	return path, nil
}
