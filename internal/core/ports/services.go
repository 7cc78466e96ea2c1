package ports

import (
	"context"
	"os/exec"
	"time"

	"github.com/nightshift/backend/internal/domain"
)

// ==================== EXECUTION ====================

// Invocation is one launch of the external agent program.
type Invocation struct {
	TaskID       string
	Prompt       string
	Capabilities []string
	WorkDir      string
	Env          []string
	Timeout      time.Duration // 0 = none

	// Wrap rewrites the command before start (isolation). May be nil.
	Wrap func(cmd *exec.Cmd) error
	// OnStart is called with the pid once the process is running. May be nil.
	OnStart func(pid int)
}

// Runner launches the agent and reconciles its output stream. The returned
// result is non-nil whenever the process was started, including on error.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*domain.ExecutionResult, error)
}

// RunOptions are the scheduler-side hooks for one task run.
type RunOptions struct {
	Wrap      func(cmd *exec.Cmd) error
	OnStart   func(pid int)
	Timeout   time.Duration
	Sandboxed bool
}

// Agent executes a claimed task end to end and always returns a result.
// The error is non-nil only for launch failures, timeouts and cancellation.
type Agent interface {
	Run(ctx context.Context, task *domain.Task, opts RunOptions) (*domain.ExecutionResult, error)
}

// ==================== ISOLATION ====================

type IsolationProvider interface {
	Name() string
	// Available returns *domain.IsolationUnavailableError when the host
	// primitive is missing.
	Available() error
	// Apply writes the profile artifact and returns a lease that must be
	// released on every exit path.
	Apply(profile *domain.IsolationProfile) (IsolationLease, error)
}

type IsolationLease interface {
	Wrap(cmd *exec.Cmd) error
	ArtifactPath() string
	Release() error
}

// ==================== PROCESS CONTROL ====================

// ProcessController signals an external process tree by pid. It needs no
// cooperation from whoever started the process.
type ProcessController interface {
	Suspend(pid int) error
	Continue(pid int) error
	Terminate(ctx context.Context, pid int, grace time.Duration) error
	Alive(pid int) bool
	// StartedAfter guards against pid reuse: it reports whether pid is a
	// live process created no earlier than t.
	StartedAfter(pid int, t time.Time) bool
}

// ==================== NOTIFICATION ====================

type Notifier interface {
	Notify(ctx context.Context, summary domain.Summary) error
	Close() error
}

// ==================== USER-FACING SERVICES ====================

type TaskService interface {
	Submit(ctx context.Context, in domain.NewTask) (*domain.Task, error)
	Revise(ctx context.Context, id string, plan domain.Plan) (*domain.Task, error)
	Approve(ctx context.Context, id string) (*domain.Task, error)
	Cancel(ctx context.Context, id string) (*domain.Task, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, status *domain.TaskStatus) ([]domain.Task, error)
	Logs(ctx context.Context, id string, afterID uint) ([]domain.TaskLog, error)
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) (int64, error)
}

type ControlService interface {
	Pause(ctx context.Context, id string) (*domain.Task, error)
	Resume(ctx context.Context, id string) (*domain.Task, error)
	Kill(ctx context.Context, id string) (*domain.Task, error)
}
