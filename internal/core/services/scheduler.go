package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/artifacts"
	"github.com/nightshift/backend/internal/infrastructure/isolation"
	"github.com/nightshift/backend/internal/infrastructure/lock"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// hostScheduler is the one scheduler allowed to run in this process.
var hostScheduler atomic.Pointer[Scheduler]

type SchedulerConfig struct {
	Workers          int
	PollInterval     time.Duration
	ExecutionTimeout time.Duration
	KillGrace        time.Duration
	// LockFile, when set, also excludes schedulers in other processes.
	LockFile         string
	SandboxEnabled   bool
	AllowUnsandboxed bool
	NotifyTruncate   int
}

type SchedulerDeps struct {
	Repo      ports.TaskRepository
	Agent     ports.Agent
	Profiles  *isolation.Builder
	Isolation ports.IsolationProvider
	Processes ports.ProcessController
	Notifier  ports.Notifier
	Artifacts *artifacts.Writer
	Log       *logger.Logger
}

// SchedulerStats is a point-in-time view of the worker pool.
type SchedulerStats struct {
	Running   bool  `json:"running"`
	Workers   int   `json:"workers"`
	Active    int64 `json:"active"`
	Claimed   int64 `json:"claimed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Scheduler is a fixed pool of workers that poll the store for COMMITTED
// tasks. All coordination between workers goes through AcquireForExecution.
type Scheduler struct {
	cfg  SchedulerConfig
	deps SchedulerDeps
	log  *logger.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	fileLock *lock.FileLock

	active    atomic.Int64
	claimed   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

func NewScheduler(cfg SchedulerConfig, deps SchedulerDeps) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 10 * time.Second
	}
	return &Scheduler{cfg: cfg, deps: deps, log: deps.Log}
}

// Start recovers orphaned tasks and launches the workers. It fails with
// ErrSchedulerRunning if a scheduler is already active in this process or,
// with a lock file configured, in another one.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || !hostScheduler.CompareAndSwap(nil, s) {
		return domain.ErrSchedulerRunning
	}
	if s.cfg.LockFile != "" {
		fl, err := lock.Acquire(s.cfg.LockFile)
		if err != nil {
			hostScheduler.Store(nil)
			if errors.Is(err, lock.ErrHeld) {
				return fmt.Errorf("%w: %v", domain.ErrSchedulerRunning, err)
			}
			return err
		}
		s.fileLock = fl
	}

	if err := s.recoverOrphans(ctx); err != nil {
		s.releaseLocked()
		return fmt.Errorf("recover orphaned tasks: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx, i)
	}
	s.log.Infow("scheduler_started",
		"workers", s.cfg.Workers,
		"poll_interval", s.cfg.PollInterval,
		"isolation", s.isolationName(),
	)
	return nil
}

// Stop cancels the workers and waits for them. Runs in flight are killed and
// recorded FAILED.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.releaseLocked()
	s.mu.Unlock()
	s.log.Infow("scheduler_stopped")
}

func (s *Scheduler) releaseLocked() {
	if s.fileLock != nil {
		if err := s.fileLock.Release(); err != nil {
			s.log.Warnw("scheduler_lock_release_failed", "error", err)
		}
		s.fileLock = nil
	}
	hostScheduler.CompareAndSwap(s, nil)
}

func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SchedulerStats{
		Running:   running,
		Workers:   s.cfg.Workers,
		Active:    s.active.Load(),
		Claimed:   s.claimed.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
	}
}

// ==================== Workers ====================

func (s *Scheduler) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	log := s.log.With("worker", n)

	for {
		if ctx.Err() != nil {
			return
		}
		task, err := s.deps.Repo.AcquireForExecution(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorw("scheduler_acquire_failed", "error", err)
			if !sleep(ctx, s.cfg.PollInterval) {
				return
			}
			continue
		}
		if task == nil {
			if !sleep(ctx, s.cfg.PollInterval) {
				return
			}
			continue
		}

		s.claimed.Add(1)
		s.active.Add(1)
		log.Infow("scheduler_task_claimed", "id", task.ID)
		s.execute(ctx, task, n)
		s.active.Add(-1)
	}
}

// execute runs one claimed task. Nothing that goes wrong here may escape the
// worker: every failure ends as a recorded FAILED task.
func (s *Scheduler) execute(ctx context.Context, task *domain.Task, worker int) {
	store := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("scheduler_worker_panic", "id", task.ID, "panic", r, "stack", string(debug.Stack()))
			s.fail(store, task, fmt.Errorf("worker panic: %v", r))
		}
	}()
	note(store, s.deps.Repo, s.log, task.ID, domain.LogLevelInfo, "claimed by worker %d", worker)

	profile, err := s.deps.Profiles.Build(isolation.ProfileRequest{
		TaskID:        task.ID,
		WritablePaths: task.WritablePaths,
		NeedsVCS:      task.NeedsVCS,
	})
	if err != nil {
		s.fail(store, task, err)
		return
	}

	// A kill can land before the agent has a pid to signal. The run context
	// carries it to the runner, which then never launches or kills at once.
	runCtx, stopRun := context.WithCancel(ctx)
	var watch sync.WaitGroup
	watch.Add(1)
	go func() {
		defer watch.Done()
		s.watchKill(runCtx, task.ID, stopRun)
	}()
	defer func() {
		stopRun()
		watch.Wait()
	}()

	opts := ports.RunOptions{
		Timeout: s.cfg.ExecutionTimeout,
		OnStart: func(pid int) {
			if err := s.deps.Repo.SetProcess(store, task.ID, pid); err != nil {
				// Without a recorded pid nobody else can reach this process.
				s.log.Warnw("scheduler_set_process_failed", "id", task.ID, "pid", pid, "error", err)
				stopRun()
				return
			}
			note(store, s.deps.Repo, s.log, task.ID, domain.LogLevelInfo, "agent started (pid %d)", pid)
			if current, err := s.deps.Repo.GetByID(store, task.ID); err == nil && current.KillRequested {
				stopRun()
			}
		},
	}

	lease, err := s.isolate(store, task, profile)
	if err != nil {
		s.fail(store, task, err)
		return
	}
	if lease != nil {
		opts.Wrap = lease.Wrap
		opts.Sandboxed = true
	}

	res, runErr := s.run(runCtx, task, opts, lease)
	if res == nil {
		res = &domain.ExecutionResult{ExitCode: -1}
	}
	if runErr != nil && res.Error == "" {
		res.Error = runErr.Error()
	}
	if ctx.Err() != nil {
		res.Error = "scheduler stopped: " + res.Error
	}

	final := domain.TaskStatusFailed
	if runErr == nil && res.Success {
		final = domain.TaskStatusCompleted
	}
	if current, err := s.deps.Repo.GetByID(store, task.ID); err == nil {
		if current.Status.IsTerminal() {
			s.log.Infow("scheduler_task_already_final", "id", task.ID, "status", current.Status)
			return
		}
		if current.KillRequested {
			final = domain.TaskStatusCancelled
			if res.Error == "" || res.Killed {
				res.Error = "killed by user"
			}
		}
	}

	done, err := s.deps.Repo.RecordResult(store, task.ID, res, final)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.log.Infow("scheduler_task_finalized_elsewhere", "id", task.ID)
			return
		}
		s.log.Errorw("scheduler_record_result_failed", "id", task.ID, "error", err)
		return
	}
	s.finished(store, done)
}

// run executes the agent and releases the lease before the outcome is
// recorded, so a terminal task never leaves a sandbox artifact behind.
func (s *Scheduler) run(ctx context.Context, task *domain.Task, opts ports.RunOptions, lease ports.IsolationLease) (*domain.ExecutionResult, error) {
	if lease != nil {
		defer func() {
			if err := lease.Release(); err != nil {
				s.log.Warnw("scheduler_isolation_release_failed", "id", task.ID, "artifact", lease.ArtifactPath(), "error", err)
			}
		}()
	}
	return s.deps.Agent.Run(ctx, task, opts)
}

// watchKill cancels a run once a kill is requested or the task is finalized
// by someone else.
func (s *Scheduler) watchKill(ctx context.Context, id string, stop context.CancelFunc) {
	for sleep(ctx, s.cfg.PollInterval) {
		task, err := s.deps.Repo.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if task.KillRequested || task.Status.IsTerminal() {
			s.log.Infow("scheduler_run_stopping", "id", id, "status", task.Status, "kill_requested", task.KillRequested)
			stop()
			return
		}
	}
}

// isolate applies the sandbox. A nil lease with a nil error means the task
// runs unsandboxed, which is only allowed by explicit configuration.
func (s *Scheduler) isolate(ctx context.Context, task *domain.Task, profile *domain.IsolationProfile) (ports.IsolationLease, error) {
	if !s.cfg.SandboxEnabled {
		s.log.Warnw("scheduler_running_unsandboxed", "id", task.ID, "reason", "sandbox disabled")
		note(ctx, s.deps.Repo, s.log, task.ID, domain.LogLevelWarn, "running without sandbox: disabled by configuration")
		return nil, nil
	}

	lease, err := s.deps.Isolation.Apply(profile)
	if err == nil {
		return lease, nil
	}
	var unavailable *domain.IsolationUnavailableError
	if errors.As(err, &unavailable) && s.cfg.AllowUnsandboxed {
		s.log.Warnw("scheduler_running_unsandboxed", "id", task.ID, "reason", unavailable.Reason, "provider", unavailable.Provider)
		note(ctx, s.deps.Repo, s.log, task.ID, domain.LogLevelWarn, "running without sandbox: %s", unavailable.Reason)
		return nil, nil
	}
	return nil, err
}

func (s *Scheduler) fail(ctx context.Context, task *domain.Task, cause error) {
	res := &domain.ExecutionResult{
		ExitCode:   -1,
		Error:      cause.Error(),
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	done, err := s.deps.Repo.RecordResult(ctx, task.ID, res, domain.TaskStatusFailed)
	if err != nil {
		s.log.Errorw("scheduler_fail_task_failed", "id", task.ID, "cause", cause, "error", err)
		return
	}
	s.log.Warnw("scheduler_task_failed", "id", task.ID, "error", cause)
	s.finished(ctx, done)
}

// finished runs the terminal-status side effects. Their failures are logged
// and never touch the task's state.
func (s *Scheduler) finished(ctx context.Context, task *domain.Task) {
	switch task.Status {
	case domain.TaskStatusCompleted:
		s.completed.Add(1)
	case domain.TaskStatusCancelled:
		s.cancelled.Add(1)
	default:
		s.failed.Add(1)
	}

	level := domain.LogLevelInfo
	if task.Status != domain.TaskStatusCompleted {
		level = domain.LogLevelError
	}
	msg := "task " + string(task.Status)
	if task.Error != nil && *task.Error != "" {
		msg += ": " + *task.Error
	}
	note(ctx, s.deps.Repo, s.log, task.ID, level, "%s", msg)

	if s.deps.Artifacts != nil {
		if err := s.deps.Artifacts.Write(task); err != nil {
			s.log.Warnw("scheduler_artifacts_failed", "id", task.ID, "error", err)
		}
	}
	if s.deps.Notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.deps.Notifier.Notify(nctx, domain.NewSummary(task, s.cfg.NotifyTruncate)); err != nil {
			s.log.Warnw("scheduler_notify_failed", "id", task.ID, "error", err)
		}
	}
	s.log.Infow("scheduler_task_finished", "id", task.ID, "status", task.Status)
}

// recoverOrphans fails tasks left RUNNING or PAUSED by a scheduler that died.
// Their processes are terminated when still alive and provably the same
// process (created after the task started).
func (s *Scheduler) recoverOrphans(ctx context.Context) error {
	orphans, err := s.deps.Repo.ListByStatuses(ctx, []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusPaused})
	if err != nil {
		return err
	}
	for i := range orphans {
		t := &orphans[i]
		killed := false
		if t.PID != nil && s.deps.Processes != nil {
			since := t.CreatedAt
			if t.StartedAt != nil {
				since = t.StartedAt.Add(-2 * time.Second)
			}
			if s.deps.Processes.StartedAfter(*t.PID, since) {
				if err := s.deps.Processes.Terminate(ctx, *t.PID, s.cfg.KillGrace); err != nil {
					s.log.Warnw("scheduler_orphan_terminate_failed", "id", t.ID, "pid", *t.PID, "error", err)
				}
				killed = true
			}
		}
		res := &domain.ExecutionResult{
			ExitCode:   -1,
			Killed:     killed,
			Error:      "orphaned: scheduler exited while the task was " + string(t.Status),
			FinishedAt: time.Now().UTC(),
		}
		if t.StartedAt != nil {
			res.StartedAt = *t.StartedAt
		}
		done, err := s.deps.Repo.RecordResult(ctx, t.ID, res, domain.TaskStatusFailed)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return err
		}
		s.log.Warnw("scheduler_orphan_recovered", "id", t.ID, "killed", killed)
		s.finished(ctx, done)
	}
	return nil
}

func (s *Scheduler) isolationName() string {
	if !s.cfg.SandboxEnabled || s.deps.Isolation == nil {
		return "disabled"
	}
	return s.deps.Isolation.Name()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
