package services

import (
	"context"
	"errors"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// ControlService pauses, resumes and kills running tasks from outside the
// worker that owns them. It needs only the pid recorded in the store, so the
// CLI can use it against a daemon in another process.
type ControlService struct {
	repo      ports.TaskRepository
	procs     ports.ProcessController
	killGrace time.Duration
	poll      time.Duration
	log       *logger.Logger
}

func NewControlService(repo ports.TaskRepository, procs ports.ProcessController, killGrace time.Duration, log *logger.Logger) *ControlService {
	if killGrace <= 0 {
		killGrace = 10 * time.Second
	}
	return &ControlService{
		repo:      repo,
		procs:     procs,
		killGrace: killGrace,
		poll:      100 * time.Millisecond,
		log:       log,
	}
}

var _ ports.ControlService = (*ControlService)(nil)

// Pause stops the process tree first, then records PAUSED. If the record
// fails the tree is continued again so state and process agree.
func (s *ControlService) Pause(ctx context.Context, id string) (*domain.Task, error) {
	task, pid, err := s.attached(ctx, id, domain.TaskStatusRunning, domain.TaskStatusPaused)
	if err != nil {
		return nil, err
	}

	if err := s.procs.Suspend(pid); err != nil {
		s.log.Errorw("control_pause_signal_failed", "id", id, "pid", pid, "error", err)
		return nil, err
	}
	paused, err := s.repo.Transition(ctx, id,
		[]domain.TaskStatus{domain.TaskStatusRunning},
		domain.TaskStatusPaused,
		domain.TransitionFields{})
	if err != nil {
		if cerr := s.procs.Continue(pid); cerr != nil {
			s.log.Warnw("control_pause_undo_failed", "id", id, "pid", pid, "error", cerr)
		}
		return nil, err
	}
	s.log.Infow("control_pause_ok", "id", task.ID, "pid", pid)
	note(ctx, s.repo, s.log, id, domain.LogLevelInfo, "task paused")
	return paused, nil
}

func (s *ControlService) Resume(ctx context.Context, id string) (*domain.Task, error) {
	_, pid, err := s.attached(ctx, id, domain.TaskStatusPaused, domain.TaskStatusRunning)
	if err != nil {
		return nil, err
	}

	// Record first: a resumed process may exit at once and the worker must
	// find the task RUNNING when it does.
	resumed, err := s.repo.Transition(ctx, id,
		[]domain.TaskStatus{domain.TaskStatusPaused},
		domain.TaskStatusRunning,
		domain.TransitionFields{})
	if err != nil {
		return nil, err
	}
	if err := s.procs.Continue(pid); err != nil {
		s.log.Errorw("control_resume_signal_failed", "id", id, "pid", pid, "error", err)
		if _, rerr := s.repo.Transition(context.WithoutCancel(ctx), id,
			[]domain.TaskStatus{domain.TaskStatusRunning},
			domain.TaskStatusPaused,
			domain.TransitionFields{}); rerr != nil {
			s.log.Warnw("control_resume_undo_failed", "id", id, "error", rerr)
		}
		return nil, err
	}
	s.log.Infow("control_resume_ok", "id", id, "pid", pid)
	note(ctx, s.repo, s.log, id, domain.LogLevelInfo, "task resumed")
	return resumed, nil
}

// Kill terminates the task's process tree and ends in CANCELLED. The owning
// worker normally records the outcome with the partial output it captured;
// if nothing is recorded within the kill grace the task is finalized here.
func (s *ControlService) Kill(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !task.HasProcess() {
		cancelled, err := s.repo.Transition(ctx, id,
			[]domain.TaskStatus{domain.TaskStatusStaged, domain.TaskStatusCommitted},
			domain.TaskStatusCancelled,
			domain.TransitionFields{Error: strPtr("cancelled by user")})
		var ite *domain.InvalidTransitionError
		if errors.As(err, &ite) && (ite.Current == domain.TaskStatusRunning || ite.Current == domain.TaskStatusPaused) {
			// Claimed in the meantime.
			return s.Kill(ctx, id)
		}
		return cancelled, err
	}

	task, err = s.repo.RequestKill(ctx, id)
	if err != nil {
		return nil, err
	}
	note(ctx, s.repo, s.log, id, domain.LogLevelWarn, "kill requested")

	if task.PID != nil {
		if err := s.procs.Terminate(ctx, *task.PID, s.killGrace); err != nil {
			s.log.Warnw("control_kill_terminate_failed", "id", id, "pid", *task.PID, "error", err)
		}
	}

	if final, ok := s.awaitTerminal(ctx, id); ok {
		s.log.Infow("control_kill_ok", "id", id, "status", final.Status, "finalized_by", "worker")
		return final, nil
	}

	partial := &domain.ExecutionResult{
		ExitCode:   -1,
		Killed:     true,
		Error:      "killed by user; no worker reported a result",
		FinishedAt: time.Now().UTC(),
	}
	if task.StartedAt != nil {
		partial.StartedAt = *task.StartedAt
		partial.Duration = partial.FinishedAt.Sub(*task.StartedAt)
	}
	if logs, err := s.repo.Logs(ctx, id, 0); err == nil {
		for _, l := range logs {
			partial.Logs = append(partial.Logs, l.Level+" "+l.Message)
		}
	}

	final, err := s.repo.RecordResult(context.WithoutCancel(ctx), id, partial, domain.TaskStatusCancelled)
	var ite *domain.InvalidTransitionError
	if errors.As(err, &ite) {
		// The worker got there first after all.
		return s.repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.log.Infow("control_kill_ok", "id", id, "status", final.Status, "finalized_by", "controller")
	return final, nil
}

// attached loads a task that must be in status from and have a pid.
func (s *ControlService) attached(ctx context.Context, id string, from, to domain.TaskStatus) (*domain.Task, int, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if task.Status != from {
		return nil, 0, &domain.InvalidTransitionError{TaskID: id, Current: task.Status, Target: to, Allowed: []domain.TaskStatus{from}}
	}
	if task.PID == nil {
		return nil, 0, domain.NewValidationError("task %s has no process attached yet", id)
	}
	return task, *task.PID, nil
}

func (s *ControlService) awaitTerminal(ctx context.Context, id string) (*domain.Task, bool) {
	deadline := time.NewTimer(s.killGrace)
	defer deadline.Stop()
	tick := time.NewTicker(s.poll)
	defer tick.Stop()
	for {
		task, err := s.repo.GetByID(ctx, id)
		if err == nil && task.Status.IsTerminal() {
			return task, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-tick.C:
		}
	}
}
