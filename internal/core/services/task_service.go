package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// TaskService is what user-facing surfaces call: submit, plan revision,
// approval, cancellation and reads.
type TaskService struct {
	repo    ports.TaskRepository
	control ports.ControlService
	log     *logger.Logger
}

func NewTaskService(repo ports.TaskRepository, control ports.ControlService, log *logger.Logger) *TaskService {
	return &TaskService{repo: repo, control: control, log: log}
}

var _ ports.TaskService = (*TaskService)(nil)

// ==================== Lifecycle ====================

func (s *TaskService) Submit(ctx context.Context, in domain.NewTask) (*domain.Task, error) {
	task, err := s.repo.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.note(ctx, task.ID, domain.LogLevelInfo, "task staged")
	return task, nil
}

// Revise replaces the plan of a STAGED task.
func (s *TaskService) Revise(ctx context.Context, id string, plan domain.Plan) (*domain.Task, error) {
	task, err := s.repo.UpdatePlan(ctx, id, plan)
	if err != nil {
		return nil, err
	}
	s.note(ctx, id, domain.LogLevelInfo, "plan revised")
	return task, nil
}

// Approve moves a STAGED task to COMMITTED. A task with no writable path
// could never run, so it is rejected here rather than failing later.
func (s *TaskService) Approve(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(task.WritablePaths) == 0 {
		return nil, domain.NewValidationError("task %s has no writable paths; revise the plan before approving", id)
	}
	for _, p := range task.WritablePaths {
		if _, err := domain.CleanAbsPath(p); err != nil {
			return nil, err
		}
	}

	task, err = s.repo.Transition(ctx, id,
		[]domain.TaskStatus{domain.TaskStatusStaged},
		domain.TaskStatusCommitted,
		domain.TransitionFields{})
	if err != nil {
		return nil, err
	}
	s.note(ctx, id, domain.LogLevelInfo, "task approved")
	return task, nil
}

// Cancel stops a task wherever it is. Tasks with a process go through the
// kill path so their partial result is kept.
func (s *TaskService) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.repo.Transition(ctx, id,
		[]domain.TaskStatus{domain.TaskStatusStaged, domain.TaskStatusCommitted},
		domain.TaskStatusCancelled,
		domain.TransitionFields{Error: strPtr("cancelled by user")})
	if err == nil {
		s.note(ctx, id, domain.LogLevelInfo, "task cancelled")
		return task, nil
	}

	var ite *domain.InvalidTransitionError
	if errors.As(err, &ite) && (ite.Current == domain.TaskStatusRunning || ite.Current == domain.TaskStatusPaused) {
		return s.control.Kill(ctx, id)
	}
	return nil, err
}

// ==================== Reads ====================

func (s *TaskService) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *TaskService) List(ctx context.Context, status *domain.TaskStatus) ([]domain.Task, error) {
	return s.repo.List(ctx, status)
}

func (s *TaskService) Logs(ctx context.Context, id string, afterID uint) ([]domain.TaskLog, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Logs(ctx, id, afterID)
}

func (s *TaskService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Infow("task_service_deleted", "id", id)
	return nil
}

func (s *TaskService) ClearAll(ctx context.Context) (int64, error) {
	n, err := s.repo.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Infow("task_service_cleared", "count", n)
	return n, nil
}

// note appends to the task log. The log is informational, so a failed write
// is only reported.
func (s *TaskService) note(ctx context.Context, id, level, format string, args ...interface{}) {
	note(ctx, s.repo, s.log, id, level, format, args...)
}

func note(ctx context.Context, repo ports.TaskRepository, log *logger.Logger, id, level, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if err := repo.AppendLog(context.WithoutCancel(ctx), id, level, strings.TrimSpace(msg)); err != nil {
		log.Warnw("task_log_append_failed", "id", id, "error", err)
	}
}

func strPtr(s string) *string { return &s }
