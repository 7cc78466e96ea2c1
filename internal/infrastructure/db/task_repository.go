package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type taskRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepository(db *gorm.DB, log *logger.Logger) ports.TaskRepository {
	return &taskRepository{db: db, log: log}
}

// ==================== READS ====================

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	return getTask(r.db.WithContext(ctx), id)
}

func (r *taskRepository) List(ctx context.Context, status *domain.TaskStatus) ([]domain.Task, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}
	var tasks []domain.Task
	if err := q.Find(&tasks).Error; err != nil {
		r.log.Errorw("task_repo_list_failed", "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) ListByStatuses(ctx context.Context, statuses []domain.TaskStatus) ([]domain.Task, error) {
	var tasks []domain.Task
	if len(statuses) == 0 {
		return tasks, nil
	}
	err := r.db.WithContext(ctx).
		Where("status IN ?", statusStrings(statuses)).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error
	if err != nil {
		r.log.Errorw("task_repo_list_by_status_failed", "statuses", statuses, "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) Logs(ctx context.Context, taskID string, afterID uint) ([]domain.TaskLog, error) {
	var logs []domain.TaskLog
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND id > ?", taskID, afterID).
		Order("id ASC").
		Find(&logs).Error
	if err != nil {
		r.log.Errorw("task_repo_logs_failed", "id", taskID, "error", err)
		return nil, err
	}
	return logs, nil
}

// ==================== WRITES ====================

func (r *taskRepository) Create(ctx context.Context, in domain.NewTask) (*domain.Task, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, domain.NewValidationError("description is required")
	}

	// v7 ids sort by creation time, which keeps FIFO order stable when two
	// tasks share a created_at value.
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}

	task := &domain.Task{
		ID:            id.String(),
		Description:   desc,
		Status:        domain.TaskStatusStaged,
		Capabilities:  domain.StringList{},
		WritablePaths: domain.StringList{},
	}
	if in.Plan != nil {
		plan, err := in.Plan.Normalize()
		if err != nil {
			return nil, err
		}
		applyPlan(task, plan)
	}

	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		r.log.Errorw("task_repo_create_failed", "error", err)
		return nil, err
	}
	r.log.Infow("task_repo_create_ok", "id", task.ID)
	return task, nil
}

func (r *taskRepository) Transition(ctx context.Context, id string, fromAllowed []domain.TaskStatus, to domain.TaskStatus, fields domain.TransitionFields) (*domain.Task, error) {
	var out *domain.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := transition(tx, id, fromAllowed, to, fields)
		out = t
		return err
	})
	if err != nil {
		r.logWriteErr("task_repo_transition_failed", id, err, "to", to)
		return nil, err
	}
	r.log.Infow("task_repo_transition_ok", "id", id, "status", to)
	return out, nil
}

func (r *taskRepository) AcquireForExecution(ctx context.Context) (*domain.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var claimed *domain.Task
		lost := false
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Where("status = ?", string(domain.TaskStatusCommitted)).
				Order("created_at ASC, id ASC").
				Limit(1)
			if tx.Dialector.Name() == "postgres" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}

			var candidate domain.Task
			err := q.Take(&candidate).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			res := tx.Model(&domain.Task{}).
				Where("id = ? AND status = ?", candidate.ID, string(domain.TaskStatusCommitted)).
				Updates(map[string]interface{}{
					"status":         string(domain.TaskStatusRunning),
					"started_at":     gorm.Expr("COALESCE(started_at, ?)", now),
					"kill_requested": false,
					"updated_at":     now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				lost = true
				return nil
			}

			t, err := getTask(tx, candidate.ID)
			if err != nil {
				return err
			}
			claimed = t
			return nil
		})
		if err != nil {
			r.log.Errorw("task_repo_acquire_failed", "error", err)
			return nil, err
		}
		if lost {
			r.log.Debugw("task_repo_acquire_lost_race")
			continue
		}
		if claimed != nil {
			r.log.Infow("task_repo_acquire_ok", "id", claimed.ID)
		}
		return claimed, nil
	}
}

func (r *taskRepository) RecordResult(ctx context.Context, id string, result *domain.ExecutionResult, final domain.TaskStatus) (*domain.Task, error) {
	if !final.IsTerminal() && final != domain.TaskStatusPaused {
		return nil, domain.NewValidationError("final status must be terminal or paused, got %s", final)
	}

	fields := domain.TransitionFields{Result: result}
	if result != nil && result.Error != "" {
		msg := result.Error
		fields.Error = &msg
	}

	var out *domain.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := getTask(tx, id)
		if err != nil {
			return err
		}
		// A process can exit in the instant it is being suspended; treat
		// the task as resumed so completion stays on a legal edge.
		if current.Status == domain.TaskStatusPaused && !domain.CanTransition(domain.TaskStatusPaused, final) {
			if _, err := transition(tx, id, []domain.TaskStatus{domain.TaskStatusPaused}, domain.TaskStatusRunning, domain.TransitionFields{}); err != nil {
				return err
			}
		}
		t, err := transition(tx, id, []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusPaused}, final, fields)
		out = t
		return err
	})
	if err != nil {
		r.logWriteErr("task_repo_record_result_failed", id, err, "status", final)
		return nil, err
	}
	r.log.Infow("task_repo_record_result_ok", "id", id, "status", final)
	return out, nil
}

func (r *taskRepository) UpdatePlan(ctx context.Context, id string, plan domain.Plan) (*domain.Task, error) {
	plan, err := plan.Normalize()
	if err != nil {
		return nil, err
	}

	var out *domain.Task
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Task{}).
			Where("id = ? AND status = ?", id, string(domain.TaskStatusStaged)).
			Updates(map[string]interface{}{
				"prompt":            plan.Prompt,
				"capabilities":      domain.StringList(plan.Capabilities),
				"writable_paths":    domain.StringList(plan.WritablePaths),
				"work_dir":          plan.WorkDir,
				"needs_vcs":         plan.NeedsVCS,
				"estimated_tokens":  plan.EstimatedTokens,
				"estimated_seconds": plan.EstimatedSeconds,
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conditionFailed(tx, id, domain.TaskStatusStaged, []domain.TaskStatus{domain.TaskStatusStaged})
		}
		t, err := getTask(tx, id)
		out = t
		return err
	})
	if err != nil {
		r.logWriteErr("task_repo_update_plan_failed", id, err)
		return nil, err
	}
	r.log.Infow("task_repo_update_plan_ok", "id", id)
	return out, nil
}

func (r *taskRepository) SetProcess(ctx context.Context, id string, pid int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attached := []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusPaused}
		res := tx.Model(&domain.Task{}).
			Where("id = ? AND status IN ?", id, statusStrings(attached)).
			Updates(map[string]interface{}{"pid": pid, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			r.log.Errorw("task_repo_set_process_failed", "id", id, "error", res.Error)
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conditionFailed(tx, id, domain.TaskStatusRunning, attached)
		}
		r.log.Debugw("task_repo_set_process_ok", "id", id, "pid", pid)
		return nil
	})
}

func (r *taskRepository) RequestKill(ctx context.Context, id string) (*domain.Task, error) {
	var out *domain.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attached := []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusPaused}
		res := tx.Model(&domain.Task{}).
			Where("id = ? AND status IN ?", id, statusStrings(attached)).
			Updates(map[string]interface{}{"kill_requested": true, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conditionFailed(tx, id, domain.TaskStatusCancelled, attached)
		}
		t, err := getTask(tx, id)
		out = t
		return err
	})
	if err != nil {
		r.logWriteErr("task_repo_request_kill_failed", id, err)
		return nil, err
	}
	r.log.Infow("task_repo_request_kill_ok", "id", id)
	return out, nil
}

// Delete removes one task and its logs. Tasks with an attached process must
// be killed first.
func (r *taskRepository) Delete(ctx context.Context, id string) error {
	attached := []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusPaused}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status NOT IN ?", id, statusStrings(attached)).Delete(&domain.Task{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			current, err := getTask(tx, id)
			if err != nil {
				return err
			}
			return &domain.InvalidTransitionError{
				TaskID:  id,
				Current: current.Status,
				Allowed: []domain.TaskStatus{
					domain.TaskStatusStaged,
					domain.TaskStatusCommitted,
					domain.TaskStatusCompleted,
					domain.TaskStatusFailed,
					domain.TaskStatusCancelled,
				},
			}
		}
		return tx.Where("task_id = ?", id).Delete(&domain.TaskLog{}).Error
	})
	if err != nil {
		r.logWriteErr("task_repo_delete_failed", id, err)
		return err
	}
	r.log.Infow("task_repo_delete_ok", "id", id)
	return nil
}

func (r *taskRepository) ClearAll(ctx context.Context) (int64, error) {
	attached := statusStrings([]domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusPaused})
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removable := tx.Model(&domain.Task{}).Select("id").Where("status NOT IN ?", attached)
		if err := tx.Where("task_id IN (?)", removable).Delete(&domain.TaskLog{}).Error; err != nil {
			return err
		}
		res := tx.Where("status NOT IN ?", attached).Delete(&domain.Task{})
		if res.Error != nil {
			return res.Error
		}
		count = res.RowsAffected
		return nil
	})
	if err != nil {
		r.log.Errorw("task_repo_clear_failed", "error", err)
		return 0, err
	}
	r.log.Infow("task_repo_clear_ok", "count", count)
	return count, nil
}

func (r *taskRepository) AppendLog(ctx context.Context, taskID, level, message string) error {
	entry := &domain.TaskLog{TaskID: taskID, Level: level, Message: message}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.Errorw("task_repo_append_log_failed", "id", taskID, "error", err)
		return err
	}
	return nil
}

// ==================== HELPERS ====================

// transition is the conditional update shared by every status write. It runs
// on the caller's transaction handle.
func transition(tx *gorm.DB, id string, fromAllowed []domain.TaskStatus, to domain.TaskStatus, fields domain.TransitionFields) (*domain.Task, error) {
	sources := domain.LegalSources(fromAllowed, to)
	if len(sources) == 0 {
		return nil, conditionFailed(tx, id, to, fromAllowed)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": now,
	}
	if to == domain.TaskStatusRunning {
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	}
	if fields.PID != nil {
		updates["pid"] = *fields.PID
	}
	if to.IsTerminal() {
		updates["finished_at"] = now
		updates["pid"] = nil
	}
	if fields.Result != nil {
		updates["result"] = fields.Result
	}
	if fields.Error != nil {
		updates["error"] = *fields.Error
	}

	res := tx.Model(&domain.Task{}).
		Where("id = ? AND status IN ?", id, statusStrings(sources)).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, conditionFailed(tx, id, to, fromAllowed)
	}
	return getTask(tx, id)
}

// conditionFailed explains a conditional update that matched no row.
func conditionFailed(tx *gorm.DB, id string, to domain.TaskStatus, allowed []domain.TaskStatus) error {
	current, err := getTask(tx, id)
	if err != nil {
		return err
	}
	return &domain.InvalidTransitionError{
		TaskID:  id,
		Current: current.Status,
		Target:  to,
		Allowed: allowed,
	}
}

func getTask(db *gorm.DB, id string) (*domain.Task, error) {
	var task domain.Task
	err := db.Where("id = ?", id).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func applyPlan(t *domain.Task, p domain.Plan) {
	t.Prompt = p.Prompt
	t.Capabilities = domain.StringList(p.Capabilities)
	t.WritablePaths = domain.StringList(p.WritablePaths)
	t.WorkDir = p.WorkDir
	t.NeedsVCS = p.NeedsVCS
	t.EstimatedTokens = p.EstimatedTokens
	t.EstimatedSeconds = p.EstimatedSeconds
}

func statusStrings(statuses []domain.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// logWriteErr keeps lost compare-and-set races out of the error log.
func (r *taskRepository) logWriteErr(event, id string, err error, kv ...interface{}) {
	args := append([]interface{}{"id", id, "error", err}, kv...)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
		r.log.Warnw(event, args...)
	default:
		r.log.Errorw(event, args...)
	}
}
