package ports

import (
	"context"

	"github.com/nightshift/backend/internal/domain"
)

// TaskRepository is the durable State Store. Every mutation of a task's status
// goes through a conditional update so concurrent callers with the same
// precondition never both succeed.
type TaskRepository interface {
	Create(ctx context.Context, in domain.NewTask) (*domain.Task, error)
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	// List returns tasks newest first, optionally filtered by status.
	List(ctx context.Context, status *domain.TaskStatus) ([]domain.Task, error)
	ListByStatuses(ctx context.Context, statuses []domain.TaskStatus) ([]domain.Task, error)

	Transition(ctx context.Context, id string, fromAllowed []domain.TaskStatus, to domain.TaskStatus, fields domain.TransitionFields) (*domain.Task, error)
	// AcquireForExecution claims the oldest COMMITTED task and moves it to
	// RUNNING. It returns nil, nil when nothing is claimable.
	AcquireForExecution(ctx context.Context) (*domain.Task, error)
	RecordResult(ctx context.Context, id string, result *domain.ExecutionResult, final domain.TaskStatus) (*domain.Task, error)

	UpdatePlan(ctx context.Context, id string, plan domain.Plan) (*domain.Task, error)
	SetProcess(ctx context.Context, id string, pid int) error
	RequestKill(ctx context.Context, id string) (*domain.Task, error)

	// Delete removes a task without an attached process, with its logs.
	Delete(ctx context.Context, id string) error
	// ClearAll removes every task without an attached process, with its logs.
	ClearAll(ctx context.Context) (int64, error)

	AppendLog(ctx context.Context, taskID, level, message string) error
	Logs(ctx context.Context, taskID string, afterID uint) ([]domain.TaskLog, error)
}
