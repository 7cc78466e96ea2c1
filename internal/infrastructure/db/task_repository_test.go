package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := NewSQLite(filepath.Join(t.TempDir(), "tasks.db"), 5*time.Second, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(conn) })
	require.NoError(t, RunMigrations(conn))
	return conn
}

func newTestRepo(t *testing.T) ports.TaskRepository {
	t.Helper()
	return NewTaskRepository(newTestDB(t), logger.NewNop())
}

func committedTask(t *testing.T, repo ports.TaskRepository, desc string) *domain.Task {
	t.Helper()
	ctx := context.Background()
	task, err := repo.Create(ctx, domain.NewTask{
		Description: desc,
		Plan: &domain.Plan{
			Prompt:        desc,
			Capabilities:  []string{"Read", "Write"},
			WritablePaths: []string{t.TempDir()},
		},
	})
	require.NoError(t, err)
	task, err = repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusStaged}, domain.TaskStatusCommitted, domain.TransitionFields{})
	require.NoError(t, err)
	return task
}

func TestCreateStartsStaged(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task, err := repo.Create(ctx, domain.NewTask{Description: "  summarize the logs  "})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, domain.TaskStatusStaged, task.Status)
	assert.Equal(t, "summarize the logs", task.Description)

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.PID)

	_, err = repo.Create(ctx, domain.NewTask{Description: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListNewestFirstWithFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, domain.NewTask{Description: "a"})
	require.NoError(t, err)
	b, err := repo.Create(ctx, domain.NewTask{Description: "b"})
	require.NoError(t, err)
	c := committedTask(t, repo, "c")

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	staged := domain.TaskStatusStaged
	only, err := repo.List(ctx, &staged)
	require.NoError(t, err)
	assert.Len(t, only, 2)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task, err := repo.Create(ctx, domain.NewTask{Description: "x"})
	require.NoError(t, err)

	// STAGED cannot skip to RUNNING even if the caller lists it.
	_, err = repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusStaged}, domain.TaskStatusRunning, domain.TransitionFields{})
	var ite *domain.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, domain.TaskStatusStaged, ite.Current)

	// Precondition mismatch.
	_, err = repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusCommitted}, domain.TaskStatusCancelled, domain.TransitionFields{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	cancelled, err := repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusStaged}, domain.TaskStatusCancelled, domain.TransitionFields{})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.FinishedAt)

	// Terminal states are immutable.
	_, err = repo.Transition(ctx, task.ID, domain.AllStatuses, domain.TaskStatusStaged, domain.TransitionFields{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.Transition(ctx, "missing", []domain.TaskStatus{domain.TaskStatusStaged}, domain.TaskStatusCommitted, domain.TransitionFields{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentTransitionOnlyOneWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	task, err := repo.Create(ctx, domain.NewTask{Description: "race"})
	require.NoError(t, err)

	const callers = 8
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusStaged}, domain.TaskStatusCommitted, domain.TransitionFields{})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestAcquireForExecutionExactlyOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const tasks = 10
	for i := 0; i < tasks; i++ {
		committedTask(t, repo, "work")
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := repo.AcquireForExecution(ctx)
				if !assert.NoError(t, err) || task == nil {
					return
				}
				assert.Equal(t, domain.TaskStatusRunning, task.Status)
				assert.NotNil(t, task.StartedAt)
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, tasks)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}

	none, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAcquireForExecutionIsFIFO(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := committedTask(t, repo, "first")
	second := committedTask(t, repo, "second")

	got, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestRecordResultAndProcessHandle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	committedTask(t, repo, "run")

	task, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.SetProcess(ctx, task.ID, 4242))

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PID)
	assert.Equal(t, 4242, *got.PID)

	_, err = repo.RecordResult(ctx, task.ID, &domain.ExecutionResult{Text: "x"}, domain.TaskStatusRunning)
	assert.ErrorIs(t, err, domain.ErrValidation)

	done, err := repo.RecordResult(ctx, task.ID, &domain.ExecutionResult{Text: "hello", Success: true}, domain.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
	assert.Nil(t, done.PID)
	assert.NotNil(t, done.FinishedAt)
	require.NotNil(t, done.Result)
	assert.Equal(t, "hello", done.Result.Text)

	// Terminal results are immutable.
	_, err = repo.RecordResult(ctx, task.ID, &domain.ExecutionResult{Text: "again"}, domain.TaskStatusFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.ErrorIs(t, repo.SetProcess(ctx, task.ID, 1), domain.ErrInvalidTransition)
}

func TestRecordResultFromPausedCompletes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	committedTask(t, repo, "paused")

	task, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	_, err = repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusRunning}, domain.TaskStatusPaused, domain.TransitionFields{})
	require.NoError(t, err)

	done, err := repo.RecordResult(ctx, task.ID, &domain.ExecutionResult{Success: true}, domain.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
}

func TestRecordResultStoresError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	committedTask(t, repo, "fails")

	task, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	failed, err := repo.RecordResult(ctx, task.ID, &domain.ExecutionResult{Error: "exit status 2", ExitCode: 2}, domain.TaskStatusFailed)
	require.NoError(t, err)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "exit status 2", *failed.Error)
}

func TestUpdatePlanOnlyWhileStaged(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	dir := t.TempDir()

	task, err := repo.Create(ctx, domain.NewTask{Description: "plan me"})
	require.NoError(t, err)

	updated, err := repo.UpdatePlan(ctx, task.ID, domain.Plan{
		Prompt:        "do it",
		Capabilities:  []string{"Bash", "Read"},
		WritablePaths: []string{dir},
		NeedsVCS:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "do it", updated.Prompt)
	assert.Equal(t, domain.StringList{"Bash", "Read"}, updated.Capabilities)
	assert.Equal(t, domain.StringList{dir}, updated.WritablePaths)
	assert.True(t, updated.NeedsVCS)

	_, err = repo.UpdatePlan(ctx, task.ID, domain.Plan{WritablePaths: []string{"rel"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusStaged}, domain.TaskStatusCommitted, domain.TransitionFields{})
	require.NoError(t, err)

	// Capabilities are frozen once the task leaves STAGED.
	_, err = repo.UpdatePlan(ctx, task.ID, domain.Plan{Capabilities: []string{"Everything"}})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRequestKill(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	staged, err := repo.Create(ctx, domain.NewTask{Description: "idle"})
	require.NoError(t, err)

	_, err = repo.RequestKill(ctx, staged.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	committedTask(t, repo, "busy")
	running, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)

	flagged, err := repo.RequestKill(ctx, running.ID)
	require.NoError(t, err)
	assert.True(t, flagged.KillRequested)
}

func TestLogsAndClearAll(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	done, err := repo.Create(ctx, domain.NewTask{Description: "old"})
	require.NoError(t, err)
	require.NoError(t, repo.AppendLog(ctx, done.ID, domain.LogLevelInfo, "created"))
	require.NoError(t, repo.AppendLog(ctx, done.ID, domain.LogLevelWarn, "second"))

	logs, err := repo.Logs(ctx, done.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "created", logs[0].Message)

	tail, err := repo.Logs(ctx, done.ID, logs[0].ID)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "second", tail[0].Message)

	committedTask(t, repo, "live")
	live, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.AppendLog(ctx, live.ID, domain.LogLevelInfo, "started"))

	n, err := repo.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID(ctx, done.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	logs, err = repo.Logs(ctx, done.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	kept, err := repo.Logs(ctx, live.ID, 0)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestProcessHandleRoundTrips(t *testing.T) {
	conn := newTestDB(t)
	assert.True(t, conn.Migrator().HasColumn(&domain.Task{}, "pid"))

	repo := NewTaskRepository(conn, logger.NewNop())
	ctx := context.Background()
	committedTask(t, repo, "pid")
	task, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	require.Nil(t, task.PID)

	require.NoError(t, repo.SetProcess(ctx, task.ID, 31337))
	listed, err := repo.ListByStatuses(ctx, []domain.TaskStatus{domain.TaskStatusRunning})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].PID)
	assert.Equal(t, 31337, *listed[0].PID)

	paused, err := repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusRunning}, domain.TaskStatusPaused, domain.TransitionFields{})
	require.NoError(t, err)
	require.NotNil(t, paused.PID, "pausing keeps the handle")
	assert.Equal(t, 31337, *paused.PID)

	cancelled, err := repo.RecordResult(ctx, task.ID, &domain.ExecutionResult{Killed: true}, domain.TaskStatusCancelled)
	require.NoError(t, err)
	assert.Nil(t, cancelled.PID)
	assert.NotNil(t, cancelled.FinishedAt)
}

func TestPausedTaskFailsThroughRunning(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	committedTask(t, repo, "paused then timed out")

	task, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	_, err = repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusRunning}, domain.TaskStatusPaused, domain.TransitionFields{})
	require.NoError(t, err)

	_, err = repo.Transition(ctx, task.ID, []domain.TaskStatus{domain.TaskStatusPaused}, domain.TaskStatusFailed, domain.TransitionFields{})
	var ite *domain.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, domain.TaskStatusPaused, ite.Current)

	failed, err := repo.RecordResult(ctx, task.ID, &domain.ExecutionResult{Error: "timed out", TimedOut: true}, domain.TaskStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, failed.Status)
	assert.NotNil(t, failed.FinishedAt)
}

func TestDeleteSkipsAttachedTasks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	staged, err := repo.Create(ctx, domain.NewTask{Description: "scratch"})
	require.NoError(t, err)
	require.NoError(t, repo.AppendLog(ctx, staged.ID, domain.LogLevelInfo, "created"))

	require.NoError(t, repo.Delete(ctx, staged.ID))
	_, err = repo.GetByID(ctx, staged.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	logs, err := repo.Logs(ctx, staged.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	assert.ErrorIs(t, repo.Delete(ctx, staged.ID), domain.ErrNotFound)

	committedTask(t, repo, "busy")
	running, err := repo.AcquireForExecution(ctx)
	require.NoError(t, err)
	err = repo.Delete(ctx, running.ID)
	var ite *domain.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, domain.TaskStatusRunning, ite.Current)

	_, err = repo.GetByID(ctx, running.ID)
	assert.NoError(t, err)

	done, err := repo.RecordResult(ctx, running.ID, &domain.ExecutionResult{Success: true}, domain.TaskStatusCompleted)
	require.NoError(t, err)
	assert.NoError(t, repo.Delete(ctx, done.ID))
}
