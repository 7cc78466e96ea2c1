package services

import (
	"context"
	"testing"

	"github.com/nightshift/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskServiceSubmitReviseApprove(t *testing.T) {
	h := newHarness(t, echoHelloAgent, nil)
	ctx := context.Background()

	task, err := h.tasks.Submit(ctx, domain.NewTask{Description: "  refactor the parser  "})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusStaged, task.Status)
	assert.Equal(t, "refactor the parser", task.Description)

	_, err = h.tasks.Approve(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrValidation, "approving without writable paths")

	dir := t.TempDir()
	revised, err := h.tasks.Revise(ctx, task.ID, domain.Plan{
		Prompt:        "rewrite parse.go",
		Capabilities:  []string{"Edit", "Edit", " Bash "},
		WritablePaths: []string{dir + "/"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Edit", "Bash"}, []string(revised.Capabilities))
	assert.Equal(t, []string{dir}, []string(revised.WritablePaths))

	approved, err := h.tasks.Approve(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCommitted, approved.Status)

	_, err = h.tasks.Revise(ctx, task.ID, domain.Plan{WritablePaths: []string{dir}})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "committed plans are frozen")

	_, err = h.tasks.Approve(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	logs, err := h.tasks.Logs(ctx, task.ID, 0)
	require.NoError(t, err)
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Message)
	}
	assert.Equal(t, []string{"task staged", "plan revised", "task approved"}, messages)
}

func TestTaskServiceSubmitRejectsBadInput(t *testing.T) {
	h := newHarness(t, echoHelloAgent, nil)
	ctx := context.Background()

	_, err := h.tasks.Submit(ctx, domain.NewTask{Description: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.tasks.Submit(ctx, domain.NewTask{
		Description: "relative",
		Plan:        &domain.Plan{WritablePaths: []string{"src"}},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTaskServiceCancelBeforeRun(t *testing.T) {
	h := newHarness(t, echoHelloAgent, nil)
	ctx := context.Background()

	staged, err := h.tasks.Submit(ctx, domain.NewTask{Description: "never mind"})
	require.NoError(t, err)
	cancelled, err := h.tasks.Cancel(ctx, staged.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, "cancelled by user", *cancelled.Error)
	assert.Nil(t, cancelled.Result)

	committed := h.submitApproved(t, "also never mind")
	cancelled, err = h.tasks.Cancel(ctx, committed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)

	// Terminal tasks stay terminal.
	_, err = h.tasks.Cancel(ctx, committed.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.tasks.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskServiceCancelRunningKills(t *testing.T) {
	h := newHarness(t, `sleep 30`, nil)
	task := h.submitApproved(t, "runaway")
	require.NoError(t, h.sched.Start(context.Background()))
	h.waitStatus(t, task.ID, domain.TaskStatusRunning)
	h.waitPID(t, task.ID)

	cancelled, err := h.tasks.Cancel(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Result)
	assert.True(t, cancelled.Result.Killed)
}

func TestTaskServiceListAndClear(t *testing.T) {
	h := newHarness(t, echoHelloAgent, nil)
	ctx := context.Background()

	first, err := h.tasks.Submit(ctx, domain.NewTask{Description: "first"})
	require.NoError(t, err)
	second := h.submitApproved(t, "second")

	all, err := h.tasks.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	staged := domain.TaskStatusStaged
	only, err := h.tasks.List(ctx, &staged)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, first.ID, only[0].ID)

	n, err := h.tasks.ClearAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = h.tasks.Get(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.tasks.Logs(ctx, first.ID, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
