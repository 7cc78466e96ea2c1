package process

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
	})
	go func() { _ = cmd.Wait() }()
	return cmd
}

func TestSuspendContinueTerminate(t *testing.T) {
	c := NewController(logger.NewNop())
	cmd := startSleeper(t)
	pid := cmd.Process.Pid

	require.True(t, c.Alive(pid))
	require.NoError(t, c.Suspend(pid))
	require.NoError(t, c.Continue(pid))

	require.NoError(t, c.Terminate(context.Background(), pid, 2*time.Second))
	assert.Eventually(t, func() bool { return !c.Alive(pid) }, 3*time.Second, 20*time.Millisecond)
}

func TestTerminateMissingProcessIsNoop(t *testing.T) {
	c := NewController(logger.NewNop())
	assert.NoError(t, c.Terminate(context.Background(), 0, time.Millisecond))
	assert.False(t, c.Alive(0))
	assert.ErrorIs(t, c.Suspend(-1), ErrNoProcess)
}

func TestSamplerTracksRunningProcess(t *testing.T) {
	cmd := startSleeper(t)
	s := NewSampler(cmd.Process.Pid, 10*time.Millisecond)
	assert.True(t, s.Sample())
	assert.Greater(t, s.Usage().PeakRSSBytes, uint64(0))
}

func TestStartedAfterGuardsPidReuse(t *testing.T) {
	c := NewController(logger.NewNop())
	before := time.Now().Add(-5 * time.Second)
	cmd := startSleeper(t)

	assert.True(t, c.StartedAfter(cmd.Process.Pid, before))
	assert.False(t, c.StartedAfter(cmd.Process.Pid, time.Now().Add(time.Hour)))
}
