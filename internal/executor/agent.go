package executor

import (
	"context"
	"strings"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/effects"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// Agent runs one task: credential shaping, effect tracking around the
// subprocess, and a trace span.
type Agent struct {
	runner  ports.Runner
	tracker *effects.Tracker
	creds   *CredentialHelper
	log     *logger.Logger
}

var _ ports.Agent = (*Agent)(nil)

func NewAgent(runner ports.Runner, tracker *effects.Tracker, creds *CredentialHelper, log *logger.Logger) *Agent {
	return &Agent{runner: runner, tracker: tracker, creds: creds, log: log}
}

func (a *Agent) Run(ctx context.Context, task *domain.Task, opts ports.RunOptions) (*domain.ExecutionResult, error) {
	ctx, span := startRunSpan(ctx, task, opts.Sandboxed)

	prompt := task.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = task.Description
	}

	var env []string
	if task.NeedsVCS && a.creds != nil {
		env = a.creds.Env(ctx)
	}

	inv := ports.Invocation{
		TaskID:       task.ID,
		Prompt:       prompt,
		Capabilities: task.Capabilities,
		WorkDir:      task.ExecutionDir(),
		Env:          env,
		Timeout:      opts.Timeout,
		Wrap:         opts.Wrap,
		OnStart:      opts.OnStart,
	}

	var res *domain.ExecutionResult
	var runErr error
	fx := a.tracker.Track(inv.WorkDir, func() {
		res, runErr = a.runner.Run(ctx, inv)
	})
	if res == nil {
		res = &domain.ExecutionResult{ExitCode: -1}
		if runErr != nil {
			res.Error = runErr.Error()
		}
	}
	res.Effects = fx
	res.Sandboxed = opts.Sandboxed

	a.log.Infow("agent_run_done",
		"task_id", task.ID,
		"success", res.Success,
		"created", len(fx.Created),
		"modified", len(fx.Modified),
		"deleted", len(fx.Deleted),
		"partial_effects", fx.Partial,
	)
	endRunSpan(span, res, runErr)
	return res, runErr
}
