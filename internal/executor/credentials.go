package executor

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// CredentialHelper fetches a short-lived version-control token from the
// host's credential helper (gh auth token by default).
type CredentialHelper struct {
	command []string
	envVars []string
	timeout time.Duration
	log     *logger.Logger
}

func NewCredentialHelper(cfg config.AgentConfig, log *logger.Logger) *CredentialHelper {
	return &CredentialHelper{
		command: cfg.CredentialHelper,
		envVars: cfg.TokenEnv,
		timeout: 10 * time.Second,
		log:     log,
	}
}

// Env returns NAME=token pairs for the subprocess. A missing or failing
// helper is logged and yields no variables; the run goes ahead without them.
func (h *CredentialHelper) Env(ctx context.Context) []string {
	if len(h.command) == 0 || len(h.envVars) == 0 {
		return nil
	}
	path, err := exec.LookPath(h.command[0])
	if err != nil {
		h.log.Warnw("credential_helper_missing", "helper", h.command[0], "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, h.command[1:]...).Output()
	if err != nil {
		h.log.Warnw("credential_helper_failed", "helper", strings.Join(h.command, " "), "error", err)
		return nil
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		h.log.Warnw("credential_helper_empty", "helper", strings.Join(h.command, " "))
		return nil
	}

	env := make([]string, 0, len(h.envVars))
	for _, name := range h.envVars {
		env = append(env, name+"="+token)
	}
	return env
}
