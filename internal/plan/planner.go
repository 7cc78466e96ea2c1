package plan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nightshift/backend/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrNoPlanner is returned when no planner command is configured.
var ErrNoPlanner = errors.New("no planner configured")

// RunPlanner asks an external planner for a plan. The description goes to
// the command's stdin and a plan document is expected on stdout. The
// returned document always carries the original description.
func RunPlanner(ctx context.Context, argv []string, description string, timeout time.Duration) (*Document, error) {
	if len(argv) == 0 {
		return nil, ErrNoPlanner
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(description)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.ExecutionError{Op: "plan", TimedOut: true, Err: err}
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, &domain.ExecutionError{Op: "plan", Err: fmt.Errorf("%w: %s", err, msg)}
	}

	var doc Document
	if err := yaml.Unmarshal(stdout.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("%w: planner output is not a plan: %v", domain.ErrValidation, err)
	}
	doc.Description = description
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
