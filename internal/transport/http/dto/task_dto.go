package dto

import (
	"github.com/nightshift/backend/internal/domain"
)

type PlanRequest struct {
	Prompt           string   `json:"prompt"`
	Capabilities     []string `json:"capabilities"`
	WritablePaths    []string `json:"writable_paths"`
	WorkDir          string   `json:"work_dir,omitempty"`
	NeedsVCS         bool     `json:"needs_vcs"`
	EstimatedTokens  int      `json:"estimated_tokens,omitempty"`
	EstimatedSeconds int      `json:"estimated_seconds,omitempty"`
}

func (p PlanRequest) ToDomain() domain.Plan {
	return domain.Plan{
		Prompt:           p.Prompt,
		Capabilities:     p.Capabilities,
		WritablePaths:    p.WritablePaths,
		WorkDir:          p.WorkDir,
		NeedsVCS:         p.NeedsVCS,
		EstimatedTokens:  p.EstimatedTokens,
		EstimatedSeconds: p.EstimatedSeconds,
	}
}

type SubmitTaskRequest struct {
	Description string       `json:"description"`
	Plan        *PlanRequest `json:"plan,omitempty"`
}

func (r SubmitTaskRequest) ToDomain() domain.NewTask {
	in := domain.NewTask{Description: r.Description}
	if r.Plan != nil {
		p := r.Plan.ToDomain()
		in.Plan = &p
	}
	return in
}

type TaskListResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Count int           `json:"count"`
}

type TaskLogsResponse struct {
	TaskID string           `json:"task_id"`
	Logs   []domain.TaskLog `json:"logs"`
}

type ClearResponse struct {
	Removed int64 `json:"removed"`
}
