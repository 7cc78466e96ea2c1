package domain

import "time"

// Summary is what the notification collaborator receives when a task reaches
// a terminal status.
type Summary struct {
	TaskID      string      `json:"task_id"`
	Description string      `json:"description"`
	Status      TaskStatus  `json:"status"`
	Output      string      `json:"output"`
	Truncated   bool        `json:"truncated"`
	Usage       Usage       `json:"usage"`
	Effects     FileEffects `json:"effects"`
	Error       string      `json:"error,omitempty"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// NewSummary builds the summary for t, cutting the output at limit runes
// (limit <= 0 keeps everything).
func NewSummary(t *Task, limit int) Summary {
	s := Summary{
		TaskID:      t.ID,
		Description: t.Description,
		Status:      t.Status,
		FinishedAt:  time.Now().UTC(),
	}
	if t.FinishedAt != nil {
		s.FinishedAt = *t.FinishedAt
	}
	if t.Error != nil {
		s.Error = *t.Error
	}
	if t.Result != nil {
		s.Usage = t.Result.Usage
		s.Effects = t.Result.Effects
		s.Output, s.Truncated = truncate(t.Result.Text, limit)
	}
	return s
}

func truncate(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	r := []rune(s)
	if len(r) <= limit {
		return s, false
	}
	return string(r[:limit]) + "...", true
}
