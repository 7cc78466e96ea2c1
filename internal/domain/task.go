package domain

import (
	"strings"
	"time"
)

// ==================== ENUMS ====================

type TaskStatus string

const (
	TaskStatusStaged    TaskStatus = "staged"
	TaskStatusCommitted TaskStatus = "committed"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{
	TaskStatusStaged,
	TaskStatusCommitted,
	TaskStatusRunning,
	TaskStatusPaused,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (TaskStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", NewValidationError("unknown status %q", s)
}

// ==================== ENTITIES ====================

// Task is the unit of work tracked by the state store.
type Task struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Description string     `gorm:"type:text;not null" json:"description"`
	Status      TaskStatus `gorm:"size:16;not null;index" json:"status"`

	// Planner output. Prompt is empty until the task has been planned.
	Prompt           string     `gorm:"type:text" json:"prompt,omitempty"`
	Capabilities     StringList `gorm:"type:text" json:"capabilities"`
	WritablePaths    StringList `gorm:"type:text" json:"writable_paths"`
	WorkDir          string     `gorm:"type:text" json:"work_dir,omitempty"`
	NeedsVCS         bool       `gorm:"column:needs_vcs;not null;default:false" json:"needs_vcs"`
	EstimatedTokens  int        `json:"estimated_tokens,omitempty"`
	EstimatedSeconds int        `json:"estimated_seconds,omitempty"`

	// Process handle, present only while RUNNING or PAUSED.
	PID           *int `gorm:"column:pid" json:"pid,omitempty"`
	KillRequested bool `gorm:"not null;default:false" json:"kill_requested,omitempty"`

	CreatedAt  time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Result *ExecutionResult `gorm:"type:text" json:"result,omitempty"`
	Error  *string          `gorm:"type:text" json:"error,omitempty"`
}

func (Task) TableName() string { return "tasks" }

// ExecutionDir is the directory the agent runs in and the effect tracker scans.
// Tasks planned without an explicit work dir run in their first writable path.
func (t *Task) ExecutionDir() string {
	if t.WorkDir != "" {
		return t.WorkDir
	}
	if len(t.WritablePaths) > 0 {
		return t.WritablePaths[0]
	}
	return ""
}

// HasProcess reports whether a subprocess may be attached to the task.
func (t *Task) HasProcess() bool {
	return t.Status == TaskStatusRunning || t.Status == TaskStatusPaused
}

// NewTask is the input for creating a STAGED task. Plan may be nil when the
// planner has not run yet.
type NewTask struct {
	Description string
	Plan        *Plan
}

// TransitionFields are optional columns written together with a status change.
type TransitionFields struct {
	Error  *string
	Result *ExecutionResult
	PID    *int
}

// TaskLog is one line of a task's lifecycle log.
type TaskLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    string    `gorm:"size:36;not null;index" json:"task_id"`
	Level     string    `gorm:"size:8;not null" json:"level"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (TaskLog) TableName() string { return "task_logs" }

const (
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)
