package domain

import "time"

// ExecutionResult is produced once per completed run and owned by its task.
// A retried task gets a new result; results are never merged.
type ExecutionResult struct {
	Text      string           `json:"text"`
	RawOutput string           `json:"raw_output"`
	Logs      []string         `json:"logs,omitempty"`
	Usage     Usage            `json:"usage"`
	ToolCalls []CapabilityCall `json:"tool_calls,omitempty"`
	Effects   FileEffects      `json:"effects"`

	ExitCode   int           `json:"exit_code"`
	Success    bool          `json:"success"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Killed     bool          `json:"killed,omitempty"`
	Sandboxed  bool          `json:"sandboxed"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Usage aggregates the resource counters of one run.
type Usage struct {
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int64   `json:"cache_creation_tokens,omitempty"`
	CostUSD             float64 `json:"cost_usd,omitempty"`
	Turns               int     `json:"turns,omitempty"`
	CPUSeconds          float64 `json:"cpu_seconds,omitempty"`
	PeakRSSBytes        uint64  `json:"peak_rss_bytes,omitempty"`
}

// TotalTokens is input plus output tokens.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// CapabilityCall records one capability the agent invoked, with its raw arguments.
type CapabilityCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// FileEffects is the before/after diff of the task's working directory.
type FileEffects struct {
	Created  []string `json:"created"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
	Partial  bool     `json:"partial,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Empty reports whether no effect was detected.
func (e FileEffects) Empty() bool {
	return len(e.Created) == 0 && len(e.Modified) == 0 && len(e.Deleted) == 0
}
