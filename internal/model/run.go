package model

import "time"

// RunStatus is the lifecycle state of a pipeline run record.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunResult summarizes what one pipeline invocation did. Counts partition
// the planned universe: every work item lands in exactly one bucket.
type RunResult struct {
	Planned   int `json:"planned"`
	Skipped   int `json:"skipped"`
	Extracted int `json:"extracted"`
	NoFiling  int `json:"no_filing"`
	Failed    int `json:"failed"`

	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

// Run is one recorded pipeline invocation.
type Run struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Status     RunStatus  `json:"status"`
	Result     *RunResult `json:"result,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
