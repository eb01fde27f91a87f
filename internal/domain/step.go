// SPDX-License-Identifier: Apache-2.0

package domain

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
	StepSkipped   StepStatus = "skipped"
)

// Done reports whether the step no longer blocks the steps after it.
func (s StepStatus) Done() bool {
	return s == StepCompleted || s == StepSkipped
}

// StepPhase tags which part of a step produced a recorded result.
type StepPhase string

const (
	PhaseValidation StepPhase = "validation"
	PhaseSkip       StepPhase = "skip"
	PhaseExecution  StepPhase = "execution"
)

type StepResult struct {
	Success bool           `json:"success"`
	TxHash  string         `json:"tx_hash,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SkippedResult is the result recorded for a skipped step.
func SkippedResult() StepResult {
	return StepResult{
		Success: true,
		Data:    map[string]any{"skipped": true},
	}
}

// FailedResult is the result recorded for a failed step.
func FailedResult(phase StepPhase, message string) StepResult {
	return StepResult{
		Success: false,
		Error:   message,
		Data:    map[string]any{"phase": string(phase)},
	}
}
