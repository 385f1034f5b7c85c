// File: api/schemas/result.go
package schemas

import "time"

// RunState is the lifecycle state of a fill run.
type RunState string

const (
	RunIdle      RunState = "IDLE"
	RunRunning   RunState = "RUNNING"
	RunCompleted RunState = "COMPLETED"
)

// ErrorKind names the class of failure recorded against a key.
type ErrorKind string

const (
	ErrorNotFound    ErrorKind = "not-found"
	ErrorValidation  ErrorKind = "validation"
	ErrorRecoverable ErrorKind = "recoverable"
	ErrorCritical    ErrorKind = "critical"
)

// FieldError is a per-key failure in a RunResult.
type FieldError struct {
	Key     FieldKey  `json:"key" yaml:"key"`
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

// SkippedField is a key that was resolved but intentionally left untouched.
type SkippedField struct {
	Key    FieldKey `json:"key" yaml:"key"`
	Reason string   `json:"reason" yaml:"reason"`
}

// RunResult is the outcome of one fill run. Success holds exactly when
// Errors is empty.
type RunResult struct {
	RunID        string         `json:"runId" yaml:"run_id"`
	Success      bool           `json:"success" yaml:"success"`
	FilledFields []FieldKey     `json:"filledFields" yaml:"filled_fields"`
	Errors       []FieldError   `json:"errors" yaml:"errors"`
	Skipped      []SkippedField `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Steps        int            `json:"steps" yaml:"steps"`
	StartedAt    time.Time      `json:"startedAt" yaml:"started_at"`
	Duration     time.Duration  `json:"duration" yaml:"duration"`
}

// AddError records a failure and clears Success.
func (r *RunResult) AddError(key FieldKey, kind ErrorKind, message string) {
	r.Errors = append(r.Errors, FieldError{Key: key, Kind: kind, Message: message})
	r.Success = false
}

// ErrorFor returns the recorded failure for key, if any.
func (r *RunResult) ErrorFor(key FieldKey) (FieldError, bool) {
	for _, e := range r.Errors {
		if e.Key == key {
			return e, true
		}
	}
	return FieldError{}, false
}

// RunStatus is a point-in-time view of an in-progress run.
type RunStatus struct {
	RunID     string        `json:"runId" yaml:"run_id"`
	State     RunState      `json:"state" yaml:"state"`
	Total     int           `json:"total" yaml:"total"`
	Processed int           `json:"processed" yaml:"processed"`
	Filled    int           `json:"filled" yaml:"filled"`
	Failed    int           `json:"failed" yaml:"failed"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Step      int           `json:"step" yaml:"step"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// RunRecord is a persisted summary of a finished run.
type RunRecord struct {
	RunID     string        `json:"runId" yaml:"run_id"`
	PageURL   string        `json:"pageUrl" yaml:"page_url"`
	Success   bool          `json:"success" yaml:"success"`
	Filled    int           `json:"filled" yaml:"filled"`
	Failed    int           `json:"failed" yaml:"failed"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Steps     int           `json:"steps" yaml:"steps"`
	StartedAt time.Time     `json:"startedAt" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}
