// Package models contains the wire-level records emitted by the execution
// engine: per-action observations, per-instance and per-step records, and
// the run manifest. Consumers must ignore unknown fields.
package models

// Attempt is a single try of an HTTP request.
type Attempt struct {
	StatusCode *int    `json:"status_code"`
	Error      string  `json:"error,omitempty"`
	LatencyMs  float64 `json:"latency_ms"`
}

// PollAttempt is a single probe of a wait action.
type PollAttempt struct {
	StatusCode *int    `json:"status_code"`
	Error      string  `json:"error,omitempty"`
	Success    bool    `json:"success"`
	LatencyMs  float64 `json:"latency_ms"`
}

// Observation is the structured result of executing one action.
type Observation struct {
	OK         bool    `json:"ok"`
	Protocol   string  `json:"protocol,omitempty"`
	ActionName string  `json:"action_name"`
	Service    string  `json:"service,omitempty"`
	StatusCode *int    `json:"status_code"`
	LatencyMs  float64 `json:"latency_ms"`

	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`

	Errors   []string       `json:"errors,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Attempts holds one entry per try of an HTTP action, including a
	// single entry when the request was not retried.
	Attempts []Attempt `json:"attempts,omitempty"`

	// Branch bookkeeping. BranchTaken is "if_true" or "if_false" for branch
	// decision steps; ConditionSkipped marks actions skipped by their
	// condition (no I/O was performed).
	BranchCondition  string `json:"branch_condition,omitempty"`
	BranchResult     *bool  `json:"branch_result,omitempty"`
	BranchTaken      string `json:"branch_taken,omitempty"`
	ConditionSkipped bool   `json:"condition_skipped,omitempty"`
}

// AddError appends an error message to the observation and marks it failed.
func (o *Observation) AddError(msg string) {
	o.OK = false
	o.Errors = append(o.Errors, msg)
}

// IntPtr is a convenience helper for nullable status codes.
func IntPtr(v int) *int { return &v }

// BoolPtr is a convenience helper for nullable booleans.
func BoolPtr(v bool) *bool { return &v }
