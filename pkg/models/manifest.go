package models

import "time"

// RunConfig captures the parameters a run was launched with. It is embedded
// in the manifest so that artifacts are self-describing.
type RunConfig struct {
	Instances      int      `json:"instances" yaml:"instances"`
	Parallelism    int      `json:"parallelism" yaml:"parallelism"`
	Seed           int64    `json:"seed" yaml:"seed"`
	FailOn         []string `json:"fail_on,omitempty" yaml:"fail_on,omitempty"`
	StepDelayMs    int      `json:"step_delay_ms,omitempty" yaml:"step_delay_ms,omitempty"`
	TimingJitterMs int      `json:"timing_jitter_ms,omitempty" yaml:"timing_jitter_ms,omitempty"`
}

// RunManifest describes one run: the artifact header written before any
// instance is dispatched.
type RunManifest struct {
	RunID       string     `json:"run_id"`
	Timestamp   time.Time  `json:"timestamp"`
	SUTName     string     `json:"sut_name"`
	ScenarioIDs []string   `json:"scenario_ids"`
	Seed        int64      `json:"seed"`
	Config      *RunConfig `json:"config,omitempty"`
}

// InstanceRecord is the terminal record of one scenario instance.
type InstanceRecord struct {
	InstanceID    string         `json:"instance_id"`
	RunID         string         `json:"run_id"`
	ScenarioID    string         `json:"scenario_id"`
	CorrelationID string         `json:"correlation_id"`
	Passed        bool           `json:"passed"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	EntryData     map[string]any `json:"entry_data,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// StepRecord is emitted once per visited action node. StepIndex values are
// unique and monotonically increasing within an instance.
type StepRecord struct {
	InstanceID    string      `json:"instance_id"`
	RunID         string      `json:"run_id"`
	CorrelationID string      `json:"correlation_id"`
	StepIndex     int         `json:"step_index"`
	StepName      string      `json:"step_name"`
	StepType      string      `json:"step_type"`
	Timestamp     time.Time   `json:"timestamp"`
	Observation   Observation `json:"observation"`
}

// AssertionResult is a single check produced by an assert action, before it
// is bound to an instance/step.
type AssertionResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Message  string `json:"message,omitempty"`
}

// AssertionRecord is one persisted assertion check.
type AssertionRecord struct {
	InstanceID    string    `json:"instance_id"`
	RunID         string    `json:"run_id"`
	CorrelationID string    `json:"correlation_id"`
	StepIndex     int       `json:"step_index"`
	AssertionName string    `json:"assertion_name"`
	Passed        bool      `json:"passed"`
	Expected      any       `json:"expected,omitempty"`
	Actual        any       `json:"actual,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RunSummary aggregates instance outcomes for gating. PassRate is a
// percentage in [0, 100].
type RunSummary struct {
	Total        int     `json:"total"`
	PassCount    int     `json:"pass_count"`
	FailCount    int     `json:"fail_count"`
	ErrorCount   int     `json:"error_count"`
	PassRate     float64 `json:"pass_rate"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
}
