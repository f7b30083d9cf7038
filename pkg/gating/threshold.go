// Package gating parses and evaluates CI gating thresholds such as
// "pass_rate>=99.5" against a run summary.
package gating

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/models"
)

// thresholdPattern parses "metric operator value", e.g. "pass_rate<0.99"
// or "p95_latency_ms>=1000".
var thresholdPattern = regexp.MustCompile(`^(?P<metric>[a-zA-Z0-9_]+)\s*(?P<operator><=|>=|<|>)\s*(?P<value>[0-9.]+)\s*$`)

// supportedMetrics maps metric names to extractors over RunSummary.
var supportedMetrics = map[string]func(*models.RunSummary) float64{
	"pass_rate":      func(s *models.RunSummary) float64 { return s.PassRate },
	"fail_count":     func(s *models.RunSummary) float64 { return float64(s.FailCount) },
	"error_count":    func(s *models.RunSummary) float64 { return float64(s.ErrorCount) },
	"p50_latency_ms": func(s *models.RunSummary) float64 { return s.P50LatencyMs },
	"p95_latency_ms": func(s *models.RunSummary) float64 { return s.P95LatencyMs },
	"p99_latency_ms": func(s *models.RunSummary) float64 { return s.P99LatencyMs },
}

// Threshold is a single gating threshold.
type Threshold struct {
	Metric   string
	Operator string
	Value    float64
	Raw      string
}

// Parse parses a threshold string like "pass_rate>95".
func Parse(s string) (*Threshold, error) {
	match := thresholdPattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return nil, apperror.Newf(apperror.CodeInvalidThreshold,
			"invalid threshold syntax %q, expected metric<op>value (e.g. pass_rate>=99.5)", s)
	}

	metric := match[1]
	operator := match[2]
	valueStr := match[3]

	if _, ok := supportedMetrics[metric]; !ok {
		names := make([]string, 0, len(supportedMetrics))
		for name := range supportedMetrics {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, apperror.Newf(apperror.CodeInvalidThreshold,
			"unknown metric %q, available: %s", metric, strings.Join(names, ", "))
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return nil, apperror.Newf(apperror.CodeInvalidThreshold, "invalid numeric value %q", valueStr)
	}

	return &Threshold{Metric: metric, Operator: operator, Value: value, Raw: s}, nil
}

// ParseAll parses a list of threshold strings, collecting all of them or
// failing on the first invalid one.
func ParseAll(specs []string) ([]*Threshold, error) {
	out := make([]*Threshold, 0, len(specs))
	for _, s := range specs {
		t, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Evaluate checks the threshold against a run summary.
// Returns (passed, actual value, human-readable message).
func (t *Threshold) Evaluate(summary *models.RunSummary) (bool, float64, string) {
	actual := supportedMetrics[t.Metric](summary)

	// pass_rate given as a ratio (<= 1.0) is scaled up when the summary
	// reports a percentage.
	value := t.Value
	if t.Metric == "pass_rate" && value <= 1.0 && actual > 1.0 {
		value *= 100.0
	}

	var passed bool
	switch t.Operator {
	case "<":
		passed = actual < value
	case ">":
		passed = actual > value
	case "<=":
		passed = actual <= value
	case ">=":
		passed = actual >= value
	}

	status := "PASSED"
	if !passed {
		status = "FAILED"
	}
	message := fmt.Sprintf("Threshold %s: %s (%.2f) %s %v", status, t.Metric, actual, t.Operator, value)

	return passed, actual, message
}
