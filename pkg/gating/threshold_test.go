package gating

import (
	"testing"

	"github.com/farmanp/turbulence/pkg/models"
)

func summary() *models.RunSummary {
	return &models.RunSummary{
		Total:        100,
		PassCount:    99,
		FailCount:    1,
		ErrorCount:   0,
		PassRate:     99.0,
		P50LatencyMs: 120,
		P95LatencyMs: 480,
		P99LatencyMs: 900,
	}
}

func TestParseValid(t *testing.T) {
	th, err := Parse("pass_rate>=99.5")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if th.Metric != "pass_rate" || th.Operator != ">=" || th.Value != 99.5 {
		t.Errorf("Parse() = %+v", th)
	}
}

func TestParseWithSpaces(t *testing.T) {
	th, err := Parse("  p95_latency_ms < 500 ")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if th.Metric != "p95_latency_ms" || th.Operator != "<" || th.Value != 500 {
		t.Errorf("Parse() = %+v", th)
	}
}

func TestParseInvalidSyntax(t *testing.T) {
	for _, s := range []string{"", "pass_rate", "pass_rate=99", "pass_rate>>1", ">99"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error", s)
		}
	}
}

func TestParseUnknownMetric(t *testing.T) {
	if _, err := Parse("bogus_metric>1"); err == nil {
		t.Error("Parse() expected error for unknown metric")
	}
}

func TestEvaluatePassRate(t *testing.T) {
	th, _ := Parse("pass_rate>=99")
	passed, actual, _ := th.Evaluate(summary())
	if !passed {
		t.Error("pass_rate>=99 should pass at 99.0")
	}
	if actual != 99.0 {
		t.Errorf("actual = %v", actual)
	}

	th, _ = Parse("pass_rate>=99.5")
	passed, _, _ = th.Evaluate(summary())
	if passed {
		t.Error("pass_rate>=99.5 should fail at 99.0")
	}
}

func TestEvaluatePassRateRatioScaling(t *testing.T) {
	// Порог задан долей (0.99), summary отдаёт проценты
	th, _ := Parse("pass_rate>=0.99")
	passed, _, _ := th.Evaluate(summary())
	if !passed {
		t.Error("ratio threshold 0.99 should be scaled to 99 and pass")
	}
}

func TestEvaluateLatency(t *testing.T) {
	th, _ := Parse("p95_latency_ms<500")
	passed, _, _ := th.Evaluate(summary())
	if !passed {
		t.Error("p95_latency_ms<500 should pass at 480")
	}

	th, _ = Parse("p99_latency_ms<500")
	passed, _, _ = th.Evaluate(summary())
	if passed {
		t.Error("p99_latency_ms<500 should fail at 900")
	}
}

func TestEvaluateCounts(t *testing.T) {
	th, _ := Parse("fail_count<=1")
	passed, _, _ := th.Evaluate(summary())
	if !passed {
		t.Error("fail_count<=1 should pass")
	}

	th, _ = Parse("error_count<1")
	passed, _, _ = th.Evaluate(summary())
	if !passed {
		t.Error("error_count<1 should pass at 0")
	}
}

func TestParseAll(t *testing.T) {
	thresholds, err := ParseAll([]string{"pass_rate>=99", "p95_latency_ms<500"})
	if err != nil {
		t.Fatalf("ParseAll() error = %v", err)
	}
	if len(thresholds) != 2 {
		t.Errorf("ParseAll() len = %d", len(thresholds))
	}

	if _, err := ParseAll([]string{"pass_rate>=99", "bogus"}); err == nil {
		t.Error("ParseAll() expected error")
	}
}
