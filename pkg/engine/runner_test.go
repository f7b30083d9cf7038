package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/policy"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/sut"
)

func init() {
	logger.Init("error")
}

func testServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func okJSON(body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func testSUT(baseURL string) *sut.Config {
	return &sut.Config{
		Name: "test-sut",
		Services: map[string]*sut.Service{
			"api": {
				Protocol: sut.ProtocolHTTP,
				HTTP:     &sut.HTTPService{BaseURL: baseURL, TimeoutSeconds: 2},
			},
		},
	}
}

func httpStep(name, path string, condition string) *scenario.HTTPAction {
	return &scenario.HTTPAction{
		Base:    scenario.Base{Name: name, Condition: condition},
		Service: "api",
		Method:  "GET",
		Path:    path,
	}
}

func collectSteps(t *testing.T, sc *scenario.Scenario, wfContext map[string]any, r *ScenarioRunner) []Step {
	t.Helper()
	var steps []Step
	err := r.ExecuteFlow(context.Background(), sc, wfContext, func(s Step) bool {
		steps = append(steps, s)
		return true
	})
	require.NoError(t, err)
	return steps
}

func TestConditionalSkip(t *testing.T) {
	server, calls := testServer(t, okJSON(map[string]any{"ok": true}))

	sc := &scenario.Scenario{
		ID: "skip-test",
		Flow: scenario.ActionList{
			httpStep("A", "/a", ""),
			httpStep("B", "/b", "{{should_run}}"),
			httpStep("C", "/c", ""),
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	wfContext["should_run"] = false

	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{steps[0].Index, steps[1].Index, steps[2].Index})

	assert.False(t, steps[0].Observation.ConditionSkipped)
	assert.True(t, steps[1].Observation.ConditionSkipped)
	assert.True(t, steps[1].Observation.OK)
	assert.Equal(t, 0.0, steps[1].Observation.LatencyMs)
	assert.Equal(t, "B", steps[1].Observation.ActionName)
	assert.False(t, steps[2].Observation.ConditionSkipped)

	// Пропущенный шаг не ходил в сеть
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestBranchIfFalse(t *testing.T) {
	server, calls := testServer(t, okJSON(map[string]any{"ok": true}))

	sc := &scenario.Scenario{
		ID: "branch-test",
		Flow: scenario.ActionList{
			&scenario.BranchAction{
				Base:    scenario.Base{Name: "check_status", Condition: `"{{status}}" == "declined"`},
				IfTrue:  scenario.ActionList{httpStep("retry", "/retry", "")},
				IfFalse: scenario.ActionList{httpStep("confirm", "/confirm", "")},
			},
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	wfContext["status"] = "approved"

	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 2)

	decision := steps[0].Observation
	assert.Equal(t, "if_false", decision.BranchTaken)
	require.NotNil(t, decision.BranchResult)
	assert.False(t, *decision.BranchResult)
	assert.True(t, decision.OK)

	assert.Equal(t, "confirm", steps[1].Observation.ActionName)
	assert.Equal(t, 1, steps[1].Index)

	// retry не выполнялся
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestBranchIfTrueWithLastResponse(t *testing.T) {
	server, _ := testServer(t, okJSON(map[string]any{"ok": true}))

	sc := &scenario.Scenario{
		ID: "branch-ctx",
		Flow: scenario.ActionList{
			&scenario.BranchAction{
				Base:    scenario.Base{Name: "on_success", Condition: "{{last_response.status_code}} == 200"},
				IfTrue:  scenario.ActionList{httpStep("success_step", "/ok", "")},
				IfFalse: scenario.ActionList{httpStep("fail_step", "/fail", "")},
			},
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	wfContext["last_response"] = map[string]any{"status_code": 200}

	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 2)
	assert.Equal(t, "if_true", steps[0].Observation.BranchTaken)
	assert.Equal(t, "success_step", steps[1].Observation.ActionName)
}

func TestBranchContextPropagation(t *testing.T) {
	server, _ := testServer(t, okJSON(map[string]any{"token": "tok-123"}))

	inner := httpStep("login", "/login", "")
	inner.Extract = map[string]string{"auth_token": "$.token"}

	sc := &scenario.Scenario{
		ID: "branch-propagation",
		Flow: scenario.ActionList{
			&scenario.BranchAction{
				Base:    scenario.Base{Name: "always", Condition: "true"},
				IfTrue:  scenario.ActionList{inner},
				IfFalse: scenario.ActionList{},
			},
			httpStep("after", "/after/{{auth_token}}", ""),
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 3)
	// Извлечённое во вложенном шаге значение видно последующим шагам
	assert.Equal(t, "tok-123", steps[2].Context["auth_token"])
	assert.True(t, steps[2].Observation.OK)
}

func TestLastResponseUpdatedOnlyByHTTPAndWait(t *testing.T) {
	server, _ := testServer(t, okJSON(map[string]any{"status": "created"}))

	sc := &scenario.Scenario{
		ID: "last-response",
		Flow: scenario.ActionList{
			httpStep("create", "/create", ""),
			&scenario.DecideAction{Base: scenario.Base{Name: "pick"}, Decision: "browse"},
		},
	}

	pol := map[string]*policy.Policy{
		"tester": {
			PersonaID: "tester",
			Decisions: map[string]policy.DecisionWeights{
				"browse": {Options: map[string]float64{"a": 1}},
			},
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)),
		WithPolicies(pol), WithSeed(1))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 2)

	last1 := steps[0].Context[KeyLastResponse].(map[string]any)
	last2 := steps[1].Context[KeyLastResponse].(map[string]any)
	// decide не трогает last_response
	assert.Equal(t, last1["status_code"], last2["status_code"])
	assert.Equal(t, last1["body"], last2["body"])
}

func TestStopOnActionFailure(t *testing.T) {
	server, calls := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	sc := &scenario.Scenario{
		ID: "stop-on-fail",
		Flow: scenario.ActionList{
			httpStep("first", "/1", ""),
			httpStep("second", "/2", ""),
		},
		StopWhen: scenario.StopCondition{AnyActionFails: true},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 1)
	assert.False(t, steps[0].Observation.OK)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestMaxStepsCap(t *testing.T) {
	server, _ := testServer(t, okJSON(map[string]any{}))

	flow := scenario.ActionList{}
	for i := 0; i < 10; i++ {
		flow = append(flow, httpStep("step", "/s", ""))
	}

	sc := &scenario.Scenario{
		ID:       "max-steps",
		Flow:     flow,
		StopWhen: scenario.StopCondition{MaxSteps: 3},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	assert.Len(t, steps, 3)
}

func TestMalformedActionConditionDoesNotSkip(t *testing.T) {
	server, calls := testServer(t, okJSON(map[string]any{}))

	// Условие с несуществующим ключом: safe-вычисление с default true,
	// действие выполняется
	sc := &scenario.Scenario{
		ID: "bad-condition",
		Flow: scenario.ActionList{
			httpStep("run_anyway", "/x", "{{definitely.missing}} == 1"),
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 1)
	assert.False(t, steps[0].Observation.ConditionSkipped)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestMalformedBranchConditionTakesFalse(t *testing.T) {
	server, _ := testServer(t, okJSON(map[string]any{}))

	sc := &scenario.Scenario{
		ID: "bad-branch",
		Flow: scenario.ActionList{
			&scenario.BranchAction{
				Base:    scenario.Base{Name: "broken", Condition: "{{definitely.missing}} == 1"},
				IfTrue:  scenario.ActionList{httpStep("true_step", "/t", "")},
				IfFalse: scenario.ActionList{httpStep("false_step", "/f", "")},
			},
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 2)
	assert.Equal(t, "if_false", steps[0].Observation.BranchTaken)
	assert.Equal(t, "false_step", steps[1].Observation.ActionName)
}

func TestTemplateErrorMarksStepFailed(t *testing.T) {
	server, calls := testServer(t, okJSON(map[string]any{}))

	sc := &scenario.Scenario{
		ID: "template-error",
		Flow: scenario.ActionList{
			httpStep("broken", "/orders/{{missing_id}}", ""),
		},
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", nil)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 1)
	assert.False(t, steps[0].Observation.OK)
	assert.NotEmpty(t, steps[0].Observation.Errors)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))

	var obs models.Observation = steps[0].Observation
	assert.Equal(t, "http", obs.Protocol)
}

func TestStepDelayFromVariation(t *testing.T) {
	server, _ := testServer(t, okJSON(map[string]any{}))

	entry := map[string]any{
		"seed_data": map[string]any{
			"variation": map[string]any{
				"_step_delay_ms":    40,
				"_timing_jitter_ms": 5,
			},
		},
	}

	sc := &scenario.Scenario{
		ID: "delays",
		Flow: scenario.ActionList{
			httpStep("first", "/1", ""),
			httpStep("second", "/2", ""),
		},
	}

	var slept []int64
	sleeper := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d.Milliseconds())
		return nil
	}

	wfContext := NewWorkflowContext("i-1", "r-1", "c-1", entry)
	runner := NewScenarioRunner(nil, testSUT(server.URL), NewClientPool(testSUT(server.URL)),
		WithSleeper(sleeper))
	steps := collectSteps(t, sc, wfContext, runner)

	require.Len(t, steps, 2)
	// Первый шаг: только джиттер; второй: задержка + джиттер
	require.Len(t, slept, 2)
	assert.Equal(t, int64(5), slept[0])
	assert.Equal(t, int64(45), slept[1])
}
