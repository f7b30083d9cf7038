package actions

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmanp/turbulence/pkg/policy"
	"github.com/farmanp/turbulence/pkg/scenario"
)

func browsePolicy() *policy.Policy {
	return &policy.Policy{
		PersonaID: "tester",
		Decisions: map[string]policy.DecisionWeights{
			"browse": {Options: map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}},
		},
	}
}

func TestDecideDeterministicWithSeed(t *testing.T) {
	action := &scenario.DecideAction{
		Base:     scenario.Base{Name: "test"},
		Decision: "browse",
	}
	pol := browsePolicy()

	runner1 := NewDecideRunner(action, pol, rand.New(rand.NewSource(12345)))
	runner2 := NewDecideRunner(action, pol, rand.New(rand.NewSource(12345)))

	var choices1, choices2 []string
	for i := 0; i < 10; i++ {
		r1, err := runner1.Execute(context.Background(), map[string]any{})
		require.NoError(t, err)
		choices1 = append(choices1, r1.Observation.Body.(map[string]any)["result"].(string))

		r2, err := runner2.Execute(context.Background(), map[string]any{})
		require.NoError(t, err)
		choices2 = append(choices2, r2.Observation.Body.(map[string]any)["result"].(string))
	}

	assert.Equal(t, choices1, choices2, "same seed must produce the same sequence")
}

func TestDecideSelectsAllOptionsEventually(t *testing.T) {
	action := &scenario.DecideAction{Base: scenario.Base{Name: "test"}, Decision: "browse"}
	runner := NewDecideRunner(action, browsePolicy(), rand.New(rand.NewSource(42)))

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		res, err := runner.Execute(context.Background(), map[string]any{})
		require.NoError(t, err)
		counts[res.Observation.Body.(map[string]any)["result"].(string)]++
	}

	assert.Greater(t, counts["a"], 0)
	assert.Greater(t, counts["b"], 0)
	assert.Greater(t, counts["c"], 0)
	// Старший вес выбирается чаще младшего
	assert.Greater(t, counts["a"], counts["c"])
}

func TestDecideZeroWeightNeverSelected(t *testing.T) {
	action := &scenario.DecideAction{Base: scenario.Base{Name: "test"}, Decision: "browse"}
	pol := &policy.Policy{
		PersonaID: "tester",
		Decisions: map[string]policy.DecisionWeights{
			"browse": {Options: map[string]float64{"always": 1.0, "never": 0.0}},
		},
	}
	runner := NewDecideRunner(action, pol, rand.New(rand.NewSource(42)))

	for i := 0; i < 100; i++ {
		res, err := runner.Execute(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "always", res.Observation.Body.(map[string]any)["result"])
	}
}

func TestDecideZeroTotalFallsBackToUniform(t *testing.T) {
	action := &scenario.DecideAction{Base: scenario.Base{Name: "test"}, Decision: "browse"}
	pol := &policy.Policy{
		PersonaID: "tester",
		Decisions: map[string]policy.DecisionWeights{
			"browse": {Options: map[string]float64{"x": 0, "y": 0}},
		},
	}
	runner := NewDecideRunner(action, pol, rand.New(rand.NewSource(7)))

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		res, err := runner.Execute(context.Background(), map[string]any{})
		require.NoError(t, err)
		require.True(t, res.Observation.OK)
		counts[res.Observation.Body.(map[string]any)["result"].(string)]++
	}

	assert.Greater(t, counts["x"], 0)
	assert.Greater(t, counts["y"], 0)
}

func TestDecideWritesOutputVar(t *testing.T) {
	action := &scenario.DecideAction{
		Base:      scenario.Base{Name: "what_next"},
		Decision:  "browse",
		OutputVar: "next_action",
	}
	runner := NewDecideRunner(action, browsePolicy(), rand.New(rand.NewSource(42)))

	existing := map[string]any{"product_id": "123"}
	res, err := runner.Execute(context.Background(), existing)
	require.NoError(t, err)

	assert.True(t, res.Observation.OK)
	assert.Equal(t, "decide", res.Observation.Protocol)
	assert.Contains(t, []string{"a", "b", "c"}, res.Context["next_action"])
	// Существующий контекст сохраняется, вход не мутируется
	assert.Equal(t, "123", res.Context["product_id"])
	_, mutated := existing["next_action"]
	assert.False(t, mutated)
}

func TestDecideWithoutPolicy(t *testing.T) {
	action := &scenario.DecideAction{Base: scenario.Base{Name: "test"}, Decision: "browse"}
	runner := NewDecideRunner(action, nil, rand.New(rand.NewSource(42)))

	wf := map[string]any{"keep": 1}
	res, err := runner.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.False(t, res.Observation.OK)
	assert.Contains(t, res.Observation.Errors[0], "no policy")
	// Контекст не изменился
	assert.Equal(t, wf, res.Context)
}

func TestDecideUnknownDecision(t *testing.T) {
	action := &scenario.DecideAction{Base: scenario.Base{Name: "test"}, Decision: "nonexistent"}
	runner := NewDecideRunner(action, browsePolicy(), rand.New(rand.NewSource(42)))

	res, err := runner.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.False(t, res.Observation.OK)
	assert.Contains(t, res.Observation.Errors[0], "not found in policy")
}
