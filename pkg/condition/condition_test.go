package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleEquality(t *testing.T) {
	e := NewEvaluator(nil)

	result, rendered, err := e.Evaluate(`"{{status}}" == "declined"`, map[string]any{"status": "declined"})
	require.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, `"declined" == "declined"`, rendered)

	result, rendered, err = e.Evaluate(`"{{status}}" == "declined"`, map[string]any{"status": "approved"})
	require.NoError(t, err)
	assert.False(t, result)
	assert.Equal(t, `"approved" == "declined"`, rendered)
}

func TestNumericComparison(t *testing.T) {
	e := NewEvaluator(nil)

	result, rendered, err := e.Evaluate("{{amount}} > 100", map[string]any{"amount": 150})
	require.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, "150 > 100", rendered)

	result, _, err = e.Evaluate("{{amount}} <= 100", map[string]any{"amount": 50})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestBooleanFromContext(t *testing.T) {
	e := NewEvaluator(nil)

	result, rendered, err := e.Evaluate("{{is_premium}}", map[string]any{"is_premium": true})
	require.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, "True", rendered)

	result, rendered, err = e.Evaluate("{{is_premium}}", map[string]any{"is_premium": false})
	require.NoError(t, err)
	assert.False(t, result)
	assert.Equal(t, "False", rendered)
}

func TestShortCircuits(t *testing.T) {
	e := NewEvaluator(nil)

	result, _, err := e.Evaluate("", map[string]any{})
	require.NoError(t, err)
	assert.True(t, result, "empty condition is true")

	result, _, err = e.Evaluate("true", map[string]any{})
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = e.Evaluate("false", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result)

	result, _, err = e.Evaluate("1", map[string]any{})
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = e.Evaluate("0", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestBooleanOperators(t *testing.T) {
	e := NewEvaluator(nil)
	context := map[string]any{"a": 10, "b": 20}

	result, _, err := e.Evaluate("{{a}} > 5 and {{b}} > 15", context)
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = e.Evaluate("{{a}} > 50 or {{b}} > 15", context)
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = e.Evaluate("not {{is_active}}", map[string]any{"is_active": false})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestNestedContextAccess(t *testing.T) {
	e := NewEvaluator(nil)
	context := map[string]any{"user": map[string]any{"role": "admin"}}

	result, _, err := e.Evaluate(`"{{user.role}}" == "admin"`, context)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestBodyAndHeadersBindings(t *testing.T) {
	e := NewEvaluator(nil)
	context := map[string]any{
		"last_response": map[string]any{
			"status_code": 200,
			"body":        map[string]any{"status": "ready", "count": 3},
			"headers":     map[string]string{"Content-Type": "application/json"},
		},
	}

	result, _, err := e.Evaluate(`body.get("status") == "ready"`, context)
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = e.Evaluate(`body.count > 2`, context)
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = e.Evaluate(`headers.get("Content-Type") == "application/json"`, context)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestContextMembership(t *testing.T) {
	e := NewEvaluator(nil)
	context := map[string]any{"status": "pending"}

	result, _, err := e.Evaluate(`context.get("status") in ["pending", "processing"]`, context)
	require.NoError(t, err)
	assert.True(t, result)

	result, _, err = e.Evaluate(`context.get("status") not in ["pending", "processing"]`,
		map[string]any{"status": "completed"})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateSafe(t *testing.T) {
	e := NewEvaluator(nil)

	// Ошибка шаблона: действует значение по умолчанию
	result, _ := e.EvaluateSafe("{{missing.key}} == 1", map[string]any{}, true)
	assert.True(t, result)

	result, _ = e.EvaluateSafe("{{missing.key}} == 1", map[string]any{}, false)
	assert.False(t, result)

	// Корректное условие: значение по умолчанию не используется
	result, _ = e.EvaluateSafe("2 > 1", map[string]any{}, false)
	assert.True(t, result)
}

func TestEvaluateErrorSurfaces(t *testing.T) {
	e := NewEvaluator(nil)

	_, _, err := e.Evaluate("{{missing.key}} == 1", map[string]any{})
	require.Error(t, err)
}
