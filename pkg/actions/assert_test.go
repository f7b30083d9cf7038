package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/scenario"
)

func contextWithResponse(status int, body any) map[string]any {
	return map[string]any{
		"last_response": map[string]any{
			"status_code": status,
			"headers": map[string]any{
				"Content-Type": "application/json",
				"X-Request-Id": "req-1",
			},
			"body": body,
		},
	}
}

func runAssert(t *testing.T, expect scenario.Expectation, wfContext map[string]any) Result {
	t.Helper()
	action := &scenario.AssertAction{
		Base:   scenario.Base{Name: "check"},
		Expect: expect,
	}
	res, err := NewAssertRunner(action).Execute(context.Background(), wfContext)
	require.NoError(t, err)
	return res
}

func TestAssertStatusCode(t *testing.T) {
	res := runAssert(t,
		scenario.Expectation{StatusCode: models.IntPtr(200)},
		contextWithResponse(200, map[string]any{}))

	assert.True(t, res.Observation.OK)
	require.Len(t, res.Assertions, 1)
	assert.True(t, res.Assertions[0].Passed)
	assert.Equal(t, "check:status_code", res.Assertions[0].Name)
}

func TestAssertStatusCodeMismatch(t *testing.T) {
	res := runAssert(t,
		scenario.Expectation{StatusCode: models.IntPtr(200)},
		contextWithResponse(503, map[string]any{}))

	assert.False(t, res.Observation.OK)
	require.Len(t, res.Assertions, 1)
	assert.False(t, res.Assertions[0].Passed)
	assert.NotEmpty(t, res.Assertions[0].Message)
}

func TestAssertHeaders(t *testing.T) {
	res := runAssert(t,
		scenario.Expectation{
			HeadersContain: map[string]string{
				"content-type": "application/json", // регистр имени не важен
				"X-Request-Id": "",                 // только наличие
			},
		},
		contextWithResponse(200, map[string]any{}))

	assert.True(t, res.Observation.OK)
	assert.Len(t, res.Assertions, 2)
}

func TestAssertHeaderMissing(t *testing.T) {
	res := runAssert(t,
		scenario.Expectation{HeadersContain: map[string]string{"X-Absent": ""}},
		contextWithResponse(200, map[string]any{}))

	assert.False(t, res.Observation.OK)
}

func TestAssertBodyMatches(t *testing.T) {
	body := map[string]any{
		"status": "processed",
		"total":  42.0,
		"items":  []any{map[string]any{"sku": "SKU001"}},
	}

	res := runAssert(t,
		scenario.Expectation{
			BodyMatches: map[string]any{
				"$.status":       "processed",
				"$.total":        42, // int против float из JSON
				"$.items[0].sku": "SKU001",
			},
		},
		contextWithResponse(200, body))

	assert.True(t, res.Observation.OK)
	assert.Len(t, res.Assertions, 3)
	for _, a := range res.Assertions {
		assert.True(t, a.Passed, a.Name)
	}
}

func TestAssertBodyMatchFailure(t *testing.T) {
	res := runAssert(t,
		scenario.Expectation{BodyMatches: map[string]any{"$.status": "done"}},
		contextWithResponse(200, map[string]any{"status": "pending"}))

	assert.False(t, res.Observation.OK)
	require.Len(t, res.Assertions, 1)
	assert.Equal(t, "pending", res.Assertions[0].Actual)
}

func TestAssertBodyPathMiss(t *testing.T) {
	res := runAssert(t,
		scenario.Expectation{BodyMatches: map[string]any{"$.missing.deep": 1}},
		contextWithResponse(200, map[string]any{}))

	assert.False(t, res.Observation.OK)
	assert.Contains(t, res.Assertions[0].Message, "matched nothing")
}

func TestAssertSchema(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"status"},
		"properties": map[string]any{
			"status": map[string]any{"type": "string"},
		},
	}

	res := runAssert(t,
		scenario.Expectation{BodySchema: schema},
		contextWithResponse(200, map[string]any{"status": "ok"}))
	assert.True(t, res.Observation.OK)

	res = runAssert(t,
		scenario.Expectation{BodySchema: schema},
		contextWithResponse(200, map[string]any{"other": 1}))
	assert.False(t, res.Observation.OK)
}

func TestAssertDoesNotMutateContext(t *testing.T) {
	wfContext := contextWithResponse(200, map[string]any{"status": "ok"})
	res := runAssert(t,
		scenario.Expectation{StatusCode: models.IntPtr(200)},
		wfContext)

	assert.Equal(t, wfContext, res.Context)
}

func TestAssertConjunction(t *testing.T) {
	res := runAssert(t,
		scenario.Expectation{
			StatusCode:  models.IntPtr(200),
			BodyMatches: map[string]any{"$.status": "wrong"},
		},
		contextWithResponse(200, map[string]any{"status": "ok"}))

	// Одна проверка прошла, другая нет: наблюдение не ок
	assert.False(t, res.Observation.OK)
	assert.Len(t, res.Assertions, 2)
}
