package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/scenario"
)

func TestWaitSucceedsAfterPolls(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := "pending"
		if n >= 3 {
			status = "processed"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status})
	}))
	t.Cleanup(server.Close)

	action := &scenario.WaitAction{
		Base:       scenario.Base{Name: "wait_processed"},
		Service:    "api",
		Path:       "/orders/1",
		IntervalMs: 10,
		TimeoutMs:  5000,
		Success:    `body.get("status") == "processed"`,
	}

	runner := NewWaitRunner(action, httpSUT(server.URL), server.Client(), nil, (&fakeSleeper{}).sleep)
	res, err := runner.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	obs := res.Observation
	assert.True(t, obs.OK)
	assert.Equal(t, "wait", obs.Protocol)
	require.NotNil(t, obs.StatusCode)
	assert.Equal(t, 200, *obs.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	attempts := obs.Metadata["poll_attempts"].([]models.PollAttempt)
	require.Len(t, attempts, 3)
	assert.False(t, attempts[0].Success)
	assert.True(t, attempts[2].Success)

	// Терминальная проба в теле наблюдения
	body := obs.Body.(map[string]any)
	assert.Equal(t, "processed", body["status"])
}

func TestWaitTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
	}))
	t.Cleanup(server.Close)

	action := &scenario.WaitAction{
		Base:       scenario.Base{Name: "never_ready"},
		Service:    "api",
		Path:       "/status",
		IntervalMs: 30,
		TimeoutMs:  100,
		Success:    `body.get("status") == "ready"`,
	}

	// Настоящий sleeper: таймаут меряется настенными часами
	runner := NewWaitRunner(action, httpSUT(server.URL), server.Client(), nil, DefaultSleeper)
	res, err := runner.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	obs := res.Observation
	assert.False(t, obs.OK)
	assert.NotEmpty(t, obs.Errors)
	assert.Contains(t, obs.Errors[0], "not satisfied")
}

func TestWaitProbeErrorKeepsPolling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := server.Client()
	server.Close()

	action := &scenario.WaitAction{
		Base:       scenario.Base{Name: "unreachable"},
		Service:    "api",
		Path:       "/status",
		IntervalMs: 20,
		TimeoutMs:  80,
		Success:    "true",
	}

	runner := NewWaitRunner(action, httpSUT(server.URL), client, nil, DefaultSleeper)
	res, err := runner.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	obs := res.Observation
	assert.False(t, obs.OK)
	attempts := obs.Metadata["poll_attempts"].([]models.PollAttempt)
	assert.GreaterOrEqual(t, len(attempts), 2)
	assert.NotEmpty(t, attempts[0].Error)
}
