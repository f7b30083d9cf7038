package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/farmanp/turbulence/pkg/condition"
	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/sut"
)

// Значения по умолчанию для wait действия
const (
	defaultWaitIntervalMs = 1000
	defaultWaitTimeoutMs  = 30000
)

// WaitRunner опрашивает сервис, пока предикат успеха не станет истинным
// либо не истечёт таймаут.
type WaitRunner struct {
	action     *scenario.WaitAction
	sut        *sut.Config
	client     *http.Client
	conditions *condition.Evaluator
	sleep      Sleeper
}

// NewWaitRunner создаёт wait раннер
func NewWaitRunner(action *scenario.WaitAction, sutConfig *sut.Config, client *http.Client, conditions *condition.Evaluator, sleep Sleeper) *WaitRunner {
	if conditions == nil {
		conditions = condition.NewEvaluator(nil)
	}
	return &WaitRunner{
		action:     action,
		sut:        sutConfig,
		client:     client,
		conditions: conditions,
		sleep:      sleep,
	}
}

// Execute опрашивает сервис. Одно наблюдение на всё ожидание: список
// попыток лежит в Metadata["poll_attempts"], тело и терминальные поля -
// последний пробный ответ. Список попыток в тело не попадает.
func (r *WaitRunner) Execute(ctx context.Context, wfContext map[string]any) (Result, error) {
	start := time.Now()

	obs := models.Observation{
		Protocol:   "wait",
		ActionName: r.action.Name,
		Service:    r.action.Service,
	}

	service, err := r.sut.GetService(r.action.Service)
	if err != nil {
		obs.AddError(err.Error())
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	interval := r.action.IntervalMs
	if interval <= 0 {
		interval = defaultWaitIntervalMs
	}
	timeout := r.action.TimeoutMs
	if timeout <= 0 {
		timeout = defaultWaitTimeoutMs
	}

	deadline := start.Add(time.Duration(timeout) * time.Millisecond)
	path := r.action.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	targetURL := service.BaseURL() + path

	var attempts []models.PollAttempt
	var lastStatus *int
	var lastHeaders map[string]string
	var lastBody any

	for {
		probeStart := time.Now()
		status, headers, body, probeErr := r.probe(ctx, targetURL)
		latency := float64(time.Since(probeStart).Microseconds()) / 1000.0

		attempt := models.PollAttempt{
			StatusCode: status,
			LatencyMs:  latency,
		}

		if probeErr != nil {
			attempt.Error = probeErr.Error()
		} else {
			lastStatus = status
			lastHeaders = headers
			lastBody = body

			// Предикат видит ответ пробы как last_response
			probeContext := cloneContext(wfContext)
			probeObs := models.Observation{StatusCode: status, Headers: headers, Body: body}
			setLastResponse(probeContext, &probeObs)

			success, rendered := r.conditions.EvaluateSafe(r.action.Success, probeContext, false)
			attempt.Success = success

			if success {
				attempts = append(attempts, attempt)
				obs.OK = true
				obs.StatusCode = lastStatus
				obs.Headers = lastHeaders
				obs.Body = lastBody
				obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
				obs.Metadata = map[string]any{
					"poll_attempts": attempts,
					"condition":     rendered,
				}
				return Result{Observation: obs, Context: wfContext}, nil
			}
		}

		attempts = append(attempts, attempt)

		if time.Now().Add(time.Duration(interval) * time.Millisecond).After(deadline) {
			break
		}
		if err := r.sleep(ctx, time.Duration(interval)*time.Millisecond); err != nil {
			obs.AddError(err.Error())
			obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
			return Result{Observation: obs, Context: wfContext}, nil
		}
	}

	logger.Log.Debug("Wait action timed out",
		"action", r.action.Name, "service", r.action.Service, "attempts", len(attempts))

	obs.OK = false
	obs.StatusCode = lastStatus
	obs.Headers = lastHeaders
	obs.Body = lastBody
	obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	obs.Errors = append(obs.Errors,
		fmt.Sprintf("wait condition not satisfied within %d ms", timeout))
	obs.Metadata = map[string]any{"poll_attempts": attempts}

	return Result{Observation: obs, Context: wfContext}, nil
}

func (r *WaitRunner) probe(ctx context.Context, targetURL string) (*int, map[string]string, any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	for k, v := range r.sut.HeadersForService(r.action.Service) {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.IntPtr(resp.StatusCode), nil, nil, err
	}

	return models.IntPtr(resp.StatusCode), flattenHeaders(resp.Header), decodeBody(raw), nil
}

// setLastResponse дублирует обновление last_response для контекста пробы
func setLastResponse(wfContext map[string]any, obs *models.Observation) {
	headers := make(map[string]any, len(obs.Headers))
	for k, v := range obs.Headers {
		headers[k] = v
	}

	var statusCode any
	if obs.StatusCode != nil {
		statusCode = *obs.StatusCode
	}

	wfContext["last_response"] = map[string]any{
		"status_code": statusCode,
		"headers":     headers,
		"body":        obs.Body,
	}
}
