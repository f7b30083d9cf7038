package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/metrics"
	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/ratelimit"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/sut"
)

// HTTPRunner выполняет один HTTP запрос (или ограниченную серию
// повторов) и извлекает значения из ответа в контекст.
type HTTPRunner struct {
	action  *scenario.HTTPAction
	sut     *sut.Config
	client  *http.Client
	limiter ratelimit.Limiter
	sleep   Sleeper
}

// NewHTTPRunner создаёт HTTP раннер
func NewHTTPRunner(action *scenario.HTTPAction, sutConfig *sut.Config, client *http.Client, limiter ratelimit.Limiter, sleep Sleeper) *HTTPRunner {
	return &HTTPRunner{
		action:  action,
		sut:     sutConfig,
		client:  client,
		limiter: limiter,
		sleep:   sleep,
	}
}

// attemptResult - исход одной попытки
type attemptResult struct {
	statusCode *int
	outcome    attemptOutcome
	err        error
	latencyMs  float64
	headers    map[string]string
	body       any
}

// Execute выполняет HTTP действие под политикой повторов
func (r *HTTPRunner) Execute(ctx context.Context, wfContext map[string]any) (Result, error) {
	start := time.Now()

	obs := models.Observation{
		Protocol:   "http",
		ActionName: r.action.Name,
		Service:    r.action.Service,
	}

	service, err := r.sut.GetService(r.action.Service)
	if err != nil {
		obs.AddError(err.Error())
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	targetURL, err := r.buildURL(service)
	if err != nil {
		obs.AddError(err.Error())
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	headers := r.mergedHeaders()
	body, err := r.encodeBody()
	if err != nil {
		obs.AddError(err.Error())
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	state := newRetryState(r.action.Retry)
	var last attemptResult

	for attempt := 0; attempt < state.maxAttempts(); attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, r.action.Service); err != nil {
				obs.AddError(fmt.Sprintf("rate limiter: %v", err))
				obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
				return Result{Observation: obs, Context: wfContext}, nil
			}
		}

		last = r.doRequest(ctx, targetURL, headers, body)

		rec := models.Attempt{
			StatusCode: last.statusCode,
			LatencyMs:  last.latencyMs,
		}
		if last.err != nil {
			rec.Error = last.err.Error()
		}
		obs.Attempts = append(obs.Attempts, rec)

		status := 0
		if last.statusCode != nil {
			status = *last.statusCode
		}

		if !state.retriable(status, last.outcome) {
			break
		}
		if state.exhausted(attempt + 1) {
			break
		}

		delay := state.advance()
		metrics.Get().RecordRetry(r.action.Service)
		logger.Log.Debug("Retrying HTTP action",
			"action", r.action.Name, "attempt", attempt+1, "delay_ms", delay.Milliseconds())

		if err := r.sleep(ctx, delay); err != nil {
			obs.AddError(err.Error())
			obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
			return Result{Observation: obs, Context: wfContext}, nil
		}
	}

	// Терминальные поля определяются последней попыткой
	obs.StatusCode = last.statusCode
	obs.Headers = last.headers
	obs.Body = last.body
	obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0

	if last.err != nil {
		obs.AddError(last.err.Error())
		return Result{Observation: obs, Context: wfContext}, nil
	}

	status := 0
	if last.statusCode != nil {
		status = *last.statusCode
	}
	obs.OK = status >= 200 && status < 300
	if !obs.OK {
		obs.Errors = append(obs.Errors, fmt.Sprintf("unexpected status code %d", status))
	}

	// Извлечение значений в контекст только при успешном ответе
	updated := wfContext
	if obs.OK && len(r.action.Extract) > 0 {
		extracted, extractErr := extractValues(r.action.Extract, last.body)
		if extractErr != nil {
			obs.AddError(extractErr.Error())
		} else {
			updated = cloneContext(wfContext)
			for k, v := range extracted {
				updated[k] = v
			}
		}
	}

	return Result{Observation: obs, Context: updated}, nil
}

func (r *HTTPRunner) buildURL(service *sut.Service) (string, error) {
	path := r.action.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	target := service.BaseURL() + path

	if len(r.action.Query) > 0 {
		values := url.Values{}
		for k, v := range r.action.Query {
			values.Set(k, v)
		}
		separator := "?"
		if strings.Contains(target, "?") {
			separator = "&"
		}
		target += separator + values.Encode()
	}

	if _, err := url.Parse(target); err != nil {
		return "", apperror.Wrap(err, apperror.CodeInvalidArgument, "invalid request URL")
	}
	return target, nil
}

// mergedHeaders объединяет заголовки: глобальные -> сервисные -> действия
func (r *HTTPRunner) mergedHeaders() map[string]string {
	merged := r.sut.HeadersForService(r.action.Service)
	for k, v := range r.action.Headers {
		merged[k] = v
	}
	return merged
}

func (r *HTTPRunner) encodeBody() ([]byte, error) {
	if r.action.Body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(r.action.Body)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidArgument, "cannot encode request body")
	}
	return raw, nil
}

func (r *HTTPRunner) doRequest(ctx context.Context, targetURL string, headers map[string]string, body []byte) attemptResult {
	attemptStart := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	method := strings.ToUpper(r.action.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, reader)
	if err != nil {
		return attemptResult{
			outcome:   outcomeConnectionError,
			err:       err,
			latencyMs: float64(time.Since(attemptStart).Microseconds()) / 1000.0,
		}
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	latency := float64(time.Since(attemptStart).Microseconds()) / 1000.0

	if err != nil {
		return attemptResult{
			outcome:   classifyError(err),
			err:       err,
			latencyMs: latency,
		}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	latency = float64(time.Since(attemptStart).Microseconds()) / 1000.0
	if readErr != nil {
		return attemptResult{
			statusCode: models.IntPtr(resp.StatusCode),
			outcome:    classifyError(readErr),
			err:        readErr,
			latencyMs:  latency,
		}
	}

	return attemptResult{
		statusCode: models.IntPtr(resp.StatusCode),
		outcome:    outcomeResponse,
		latencyMs:  latency,
		headers:    flattenHeaders(resp.Header),
		body:       decodeBody(raw),
	}
}

// classifyError относит сетевую ошибку к таймауту или ошибке соединения
func classifyError(err error) attemptOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outcomeTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return outcomeTimeout
	}
	return outcomeConnectionError
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		if len(values) > 0 {
			out[k] = values[0]
		}
	}
	return out
}

// decodeBody декодирует тело ответа: JSON, если получится, иначе строка
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return string(raw)
}

// extractValues применяет JSONPath выражения к телу ответа
func extractValues(extract map[string]string, body any) (map[string]any, error) {
	if body == nil {
		return nil, apperror.New(apperror.CodeExtractionError, "response body is not JSON")
	}
	if _, isString := body.(string); isString {
		return nil, apperror.New(apperror.CodeExtractionError, "response body is not JSON")
	}

	out := make(map[string]any, len(extract))
	for name, path := range extract {
		normalized := path
		if !strings.HasPrefix(normalized, "$") {
			normalized = "$." + normalized
		}

		expr, err := jp.ParseString(normalized)
		if err != nil {
			return nil, apperror.Newf(apperror.CodeExtractionError,
				"invalid JSONPath %q for %q: %v", path, name, err)
		}

		results := expr.Get(body)
		if len(results) == 0 {
			return nil, apperror.Newf(apperror.CodeExtractionError,
				"JSONPath %q for %q matched nothing", path, name)
		}
		out[name] = results[0]
	}
	return out, nil
}

func cloneContext(wfContext map[string]any) map[string]any {
	out := make(map[string]any, len(wfContext))
	for k, v := range wfContext {
		out[k] = v
	}
	return out
}
