package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/scenario"
)

// AssertRunner проверяет ожидания относительно last_response. Каждая
// проверка даёт отдельный AssertionResult; наблюдение действия - их
// конъюнкция. Контекст не изменяется.
type AssertRunner struct {
	action *scenario.AssertAction
}

// NewAssertRunner создаёт assert раннер
func NewAssertRunner(action *scenario.AssertAction) *AssertRunner {
	return &AssertRunner{action: action}
}

// Execute вычисляет все проверки Expectation
func (r *AssertRunner) Execute(ctx context.Context, wfContext map[string]any) (Result, error) {
	start := time.Now()

	obs := models.Observation{
		OK:         true,
		Protocol:   "assert",
		ActionName: r.action.Name,
	}

	lastResponse, _ := wfContext["last_response"].(map[string]any)
	var body any
	var headers map[string]any
	var statusCode any
	if lastResponse != nil {
		body = lastResponse["body"]
		headers, _ = lastResponse["headers"].(map[string]any)
		statusCode = lastResponse["status_code"]
	}

	var results []models.AssertionResult
	expect := r.action.Expect

	// Код статуса
	if expect.StatusCode != nil {
		res := models.AssertionResult{
			Name:     r.action.Name + ":status_code",
			Expected: *expect.StatusCode,
			Actual:   statusCode,
		}
		if lastResponse == nil {
			res.Message = "no response to assert against"
		} else if equalsLoose(statusCode, *expect.StatusCode) {
			res.Passed = true
		} else {
			res.Message = fmt.Sprintf("expected status %d, got %v", *expect.StatusCode, statusCode)
		}
		results = append(results, res)
	}

	// Заголовки: пустое ожидаемое значение - проверка наличия
	for name, expected := range expect.HeadersContain {
		res := models.AssertionResult{
			Name:     r.action.Name + ":header:" + name,
			Expected: expected,
		}
		actual, found := headerLookup(headers, name)
		res.Actual = actual

		switch {
		case !found:
			res.Message = fmt.Sprintf("header %q is missing", name)
		case expected == "":
			res.Passed = true
		case actual == expected:
			res.Passed = true
		default:
			res.Message = fmt.Sprintf("header %q: expected %q, got %q", name, expected, actual)
		}
		results = append(results, res)
	}

	// JSONPath по телу ответа
	for path, expected := range expect.BodyMatches {
		res := models.AssertionResult{
			Name:     r.action.Name + ":body:" + path,
			Expected: expected,
		}

		normalized := path
		if !strings.HasPrefix(normalized, "$") {
			normalized = "$." + normalized
		}

		expr, err := jp.ParseString(normalized)
		if err != nil {
			res.Message = fmt.Sprintf("invalid JSONPath %q: %v", path, err)
			results = append(results, res)
			continue
		}

		matches := expr.Get(body)
		if len(matches) == 0 {
			res.Message = fmt.Sprintf("JSONPath %q matched nothing", path)
			results = append(results, res)
			continue
		}

		res.Actual = matches[0]
		if equalsLoose(matches[0], expected) {
			res.Passed = true
		} else {
			res.Message = fmt.Sprintf("JSONPath %q: expected %v, got %v", path, expected, matches[0])
		}
		results = append(results, res)
	}

	// JSON Schema
	if len(expect.BodySchema) > 0 {
		res := models.AssertionResult{
			Name:     r.action.Name + ":schema",
			Expected: "body matches schema",
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("expectation.json", normalizeSchema(expect.BodySchema)); err != nil {
			res.Message = fmt.Sprintf("invalid schema: %v", err)
		} else if schema, err := compiler.Compile("expectation.json"); err != nil {
			res.Message = fmt.Sprintf("invalid schema: %v", err)
		} else if err := schema.Validate(body); err != nil {
			res.Message = fmt.Sprintf("schema validation failed: %v", err)
		} else {
			res.Passed = true
		}
		results = append(results, res)
	}

	for _, res := range results {
		if !res.Passed {
			obs.OK = false
			obs.Errors = append(obs.Errors, res.Message)
		}
	}

	obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	obs.Metadata = map[string]any{"checks": len(results)}

	return Result{Observation: obs, Context: wfContext, Assertions: results}, nil
}

// headerLookup ищет заголовок без учёта регистра имени
func headerLookup(headers map[string]any, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			s, _ := v.(string)
			return s, true
		}
	}
	return "", false
}

// equalsLoose сравнивает значения с числовой коэрцией: 200 и 200.0 равны
func equalsLoose(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalsLoose(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, found := bv[k]
			if !found || !equalsLoose(v, bvv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch num := v.(type) {
	case int:
		return float64(num), true
	case int64:
		return float64(num), true
	case float64:
		return num, true
	case float32:
		return float64(num), true
	default:
		return 0, false
	}
}

// normalizeSchema приводит YAML-декодированную схему к виду, который
// принимает компилятор (map[string]any со строковыми ключами всюду)
func normalizeSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeSchema(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeSchema(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeSchema(item)
		}
		return out
	default:
		return v
	}
}
