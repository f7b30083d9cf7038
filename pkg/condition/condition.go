// Package condition объединяет шаблонный движок и песочницу выражений:
// условие сначала рендерится по контексту, затем вычисляется.
package condition

import (
	"strings"

	"github.com/farmanp/turbulence/pkg/expr"
	"github.com/farmanp/turbulence/pkg/template"
)

// Evaluator вычисляет условия действий и ветвлений
type Evaluator struct {
	templates *template.Engine
	sandbox   *expr.Evaluator
}

// NewEvaluator создаёт вычислитель условий
func NewEvaluator(templates *template.Engine) *Evaluator {
	if templates == nil {
		templates = template.NewEngine()
	}
	return &Evaluator{
		templates: templates,
		sandbox:   expr.NewEvaluator(),
	}
}

// Evaluate рендерит условие по контексту и вычисляет его.
// Возвращает результат и отрендеренный текст условия (для диагностики).
//
// Короткие пути: пустая строка - true; литералы "true"/"1" - true,
// "false"/"0" - false. Всё остальное уходит в песочницу со связываниями
// context, body и headers.
func (e *Evaluator) Evaluate(cond string, context map[string]any) (bool, string, error) {
	if strings.TrimSpace(cond) == "" {
		return true, cond, nil
	}

	rendered, err := e.templates.Render(cond, context)
	if err != nil {
		return false, cond, err
	}

	switch strings.ToLower(strings.TrimSpace(rendered)) {
	case "true", "1":
		return true, rendered, nil
	case "false", "0":
		return false, rendered, nil
	}

	result, err := e.sandbox.EvalBool(rendered, bindings(context))
	if err != nil {
		return false, rendered, err
	}
	return result, rendered, nil
}

// EvaluateSafe как Evaluate, но любая ошибка даёт значение по умолчанию.
func (e *Evaluator) EvaluateSafe(cond string, context map[string]any, def bool) (bool, string) {
	result, rendered, err := e.Evaluate(cond, context)
	if err != nil {
		return def, rendered
	}
	return result, rendered
}

// bindings собирает имена, доступные выражению: весь контекст плюс
// body и headers последнего ответа.
func bindings(context map[string]any) map[string]any {
	body := any(map[string]any{})
	headers := any(map[string]any{})

	if last, ok := context["last_response"].(map[string]any); ok {
		if b, ok := last["body"]; ok && b != nil {
			body = b
		}
		if h, ok := last["headers"]; ok && h != nil {
			switch hv := h.(type) {
			case map[string]string:
				norm := make(map[string]any, len(hv))
				for k, v := range hv {
					norm[k] = v
				}
				headers = norm
			default:
				headers = hv
			}
		}
	}

	return map[string]any{
		"context": context,
		"body":    body,
		"headers": headers,
	}
}
