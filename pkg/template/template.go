// Package template реализует подстановку значений контекста в строки
// вида "{{path.to.value}}". Поддерживаются вложенные словари и списки,
// а также сохранение типа значения, когда строка состоит из одного
// выражения целиком.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/farmanp/turbulence/pkg/apperror"
)

// exprPattern - шаблонное выражение: {{ dotted.path }}
var exprPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Engine движок подстановки шаблонов
type Engine struct{}

// NewEngine создаёт движок шаблонов
func NewEngine() *Engine {
	return &Engine{}
}

// Render подставляет значения контекста во все выражения строки.
// Результат всегда строка.
func (e *Engine) Render(s string, context map[string]any) (string, error) {
	var firstErr error
	out := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := exprPattern.FindStringSubmatch(match)[1]
		value, err := Resolve(path, context)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return Format(value)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// RenderValue подставляет значения контекста, сохраняя тип значения,
// если строка состоит из единственного выражения и ничего больше.
func (e *Engine) RenderValue(s string, context map[string]any) (any, error) {
	if m := exprPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		return Resolve(m[1], context)
	}
	return e.Render(s, context)
}

// RenderMap рекурсивно обходит словарь и подставляет значения во все
// строковые листья. Исходный словарь не изменяется.
func (e *Engine) RenderMap(m map[string]any, context map[string]any) (map[string]any, error) {
	rendered, err := e.RenderAny(m, context)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]any), nil
}

// RenderAny рекурсивно рендерит произвольное значение: строки через
// RenderValue, словари и списки поэлементно, остальное без изменений.
func (e *Engine) RenderAny(v any, context map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return e.RenderValue(val, context)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := e.RenderAny(item, context)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := e.RenderAny(item, context)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprintf("%v", k)] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := e.RenderAny(item, context)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// Resolve разрешает точечный путь по контексту: "a.b.c" ищет ключ "a",
// затем "b", затем "c". Отсутствующий промежуточный ключ - ошибка шаблона.
func Resolve(path string, context map[string]any) (any, error) {
	var current any = context

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, apperror.Newf(apperror.CodeTemplateError,
					"template path %q: key %q not found", path, segment)
			}
			current = v
		case map[any]any:
			v, ok := node[segment]
			if !ok {
				return nil, apperror.Newf(apperror.CodeTemplateError,
					"template path %q: key %q not found", path, segment)
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, apperror.Newf(apperror.CodeTemplateError,
					"template path %q: invalid list index %q", path, segment)
			}
			current = node[idx]
		default:
			return nil, apperror.Newf(apperror.CodeTemplateError,
				"template path %q: cannot descend into %T at %q", path, current, segment)
		}
	}

	return current, nil
}

// Format возвращает текстовую форму значения: булевы как True/False,
// числа без кавычек, nil как None.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case bool:
		if val {
			return "True"
		}
		return "False"
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		// Целые значения из JSON-декодера печатаем без дробной части
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return Format(float64(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}
