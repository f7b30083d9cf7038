package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/template"
)

const (
	// defaultDeadline - жёсткий предел на вычисление одного выражения
	defaultDeadline = 500 * time.Millisecond
	// evalBudget - предел на число посещённых узлов AST
	evalBudget = 10000
)

// Evaluator вычисляет выражения над фиксированным набором связанных имён.
type Evaluator struct {
	deadline time.Duration
}

// NewEvaluator создаёт вычислитель с дефолтным дедлайном
func NewEvaluator() *Evaluator {
	return &Evaluator{deadline: defaultDeadline}
}

// NewEvaluatorWithDeadline создаёт вычислитель с заданным дедлайном
func NewEvaluatorWithDeadline(d time.Duration) *Evaluator {
	return &Evaluator{deadline: d}
}

type evalState struct {
	bindings map[string]any
	deadline time.Time
	visited  int
}

// Eval разбирает и вычисляет выражение с данными связываниями.
// Возвращает значение результата; ошибки типизированы через apperror:
// CodeExpressionSecurity, CodeExpressionError, CodeExpressionTimeout.
func (e *Evaluator) Eval(expression string, bindings map[string]any) (any, error) {
	root, err := parse(expression)
	if err != nil {
		return nil, err
	}

	st := &evalState{
		bindings: bindings,
		deadline: time.Now().Add(e.deadline),
	}
	return st.eval(root)
}

// EvalBool вычисляет выражение и приводит результат к булеву значению
func (e *Evaluator) EvalBool(expression string, bindings map[string]any) (bool, error) {
	v, err := e.Eval(expression, bindings)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

func (s *evalState) eval(n *node) (any, error) {
	s.visited++
	if s.visited > evalBudget {
		return nil, apperror.New(apperror.CodeExpressionTimeout, "expression evaluation budget exceeded")
	}
	if s.visited%64 == 0 && time.Now().After(s.deadline) {
		return nil, apperror.New(apperror.CodeExpressionTimeout, "expression evaluation deadline exceeded")
	}

	switch n.kind {
	case nodeLiteral:
		return n.value, nil

	case nodeIdent:
		v, ok := s.bindings[n.name]
		if !ok {
			return nil, apperror.Newf(apperror.CodeExpressionSecurity,
				"unknown identifier %q", n.name)
		}
		return v, nil

	case nodeList:
		items := make([]any, len(n.children))
		for i, child := range n.children {
			v, err := s.eval(child)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	case nodeNot:
		v, err := s.eval(n.child)
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil

	case nodeNeg:
		v, err := s.eval(n.child)
		if err != nil {
			return nil, err
		}
		switch num := v.(type) {
		case int64:
			return -num, nil
		case float64:
			return -num, nil
		default:
			return nil, apperror.Newf(apperror.CodeExpressionError, "cannot negate %T", v)
		}

	case nodeAnd:
		left, err := s.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		if !Truthy(left) {
			return false, nil
		}
		right, err := s.eval(n.children[1])
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil

	case nodeOr:
		left, err := s.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		if Truthy(left) {
			return true, nil
		}
		right, err := s.eval(n.children[1])
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil

	case nodeCompare:
		return s.evalCompare(n)

	case nodeAttr:
		obj, err := s.eval(n.child)
		if err != nil {
			return nil, err
		}
		return lookupKey(obj, n.name)

	case nodeIndex:
		obj, err := s.eval(n.child)
		if err != nil {
			return nil, err
		}
		key, err := s.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		return indexValue(obj, key)

	case nodeGet:
		obj, err := s.eval(n.child)
		if err != nil {
			return nil, err
		}
		key, err := s.eval(n.children[0])
		if err != nil {
			return nil, err
		}
		var def any
		if len(n.children) == 2 {
			def, err = s.eval(n.children[1])
			if err != nil {
				return nil, err
			}
		}
		m, ok := asMap(obj)
		if !ok {
			return nil, apperror.Newf(apperror.CodeExpressionError, "get() on non-mapping %T", obj)
		}
		if v, found := m[fmt.Sprintf("%v", key)]; found {
			return v, nil
		}
		return def, nil

	case nodeCall:
		return s.evalCall(n)

	default:
		return nil, apperror.New(apperror.CodeExpressionError, "invalid expression node")
	}
}

// evalCompare вычисляет цепочку сравнений попарно: a < b < c -> (a<b) and (b<c)
func (s *evalState) evalCompare(n *node) (any, error) {
	prev, err := s.eval(n.children[0])
	if err != nil {
		return nil, err
	}

	for i, op := range n.ops {
		next, err := s.eval(n.children[i+1])
		if err != nil {
			return nil, err
		}

		ok, err := compare(op, prev, next)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		prev = next
	}
	return true, nil
}

func (s *evalState) evalCall(n *node) (any, error) {
	args := make([]any, len(n.children))
	for i, child := range n.children {
		v, err := s.eval(child)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if len(args) != 1 {
		return nil, apperror.Newf(apperror.CodeExpressionError, "%s() expects exactly 1 argument", n.name)
	}
	arg := args[0]

	switch n.name {
	case "len":
		switch v := arg.(type) {
		case string:
			return int64(len(v)), nil
		case []any:
			return int64(len(v)), nil
		case map[string]any:
			return int64(len(v)), nil
		default:
			return nil, apperror.Newf(apperror.CodeExpressionError, "len() of %T", arg)
		}
	case "str":
		return template.Format(arg), nil
	case "int":
		switch v := arg.(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, apperror.Newf(apperror.CodeExpressionError, "int() of %q", v)
			}
			return i, nil
		default:
			return nil, apperror.Newf(apperror.CodeExpressionError, "int() of %T", arg)
		}
	case "float":
		switch v := arg.(type) {
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, apperror.Newf(apperror.CodeExpressionError, "float() of %q", v)
			}
			return f, nil
		default:
			return nil, apperror.Newf(apperror.CodeExpressionError, "float() of %T", arg)
		}
	}

	return nil, apperror.Newf(apperror.CodeExpressionSecurity, "call to %q is not allowed", n.name)
}

// Truthy определяет истинность значения по правилам, привычным для
// условий сценариев: пустые строки/коллекции и нули - ложь.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[fmt.Sprintf("%v", k)] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func lookupKey(obj any, key string) (any, error) {
	m, ok := asMap(obj)
	if !ok {
		return nil, apperror.Newf(apperror.CodeExpressionError,
			"attribute access on non-mapping %T", obj)
	}
	v, found := m[key]
	if !found {
		return nil, apperror.Newf(apperror.CodeExpressionError, "key %q not found", key)
	}
	return v, nil
}

func indexValue(obj, key any) (any, error) {
	switch container := obj.(type) {
	case []any:
		idx, ok := toInt(key)
		if !ok {
			return nil, apperror.Newf(apperror.CodeExpressionError, "list index must be integer, got %T", key)
		}
		if idx < 0 {
			idx += int64(len(container))
		}
		if idx < 0 || idx >= int64(len(container)) {
			return nil, apperror.Newf(apperror.CodeExpressionError, "list index %d out of range", idx)
		}
		return container[idx], nil
	case string:
		idx, ok := toInt(key)
		if !ok {
			return nil, apperror.Newf(apperror.CodeExpressionError, "string index must be integer, got %T", key)
		}
		runes := []rune(container)
		if idx < 0 {
			idx += int64(len(runes))
		}
		if idx < 0 || idx >= int64(len(runes)) {
			return nil, apperror.Newf(apperror.CodeExpressionError, "string index %d out of range", idx)
		}
		return string(runes[idx]), nil
	default:
		if m, ok := asMap(obj); ok {
			v, found := m[fmt.Sprintf("%v", key)]
			if !found {
				return nil, apperror.Newf(apperror.CodeExpressionError, "key %v not found", key)
			}
			return v, nil
		}
		return nil, apperror.Newf(apperror.CodeExpressionError, "cannot index %T", obj)
	}
}

func toInt(v any) (int64, bool) {
	switch num := v.(type) {
	case int:
		return int64(num), true
	case int64:
		return num, true
	case float64:
		if num == float64(int64(num)) {
			return int64(num), true
		}
		return 0, false
	default:
		return 0, false
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

func compare(op string, left, right any) (bool, error) {
	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "in":
		return contains(right, left)
	case "not in":
		ok, err := contains(right, left)
		return !ok, err
	}

	// Упорядочивающие сравнения: числа или строки
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return false, apperror.Newf(apperror.CodeExpressionError,
		"cannot compare %T %s %T", left, op, right)
}

func equal(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, rok := toFloat(right); rok {
			return lf == rf
		}
		return false
	}

	switch l := left.(type) {
	case nil:
		return right == nil
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case []any:
		r, ok := right.([]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for i := range l {
			if !equal(l[i], r[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		r, ok := right.(map[string]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for k, v := range l {
			rv, found := r[k]
			if !found || !equal(v, rv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, apperror.Newf(apperror.CodeExpressionError,
				"'in <string>' requires string operand, got %T", item)
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, v := range c {
			if equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		if m, ok := asMap(container); ok {
			_, found := m[fmt.Sprintf("%v", item)]
			return found, nil
		}
		return false, apperror.Newf(apperror.CodeExpressionError,
			"'in' requires string, list or mapping, got %T", container)
	}
}
