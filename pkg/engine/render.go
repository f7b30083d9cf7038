package engine

import (
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/template"
)

// renderAction возвращает копию действия с подставленными значениями
// контекста. Исходное действие не изменяется: один и тот же сценарий
// исполняется конкурентными инстансами.
//
// Поле condition не рендерится: его рендерит вычислитель условий до
// этого вызова. Предикат success у wait действия тоже остаётся сырым -
// он вычисляется на каждом опросе против ответа пробы.
func renderAction(engine *template.Engine, action scenario.Action, wfContext map[string]any) (scenario.Action, error) {
	switch a := action.(type) {
	case *scenario.HTTPAction:
		out := *a

		path, err := engine.Render(a.Path, wfContext)
		if err != nil {
			return nil, err
		}
		out.Path = path

		if out.Query, err = renderStringMap(engine, a.Query, wfContext); err != nil {
			return nil, err
		}
		if out.Headers, err = renderStringMap(engine, a.Headers, wfContext); err != nil {
			return nil, err
		}
		if a.Body != nil {
			if out.Body, err = engine.RenderAny(a.Body, wfContext); err != nil {
				return nil, err
			}
		}
		if out.Extract, err = renderStringMap(engine, a.Extract, wfContext); err != nil {
			return nil, err
		}
		return &out, nil

	case *scenario.WaitAction:
		out := *a

		path, err := engine.Render(a.Path, wfContext)
		if err != nil {
			return nil, err
		}
		out.Path = path
		return &out, nil

	case *scenario.AssertAction:
		out := *a
		rendered, err := renderExpectation(engine, a.Expect, wfContext)
		if err != nil {
			return nil, err
		}
		out.Expect = rendered
		return &out, nil

	case *scenario.DecideAction:
		out := *a

		decision, err := engine.Render(a.Decision, wfContext)
		if err != nil {
			return nil, err
		}
		out.Decision = decision

		ref, err := engine.Render(a.PolicyRef, wfContext)
		if err != nil {
			return nil, err
		}
		out.PolicyRef = ref
		return &out, nil

	case *scenario.GRPCAction:
		out := *a

		method, err := engine.Render(a.Method, wfContext)
		if err != nil {
			return nil, err
		}
		out.Method = method

		if a.Body != nil {
			rendered, err := engine.RenderMap(a.Body, wfContext)
			if err != nil {
				return nil, err
			}
			out.Body = rendered
		}
		if out.Metadata, err = renderStringMap(engine, a.Metadata, wfContext); err != nil {
			return nil, err
		}
		if out.Extract, err = renderStringMap(engine, a.Extract, wfContext); err != nil {
			return nil, err
		}
		return &out, nil

	default:
		// Ветвления не рендерятся: их интерпретирует сам раннер
		return action, nil
	}
}

func renderStringMap(engine *template.Engine, m map[string]string, wfContext map[string]any) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		rendered, err := engine.Render(v, wfContext)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

func renderExpectation(engine *template.Engine, expect scenario.Expectation, wfContext map[string]any) (scenario.Expectation, error) {
	out := expect

	if expect.HeadersContain != nil {
		rendered, err := renderStringMap(engine, expect.HeadersContain, wfContext)
		if err != nil {
			return out, err
		}
		out.HeadersContain = rendered
	}

	if expect.BodyMatches != nil {
		rendered := make(map[string]any, len(expect.BodyMatches))
		for path, expected := range expect.BodyMatches {
			value, err := engine.RenderAny(expected, wfContext)
			if err != nil {
				return out, err
			}
			rendered[path] = value
		}
		out.BodyMatches = rendered
	}

	return out, nil
}
