// Package actions содержит раннеры действий сценария: по одному на вид
// (http, wait, assert, decide, grpc) и фабрику-реестр для их создания.
// Раннер получает уже отрендеренное действие: подстановку шаблонов
// выполняет интерпретатор сценария.
package actions

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/condition"
	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/policy"
	"github.com/farmanp/turbulence/pkg/ratelimit"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/sut"
)

// Result - итог выполнения одного действия: наблюдение, обновлённый
// контекст и результаты проверок (только для assert действий).
type Result struct {
	Observation models.Observation
	Context     map[string]any
	Assertions  []models.AssertionResult
}

// Runner - единый контракт раннера действия
type Runner interface {
	Execute(ctx context.Context, wfContext map[string]any) (Result, error)
}

// Sleeper - подменяемая пауза (в тестах заменяется заглушкой)
type Sleeper func(ctx context.Context, d time.Duration) error

// DefaultSleeper спит с учётом отмены контекста
func DefaultSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Deps - зависимости, которые фабрика передаёт раннерам. Каждый вид
// действия использует только нужные ему поля.
type Deps struct {
	SUT        *sut.Config
	Client     *http.Client
	Channel    *grpc.ClientConn
	Policy     *policy.Policy
	RNG        *rand.Rand
	Limiter    ratelimit.Limiter
	Conditions *condition.Evaluator
	Sleep      Sleeper
}

func (d *Deps) sleeper() Sleeper {
	if d.Sleep != nil {
		return d.Sleep
	}
	return DefaultSleeper
}

// builder - явный конструктор раннера для одного вида действия
type builder func(action scenario.Action, deps Deps) (Runner, error)

// registry - реестр конструкторов по тегу вида действия
var registry = map[string]builder{
	scenario.KindHTTP: func(action scenario.Action, deps Deps) (Runner, error) {
		a, ok := action.(*scenario.HTTPAction)
		if !ok {
			return nil, apperror.Newf(apperror.CodeUnknownAction, "http runner got %T", action)
		}
		return NewHTTPRunner(a, deps.SUT, deps.Client, deps.Limiter, deps.sleeper()), nil
	},
	scenario.KindWait: func(action scenario.Action, deps Deps) (Runner, error) {
		a, ok := action.(*scenario.WaitAction)
		if !ok {
			return nil, apperror.Newf(apperror.CodeUnknownAction, "wait runner got %T", action)
		}
		return NewWaitRunner(a, deps.SUT, deps.Client, deps.Conditions, deps.sleeper()), nil
	},
	scenario.KindAssert: func(action scenario.Action, deps Deps) (Runner, error) {
		a, ok := action.(*scenario.AssertAction)
		if !ok {
			return nil, apperror.Newf(apperror.CodeUnknownAction, "assert runner got %T", action)
		}
		return NewAssertRunner(a), nil
	},
	scenario.KindDecide: func(action scenario.Action, deps Deps) (Runner, error) {
		a, ok := action.(*scenario.DecideAction)
		if !ok {
			return nil, apperror.Newf(apperror.CodeUnknownAction, "decide runner got %T", action)
		}
		return NewDecideRunner(a, deps.Policy, deps.RNG), nil
	},
	scenario.KindGRPC: func(action scenario.Action, deps Deps) (Runner, error) {
		a, ok := action.(*scenario.GRPCAction)
		if !ok {
			return nil, apperror.Newf(apperror.CodeUnknownAction, "grpc runner got %T", action)
		}
		return NewGRPCRunner(a, deps.SUT, deps.Channel), nil
	},
}

// New создаёт раннер для действия. Ветвления раннера не имеют:
// их интерпретирует сам сценарный раннер.
func New(action scenario.Action, deps Deps) (Runner, error) {
	build, ok := registry[action.Kind()]
	if !ok {
		return nil, apperror.Newf(apperror.CodeUnknownAction,
			"no runner registered for action type %q", action.Kind())
	}
	return build(action, deps)
}
