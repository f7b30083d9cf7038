package engine

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/farmanp/turbulence/pkg/actions"
	"github.com/farmanp/turbulence/pkg/condition"
	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/metrics"
	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/policy"
	"github.com/farmanp/turbulence/pkg/pressure"
	"github.com/farmanp/turbulence/pkg/ratelimit"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/sut"
	"github.com/farmanp/turbulence/pkg/template"
)

// Step - результат одного шага сценария
type Step struct {
	Index       int
	Action      scenario.Action
	Observation models.Observation
	Context     map[string]any
	Assertions  []models.AssertionResult
}

// ScenarioRunner - рекурсивный интерпретатор потока сценария.
// Внутри одного инстанса выполнение строго последовательное, поэтому
// контекст и last_response свободны от гонок.
type ScenarioRunner struct {
	templates  *template.Engine
	sutConfig  *sut.Config
	pool       *ClientPool
	turbulence *pressure.Engine
	policies   map[string]*policy.Policy
	rng        *rand.Rand
	conditions *condition.Evaluator
	limiter    ratelimit.Limiter
	sleep      actions.Sleeper
}

// RunnerOption настраивает сценарный раннер
type RunnerOption func(*ScenarioRunner)

// WithTurbulence подключает движок внедрения сбоев
func WithTurbulence(engine *pressure.Engine) RunnerOption {
	return func(r *ScenarioRunner) { r.turbulence = engine }
}

// WithPolicies задаёт политики decide действий (по persona_id)
func WithPolicies(policies map[string]*policy.Policy) RunnerOption {
	return func(r *ScenarioRunner) { r.policies = policies }
}

// WithSeed задаёт сид генератора случайных чисел инстанса
func WithSeed(seed int64) RunnerOption {
	return func(r *ScenarioRunner) { r.rng = rand.New(rand.NewSource(seed)) }
}

// WithLimiter подключает ограничитель исходящих запросов
func WithLimiter(limiter ratelimit.Limiter) RunnerOption {
	return func(r *ScenarioRunner) { r.limiter = limiter }
}

// WithSleeper подменяет паузы (для тестов)
func WithSleeper(sleep actions.Sleeper) RunnerOption {
	return func(r *ScenarioRunner) { r.sleep = sleep }
}

// NewScenarioRunner создаёт интерпретатор сценариев
func NewScenarioRunner(templates *template.Engine, sutConfig *sut.Config, pool *ClientPool, opts ...RunnerOption) *ScenarioRunner {
	if templates == nil {
		templates = template.NewEngine()
	}

	r := &ScenarioRunner{
		templates:  templates,
		sutConfig:  sutConfig,
		pool:       pool,
		conditions: condition.NewEvaluator(templates),
		sleep:      actions.DefaultSleeper,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return r
}

// walkState - сквозное состояние одного прохода по сценарию
type walkState struct {
	nextIndex   int
	stepDelayMs int
	jitterMs    int
	stopped     bool
}

// ExecuteFlow исполняет поток сценария, вызывая yield для каждого шага.
// Возврат false из yield останавливает исполнение. Индексы шагов
// сквозные: 0, 1, 2, ... без пропусков, включая шаги вложенных ветвей.
func (r *ScenarioRunner) ExecuteFlow(ctx context.Context, sc *scenario.Scenario, wfContext map[string]any, yield func(Step) bool) error {
	state := &walkState{}

	// Тайминги инстанса задаются генератором вариаций через entry
	if entry, ok := wfContext[KeyEntry].(map[string]any); ok {
		if seedData, ok := entry["seed_data"].(map[string]any); ok {
			if variation, ok := seedData["variation"].(map[string]any); ok {
				state.stepDelayMs = intFrom(variation["_step_delay_ms"])
				state.jitterMs = intFrom(variation["_timing_jitter_ms"])
			}
		}
	}

	maxSteps := sc.MaxSteps()

	_, err := r.executeActions(ctx, sc, sc.Flow, wfContext, state, maxSteps, yield)
	return err
}

// executeActions рекурсивно исполняет список действий, пробрасывая
// обновления контекста наверх. Возвращает контекст после последнего
// выполненного действия.
func (r *ScenarioRunner) executeActions(
	ctx context.Context,
	sc *scenario.Scenario,
	list scenario.ActionList,
	wfContext map[string]any,
	state *walkState,
	maxSteps int,
	yield func(Step) bool,
) (map[string]any, error) {
	for _, action := range list {
		if state.stopped {
			return wfContext, nil
		}
		if err := ctx.Err(); err != nil {
			return wfContext, err
		}

		branchAction, isBranch := action.(*scenario.BranchAction)

		// Условный пропуск. Ветвления исключены из проверки: их
		// условие и есть решение о ветке.
		if cond := action.ActionCondition(); cond != "" && !isBranch {
			result, rendered := r.conditions.EvaluateSafe(cond, wfContext, true)
			if !result {
				logger.Log.Debug("Skipped action due to false condition",
					"action", action.ActionName(), "condition", cond, "rendered", rendered)

				skipObs := models.Observation{
					OK:               true,
					ActionName:       action.ActionName(),
					LatencyMs:        0,
					BranchCondition:  cond,
					BranchResult:     models.BoolPtr(false),
					ConditionSkipped: true,
				}
				if !r.emit(state, sc, action, skipObs, wfContext, nil, maxSteps, yield) {
					return wfContext, nil
				}
				continue
			}
		}

		// Межшаговая задержка и джиттер
		var totalDelayMs int
		if state.nextIndex > 0 {
			totalDelayMs += state.stepDelayMs
		}
		totalDelayMs += state.jitterMs
		if totalDelayMs > 0 {
			if err := r.sleep(ctx, time.Duration(totalDelayMs)*time.Millisecond); err != nil {
				return wfContext, err
			}
		}

		if isBranch {
			updated, err := r.executeBranch(ctx, sc, branchAction, wfContext, state, maxSteps, yield)
			if err != nil {
				return updated, err
			}
			wfContext = updated
			continue
		}

		result, err := r.executeAction(ctx, action, wfContext)
		if err != nil {
			return wfContext, err
		}

		// Отменённый инстанс не оставляет записи о действии в полёте
		if err := ctx.Err(); err != nil {
			return wfContext, err
		}

		wfContext = result.Context

		// last_response обновляют только HTTP и wait действия
		if action.Kind() == scenario.KindHTTP || action.Kind() == scenario.KindWait {
			UpdateLastResponse(wfContext, &result.Observation)
		}

		if !r.emit(state, sc, action, result.Observation, wfContext, result.Assertions, maxSteps, yield) {
			return wfContext, nil
		}
	}

	return wfContext, nil
}

// executeBranch вычисляет условие ветвления, эмитит шаг решения и
// исполняет выбранную ветку с тем же состоянием обхода.
func (r *ScenarioRunner) executeBranch(
	ctx context.Context,
	sc *scenario.Scenario,
	action *scenario.BranchAction,
	wfContext map[string]any,
	state *walkState,
	maxSteps int,
	yield func(Step) bool,
) (map[string]any, error) {
	decision, rendered := r.conditions.EvaluateSafe(action.Condition, wfContext, false)

	branchName := "if_false"
	branchActions := action.IfFalse
	if decision {
		branchName = "if_true"
		branchActions = action.IfTrue
	}

	logger.Log.Debug("Branch decision",
		"branch", action.Name, "condition", action.Condition,
		"rendered", rendered, "taken", branchName, "actions", len(branchActions))

	obs := models.Observation{
		OK:              true,
		ActionName:      action.Name,
		LatencyMs:       0,
		BranchCondition: action.Condition,
		BranchResult:    models.BoolPtr(decision),
		BranchTaken:     branchName,
	}

	if !r.emit(state, sc, action, obs, wfContext, nil, maxSteps, yield) {
		return wfContext, nil
	}

	return r.executeActions(ctx, sc, branchActions, wfContext, state, maxSteps, yield)
}

// executeAction рендерит действие, собирает зависимости и выполняет
// раннер, при необходимости оборачивая его движком turbulence.
func (r *ScenarioRunner) executeAction(ctx context.Context, action scenario.Action, wfContext map[string]any) (actions.Result, error) {
	start := time.Now()

	rendered, err := renderAction(r.templates, action, wfContext)
	if err != nil {
		// Ошибка шаблона - ошибка шага, не инстанса
		obs := models.Observation{
			Protocol:   action.Kind(),
			ActionName: action.ActionName(),
		}
		obs.AddError(err.Error())
		metrics.Get().RecordAction(action.Kind(), false, time.Since(start))
		return actions.Result{Observation: obs, Context: wfContext}, nil
	}

	deps := actions.Deps{
		SUT:        r.sutConfig,
		RNG:        r.rng,
		Limiter:    r.limiter,
		Conditions: r.conditions,
		Sleep:      r.sleep,
	}

	// Клиент или канал выбираются по протоколу сервиса
	switch a := rendered.(type) {
	case *scenario.HTTPAction:
		deps.Client, err = r.pool.GetHTTPClient(a.Service)
	case *scenario.WaitAction:
		deps.Client, err = r.pool.GetHTTPClient(a.Service)
	case *scenario.GRPCAction:
		deps.Channel, err = r.pool.GetGRPCChannel(a.Service)
	case *scenario.DecideAction:
		deps.Policy = r.resolvePolicy(a.PolicyRef)
	}
	if err != nil {
		obs := models.Observation{
			Protocol:   rendered.Kind(),
			ActionName: rendered.ActionName(),
		}
		obs.AddError(err.Error())
		metrics.Get().RecordAction(rendered.Kind(), false, time.Since(start))
		return actions.Result{Observation: obs, Context: wfContext}, nil
	}

	runner, err := actions.New(rendered, deps)
	if err != nil {
		return actions.Result{}, err
	}

	var result actions.Result

	// Turbulence оборачивает только HTTP действия
	if httpAction, isHTTP := rendered.(*scenario.HTTPAction); isHTTP && r.turbulence != nil {
		if pol := r.turbulence.ResolvePolicy(httpAction.Service, httpAction.Name); pol != nil {
			instanceID, _ := wfContext[KeyInstanceID].(string)
			obs, updated, applyErr := r.turbulence.Apply(ctx, pol, httpAction.Name, httpAction.Service, instanceID, wfContext,
				func() (models.Observation, map[string]any, error) {
					res, execErr := runner.Execute(ctx, wfContext)
					return res.Observation, res.Context, execErr
				})
			if applyErr != nil {
				return actions.Result{}, applyErr
			}
			result = actions.Result{Observation: obs, Context: updated}
			metrics.Get().RecordAction(rendered.Kind(), obs.OK, time.Since(start))
			return result, nil
		}
	}

	result, err = runner.Execute(ctx, wfContext)
	if err != nil {
		return actions.Result{}, err
	}

	metrics.Get().RecordAction(rendered.Kind(), result.Observation.OK, time.Since(start))
	return result, nil
}

// resolvePolicy ищет политику по ссылке; без ссылки берётся первая
// политика в порядке сортировки persona_id (для воспроизводимости)
func (r *ScenarioRunner) resolvePolicy(ref string) *policy.Policy {
	if len(r.policies) == 0 {
		return nil
	}
	if ref != "" {
		if p, ok := r.policies[ref]; ok {
			return p
		}
		return nil
	}

	ids := make([]string, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return r.policies[ids[0]]
}

// emit выдаёт шаг наружу и применяет условия остановки.
// Возвращает false, когда обход нужно прекратить.
func (r *ScenarioRunner) emit(
	state *walkState,
	sc *scenario.Scenario,
	action scenario.Action,
	obs models.Observation,
	wfContext map[string]any,
	assertions []models.AssertionResult,
	maxSteps int,
	yield func(Step) bool,
) bool {
	step := Step{
		Index:       state.nextIndex,
		Action:      action,
		Observation: obs,
		Context:     wfContext,
		Assertions:  assertions,
	}
	state.nextIndex++

	if !yield(step) {
		state.stopped = true
		return false
	}

	if state.nextIndex >= maxSteps {
		logger.Log.Warn("Scenario reached max_steps",
			"scenario", sc.ID, "max_steps", maxSteps)
		state.stopped = true
		return false
	}

	if !obs.OK && sc.StopWhen.AnyActionFails {
		state.stopped = true
		return false
	}

	return true
}

func intFrom(v any) int {
	switch num := v.(type) {
	case int:
		return num
	case int64:
		return int(num)
	case float64:
		return int(num)
	default:
		return 0
	}
}
