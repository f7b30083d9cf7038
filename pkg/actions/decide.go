package actions

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/policy"
	"github.com/farmanp/turbulence/pkg/scenario"
)

// DecideRunner выполняет взвешенный случайный выбор по политике.
// Выбор детерминирован при фиксированном сиде: раннеры, построенные от
// одного RNG и вызываемые в одинаковом порядке, дают одинаковые
// последовательности решений.
type DecideRunner struct {
	action *scenario.DecideAction
	policy *policy.Policy
	rng    *rand.Rand
}

// NewDecideRunner создаёт decide раннер
func NewDecideRunner(action *scenario.DecideAction, pol *policy.Policy, rng *rand.Rand) *DecideRunner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DecideRunner{action: action, policy: pol, rng: rng}
}

// Execute выбирает вариант и записывает его в контекст под OutputVar
func (r *DecideRunner) Execute(ctx context.Context, wfContext map[string]any) (Result, error) {
	start := time.Now()

	obs := models.Observation{
		Protocol:   "decide",
		ActionName: r.action.Name,
	}

	decisionName := r.action.Decision

	// Политика или решение отсутствуют: ошибка, контекст не меняется
	if r.policy == nil {
		obs.AddError("no policy provided for decide action")
		obs.Body = map[string]any{"decision": decisionName, "result": nil}
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	weights, ok := r.policy.Decisions[decisionName]
	if !ok {
		obs.AddError("decision '" + decisionName + "' not found in policy")
		obs.Body = map[string]any{"decision": decisionName, "result": nil}
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	if len(weights.Options) == 0 {
		obs.AddError("decision '" + decisionName + "' has no options")
		obs.Body = map[string]any{"decision": decisionName, "result": nil}
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	choice := r.weightedChoice(weights.Options)

	updated := cloneContext(wfContext)
	updated[r.action.Output()] = choice

	obs.OK = true
	obs.Body = map[string]any{
		"decision": decisionName,
		"result":   choice,
		"options":  weights.Options,
	}
	obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0

	return Result{Observation: obs, Context: updated}, nil
}

// weightedChoice выбирает вариант по накопленным нормализованным весам.
// Варианты обходятся в отсортированном порядке ключей, иначе случайный
// порядок map ломал бы воспроизводимость.
func (r *DecideRunner) weightedChoice(options map[string]float64) string {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	var total float64
	for _, w := range options {
		total += w
	}

	// Нулевая или отрицательная сумма - равномерный выбор
	if total <= 0 {
		return names[r.rng.Intn(len(names))]
	}

	roll := r.rng.Float64()
	var cumulative float64
	for _, name := range names {
		cumulative += options[name] / total
		if roll <= cumulative {
			return name
		}
	}

	// Страховка от накопленной погрешности нормализации
	return names[len(names)-1]
}
