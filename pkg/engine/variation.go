package engine

import (
	"math/rand"
)

// VariationEngine генерирует per-instance тайминги: базовую межшаговую
// задержку и случайный джиттер. Результат кладётся в entry.seed_data,
// откуда его читает сценарный раннер.
type VariationEngine struct {
	stepDelayMs    int
	timingJitterMs int
	runSeed        int64
}

// NewVariationEngine создаёт генератор вариаций
func NewVariationEngine(stepDelayMs, timingJitterMs int, runSeed int64) *VariationEngine {
	return &VariationEngine{
		stepDelayMs:    stepDelayMs,
		timingJitterMs: timingJitterMs,
		runSeed:        runSeed,
	}
}

// Apply добавляет вариацию в entry инстанса. Джиттер детерминирован:
// своя величина на каждый инстанс, но одинаковая между запусками с
// одним сидом.
func (v *VariationEngine) Apply(entry map[string]any, instanceIndex int) map[string]any {
	if v == nil || (v.stepDelayMs == 0 && v.timingJitterMs == 0) {
		return entry
	}
	if entry == nil {
		entry = map[string]any{}
	}

	jitter := 0
	if v.timingJitterMs > 0 {
		rng := rand.New(rand.NewSource(v.runSeed + int64(instanceIndex)))
		jitter = rng.Intn(v.timingJitterMs + 1)
	}

	seedData, _ := entry["seed_data"].(map[string]any)
	if seedData == nil {
		seedData = map[string]any{}
	}
	seedData["variation"] = map[string]any{
		"_step_delay_ms":    v.stepDelayMs,
		"_timing_jitter_ms": jitter,
	}
	entry["seed_data"] = seedData

	return entry
}
