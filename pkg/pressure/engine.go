package pressure

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/metrics"
	"github.com/farmanp/turbulence/pkg/models"
)

// ExecuteFunc - отложенное выполнение целевого действия
type ExecuteFunc func() (models.Observation, map[string]any, error)

// Engine применяет политики turbulence к выполнению действий
type Engine struct {
	config  *Config
	runSeed int64
}

// NewEngine создаёт движок turbulence
func NewEngine(cfg *Config, runSeed int64) *Engine {
	return &Engine{config: cfg, runSeed: runSeed}
}

// ResolvePolicy ищет политику для пары (service, action).
// Возвращает nil, если политика не настроена.
func (e *Engine) ResolvePolicy(service, action string) *TurbulencePolicy {
	if e == nil || e.config == nil {
		return nil
	}
	for _, p := range e.config.Policies {
		if p.Service == service && p.Action == action {
			return p
		}
	}
	return nil
}

// Apply выполняет действие через политику: может задержать выполнение,
// оборвать его синтетической ошибкой соединения или подменить ответ
// синтетическим статусом. Все вероятностные решения детерминированы:
// RNG сидируется хэшем (runSeed, instanceID, actionName, service).
func (e *Engine) Apply(
	ctx context.Context,
	policy *TurbulencePolicy,
	actionName, service, instanceID string,
	wfContext map[string]any,
	execute ExecuteFunc,
) (models.Observation, map[string]any, error) {
	rng := e.decisionRNG(instanceID, actionName, service)

	// 1. Задержка перед выполнением. Нулевая вероятность означает
	// "не задана" и трактуется как всегда.
	if policy.Latency != nil && rollProbability(rng, orOne(policy.Latency.Probability)) {
		delay := latencyDelay(rng, policy.Latency)
		if delay > 0 {
			logger.Log.Debug("Injecting latency",
				"action", actionName, "service", service, "delay_ms", delay.Milliseconds())
			metrics.Get().RecordFault("latency")
			select {
			case <-ctx.Done():
				return models.Observation{}, wfContext, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	// 2. Обрыв: действие не выполняется вовсе
	if policy.Drop != nil && rollProbability(rng, policy.Drop.Probability) {
		logger.Log.Debug("Injecting drop", "action", actionName, "service", service)
		metrics.Get().RecordFault("drop")

		obs := models.Observation{
			OK:         false,
			Protocol:   "http",
			ActionName: actionName,
			Service:    service,
			LatencyMs:  0,
			Errors: []string{
				fmt.Sprintf("turbulence: connection dropped for %s/%s", service, actionName),
			},
			Metadata: map[string]any{"turbulence": "drop"},
		}
		return obs, wfContext, nil
	}

	obs, updated, err := execute()
	if err != nil {
		return obs, updated, err
	}

	// 3. Подмена ответа синтетическим статусом
	if policy.Error != nil && rollProbability(rng, policy.Error.Probability) {
		logger.Log.Debug("Injecting error",
			"action", actionName, "service", service, "status", policy.Error.StatusCode)
		metrics.Get().RecordFault("error")

		obs.OK = false
		obs.StatusCode = models.IntPtr(policy.Error.StatusCode)
		obs.Errors = append(obs.Errors,
			fmt.Sprintf("turbulence: substituted status %d", policy.Error.StatusCode))
		if obs.Metadata == nil {
			obs.Metadata = make(map[string]any)
		}
		obs.Metadata["turbulence"] = "error"
	}

	return obs, updated, nil
}

// decisionRNG возвращает детерминированный RNG для одного решения.
// Отдельный RNG на решение избавляет от разделяемого состояния между
// параллельными инстансами.
func (e *Engine) decisionRNG(instanceID, actionName, service string) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%s", e.runSeed, instanceID, actionName, service)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func orOne(p float64) float64 {
	if p == 0 {
		return 1
	}
	return p
}

func rollProbability(rng *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rng.Float64() < p
}

func latencyDelay(rng *rand.Rand, cfg *LatencyConfig) time.Duration {
	switch cfg.Distribution {
	case DistributionUniform:
		if cfg.MaxMs <= cfg.MinMs {
			return time.Duration(cfg.MinMs) * time.Millisecond
		}
		ms := cfg.MinMs + rng.Intn(cfg.MaxMs-cfg.MinMs+1)
		return time.Duration(ms) * time.Millisecond
	default:
		return time.Duration(cfg.DelayMs) * time.Millisecond
	}
}
