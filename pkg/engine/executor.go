package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/metrics"
	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/policy"
	"github.com/farmanp/turbulence/pkg/pressure"
	"github.com/farmanp/turbulence/pkg/ratelimit"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/stats"
	"github.com/farmanp/turbulence/pkg/storage"
	"github.com/farmanp/turbulence/pkg/sut"
	"github.com/farmanp/turbulence/pkg/telemetry"
	"github.com/farmanp/turbulence/pkg/template"
)

// DefaultParallelism - предел одновременных инстансов по умолчанию
const DefaultParallelism = 10

// EntryProvider выдаёт seed-запись для инстанса по его номеру
type EntryProvider func(instanceIndex int) map[string]any

// ExecutorConfig - параметры запуска
type ExecutorConfig struct {
	Instances      int
	Parallelism    int
	Seed           int64
	OutputDir      string
	StepDelayMs    int
	TimingJitterMs int
	FailOn         []string
}

// ExecutionStats - агрегированный итог запуска
type ExecutionStats struct {
	RunID      string
	Total      int
	Passed     int
	Failed     int
	ErrorCount int
	PassRate   float64 // проценты, 0-100
	P50Latency float64 // мс
	P95Latency float64
	P99Latency float64
	Duration   time.Duration
}

// Summary конвертирует статистику в RunSummary для гейтинга
func (s *ExecutionStats) Summary() *models.RunSummary {
	return &models.RunSummary{
		Total:        s.Total,
		PassCount:    s.Passed,
		FailCount:    s.Failed,
		ErrorCount:   s.ErrorCount,
		PassRate:     s.PassRate,
		P50LatencyMs: s.P50Latency,
		P95LatencyMs: s.P95Latency,
		P99LatencyMs: s.P99Latency,
	}
}

// instanceOutcome - внутренний результат одного инстанса
type instanceOutcome struct {
	passed    bool
	errored   bool
	latencies []float64
}

// ParallelExecutor исполняет N инстансов сценариев с ограниченной
// конкурентностью, записывая наблюдения в приёмник по мере выполнения.
type ParallelExecutor struct {
	sutConfig  *sut.Config
	scenarios  []*scenario.Scenario
	config     ExecutorConfig
	writer     storage.Writer
	turbulence *pressure.Engine
	policies   map[string]*policy.Policy
	limiter    ratelimit.Limiter
	entries    EntryProvider

	templates *template.Engine
}

// ExecutorOption настраивает исполнитель
type ExecutorOption func(*ParallelExecutor)

// WithTurbulenceEngine подключает движок внедрения сбоев
func WithTurbulenceEngine(engine *pressure.Engine) ExecutorOption {
	return func(e *ParallelExecutor) { e.turbulence = engine }
}

// WithDecidePolicies задаёт политики decide действий
func WithDecidePolicies(policies map[string]*policy.Policy) ExecutorOption {
	return func(e *ParallelExecutor) { e.policies = policies }
}

// WithRateLimiter подключает ограничитель исходящих запросов
func WithRateLimiter(limiter ratelimit.Limiter) ExecutorOption {
	return func(e *ParallelExecutor) { e.limiter = limiter }
}

// WithEntries задаёт источник seed-записей инстансов
func WithEntries(entries EntryProvider) ExecutorOption {
	return func(e *ParallelExecutor) { e.entries = entries }
}

// NewParallelExecutor создаёт исполнитель запуска
func NewParallelExecutor(sutConfig *sut.Config, scenarios []*scenario.Scenario, cfg ExecutorConfig, writer storage.Writer, opts ...ExecutorOption) *ParallelExecutor {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Instances <= 0 {
		cfg.Instances = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	e := &ParallelExecutor{
		sutConfig: sutConfig,
		scenarios: scenarios,
		config:    cfg,
		writer:    writer,
		templates: template.NewEngine(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run исполняет все сценарии: каждый инстанцируется config.Instances
// раз. Возвращает агрегированную статистику. Фатальны только ошибки
// уровня запуска (инициализация приёмника); падение инстанса
// фиксируется в его записи и не прерывает остальных.
func (e *ParallelExecutor) Run(ctx context.Context) (*ExecutionStats, error) {
	if e.sutConfig == nil {
		return nil, apperror.ErrNilSUT
	}
	if len(e.scenarios) == 0 {
		return nil, apperror.ErrNilScenario
	}

	runID := uuid.New().String()
	startedAt := time.Now()

	scenarioIDs := make([]string, len(e.scenarios))
	for i, sc := range e.scenarios {
		scenarioIDs[i] = sc.ID
	}

	manifest := &models.RunManifest{
		RunID:       runID,
		Timestamp:   startedAt,
		SUTName:     e.sutConfig.Name,
		ScenarioIDs: scenarioIDs,
		Seed:        e.config.Seed,
		Config: &models.RunConfig{
			Instances:      e.config.Instances,
			Parallelism:    e.config.Parallelism,
			Seed:           e.config.Seed,
			FailOn:         e.config.FailOn,
			StepDelayMs:    e.config.StepDelayMs,
			TimingJitterMs: e.config.TimingJitterMs,
		},
	}

	runPath := filepath.Join(e.config.OutputDir, runID)
	if err := e.writer.Initialize(runPath, manifest); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "cannot initialize storage")
	}
	defer func() {
		if err := e.writer.Close(); err != nil {
			logger.Log.Error("Failed to close storage", "error", err)
		}
	}()

	pool := NewClientPool(e.sutConfig)
	defer func() {
		if err := pool.CloseAll(); err != nil {
			logger.Log.Error("Failed to close client pool", "error", err)
		}
	}()

	metrics.Get().SetRunInfo(runID, e.sutConfig.Name)

	ctx, span := telemetry.StartSpan(ctx, "run", telemetry.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("sut", e.sutConfig.Name),
		attribute.Int("instances", e.config.Instances),
		attribute.Int("parallelism", e.config.Parallelism),
	))
	defer span.End()

	logger.Log.Info("Starting run",
		"run_id", runID,
		"sut", e.sutConfig.Name,
		"scenarios", len(e.scenarios),
		"instances", e.config.Instances,
		"parallelism", e.config.Parallelism,
		"seed", e.config.Seed,
	)

	variation := NewVariationEngine(e.config.StepDelayMs, e.config.TimingJitterMs, e.config.Seed)

	// Задачи: каждый сценарий инстанцируется Instances раз
	type task struct {
		scenario      *scenario.Scenario
		instanceIndex int // сквозной номер инстанса в запуске
	}

	tasks := make(chan task, len(e.scenarios)*e.config.Instances)
	globalIndex := 0
	for _, sc := range e.scenarios {
		for i := 0; i < e.config.Instances; i++ {
			tasks <- task{scenario: sc, instanceIndex: globalIndex}
			globalIndex++
		}
	}
	close(tasks)

	outcomes := make([]instanceOutcome, globalIndex)

	var wg sync.WaitGroup
	for w := 0; w < e.config.Parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				outcomes[t.instanceIndex] = e.runInstance(ctx, pool, variation, t.scenario, runID, t.instanceIndex)
			}
		}()
	}
	wg.Wait()

	// Агрегация результатов
	result := &ExecutionStats{
		RunID:    runID,
		Duration: time.Since(startedAt),
	}

	var latencies []float64
	for _, out := range outcomes {
		result.Total++
		if out.passed {
			result.Passed++
		} else {
			result.Failed++
		}
		if out.errored {
			result.ErrorCount++
		}
		latencies = append(latencies, out.latencies...)
	}

	if result.Total > 0 {
		result.PassRate = float64(result.Passed) / float64(result.Total) * 100.0
	}
	result.P50Latency = stats.Percentile(latencies, 50)
	result.P95Latency = stats.Percentile(latencies, 95)
	result.P99Latency = stats.Percentile(latencies, 99)

	logger.Log.Info("Run completed",
		"run_id", runID,
		"total", result.Total,
		"passed", result.Passed,
		"failed", result.Failed,
		"pass_rate", fmt.Sprintf("%.1f%%", result.PassRate),
		"duration", result.Duration,
	)

	return result, nil
}

// runInstance исполняет один инстанс сценария. Паники раннеров
// перехватываются на границе инстанса: инстанс помечается ошибочным,
// запуск продолжается.
func (e *ParallelExecutor) runInstance(ctx context.Context, pool *ClientPool, variation *VariationEngine, sc *scenario.Scenario, runID string, instanceIndex int) (outcome instanceOutcome) {
	instanceID := uuid.New().String()
	correlationID := uuid.New().String()
	startedAt := time.Now()

	metrics.Get().InstancesInFlight.Inc()
	defer metrics.Get().InstancesInFlight.Dec()

	instanceCtx, span := telemetry.StartSpan(ctx, "instance", telemetry.WithAttributes(
		attribute.String("instance_id", instanceID),
		attribute.String("scenario_id", sc.ID),
	))
	defer span.End()

	var entry map[string]any
	if e.entries != nil {
		entry = e.entries(instanceIndex)
	}
	entry = variation.Apply(entry, instanceIndex)

	wfContext := NewWorkflowContext(instanceID, runID, correlationID, entry)

	record := &models.InstanceRecord{
		InstanceID:    instanceID,
		RunID:         runID,
		ScenarioID:    sc.ID,
		CorrelationID: correlationID,
		StartedAt:     startedAt,
		EntryData:     entry,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Instance panicked",
				"instance_id", instanceID, "scenario", sc.ID, "panic", r)
			record.Passed = false
			record.Error = fmt.Sprintf("instance panicked: %v", r)
			outcome = instanceOutcome{passed: false, errored: true, latencies: outcome.latencies}
		}

		record.CompletedAt = time.Now()
		if err := e.writer.WriteInstance(record); err != nil {
			logger.Log.Error("Failed to write instance record",
				"instance_id", instanceID, "error", err)
		}
		metrics.Get().RecordInstance(sc.ID, record.Passed, time.Since(startedAt))
	}()

	runner := NewScenarioRunner(e.templates, e.sutConfig, pool,
		WithTurbulence(e.turbulence),
		WithPolicies(e.policies),
		WithSeed(e.config.Seed+int64(instanceIndex)),
		WithLimiter(e.limiter),
	)

	passed := true

	err := runner.ExecuteFlow(instanceCtx, sc, wfContext, func(step Step) bool {
		stepRecord := &models.StepRecord{
			InstanceID:    instanceID,
			RunID:         runID,
			CorrelationID: correlationID,
			StepIndex:     step.Index,
			StepName:      step.Action.ActionName(),
			StepType:      step.Action.Kind(),
			Timestamp:     time.Now(),
			Observation:   step.Observation,
		}
		if writeErr := e.writer.WriteStep(stepRecord); writeErr != nil {
			logger.Log.Error("Failed to write step record",
				"instance_id", instanceID, "step", step.Index, "error", writeErr)
		}

		for _, assertion := range step.Assertions {
			assertionRecord := &models.AssertionRecord{
				InstanceID:    instanceID,
				RunID:         runID,
				CorrelationID: correlationID,
				StepIndex:     step.Index,
				AssertionName: assertion.Name,
				Passed:        assertion.Passed,
				Expected:      assertion.Expected,
				Actual:        assertion.Actual,
				Message:       assertion.Message,
				Timestamp:     time.Now(),
			}
			if writeErr := e.writer.WriteAssertion(assertionRecord); writeErr != nil {
				logger.Log.Error("Failed to write assertion record",
					"instance_id", instanceID, "error", writeErr)
			}
			if !assertion.Passed {
				passed = false
			}
		}

		if !step.Observation.OK && !step.Observation.ConditionSkipped {
			passed = false
		}
		if !step.Observation.ConditionSkipped {
			outcome.latencies = append(outcome.latencies, step.Observation.LatencyMs)
		}

		return true
	})

	if err != nil {
		// Отмена или фатальная ошибка инстанса: шаг в полёте не пишется
		telemetry.SetError(instanceCtx, err)
		record.Passed = false
		record.Error = err.Error()
		outcome.passed = false
		outcome.errored = true
		return outcome
	}

	record.Passed = passed
	outcome.passed = passed
	return outcome
}
