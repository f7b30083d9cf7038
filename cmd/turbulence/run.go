package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/farmanp/turbulence/pkg/config"
	"github.com/farmanp/turbulence/pkg/engine"
	"github.com/farmanp/turbulence/pkg/gating"
	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/metrics"
	"github.com/farmanp/turbulence/pkg/policy"
	"github.com/farmanp/turbulence/pkg/pressure"
	"github.com/farmanp/turbulence/pkg/ratelimit"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/storage"
	"github.com/farmanp/turbulence/pkg/sut"
	"github.com/farmanp/turbulence/pkg/telemetry"
)

// runOptions - флаги команды run
type runOptions struct {
	sutPath        string
	scenariosDir   string
	policiesPath   string
	turbulencePath string
	entriesPath    string
	instances      int
	parallelism    int
	seed           int64
	outputDir      string
	backend        string
	profile        string
	failOn         []string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute workflow simulations against the system under test",
		Long:  "Runs N instances of the defined scenarios with bounded parallelism, executing actions and recording observations in the output directory under a unique run ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.sutPath, "sut", "s", "", "path to the SUT configuration file")
	cmd.Flags().StringVarP(&opts.scenariosDir, "scenarios", "c", "", "path to the scenarios directory")
	cmd.Flags().StringVar(&opts.policiesPath, "policies", "", "path to the decide policies file")
	cmd.Flags().StringVar(&opts.turbulencePath, "turbulence", "", "path to the turbulence (fault injection) config")
	cmd.Flags().StringVar(&opts.entriesPath, "entries", "", "path to a JSONL file with per-instance entry records")
	cmd.Flags().IntVarP(&opts.instances, "n", "n", 0, "number of instances per scenario (default from config)")
	cmd.Flags().IntVarP(&opts.parallelism, "parallel", "p", 0, "maximum concurrent instances (default from config)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed for reproducible runs (auto if 0)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "directory for run artifacts (default from config)")
	cmd.Flags().StringVar(&opts.backend, "storage", "", "storage backend: jsonl, sqlite, postgres, redis")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "SUT environment profile")
	cmd.Flags().StringSliceVar(&opts.failOn, "fail-on", nil, "gating thresholds, e.g. pass_rate>=99 (repeatable)")

	_ = cmd.MarkFlagRequired("sut")
	_ = cmd.MarkFlagRequired("scenarios")

	return cmd
}

func runRun(ctx context.Context, opts *runOptions) error {
	// Загружаем runtime конфигурацию
	cfg, err := config.Load()
	if err != nil {
		logger.Init("error")
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Инициализируем логгер
	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	logger.Log.Info("Starting turbulence",
		"version", version,
		"environment", cfg.App.Environment,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Метрики
	if cfg.Metrics.Enabled {
		metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	// Телеметрия
	tracerProvider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	// Пороговые значения парсим до запуска: ошибки синтаксиса должны
	// останавливать запуск заранее
	thresholds, err := gating.ParseAll(opts.failOn)
	if err != nil {
		return err
	}

	// Конфигурация SUT и сценарии
	sutConfig, err := sut.Load(opts.sutPath, opts.profile)
	if err != nil {
		return err
	}

	scenarios, err := scenario.LoadDir(opts.scenariosDir)
	if err != nil {
		return err
	}

	// Политики decide действий
	var policies map[string]*policy.Policy
	if opts.policiesPath != "" {
		if policies, err = policy.Load(opts.policiesPath); err != nil {
			return err
		}
	}

	// Сид фиксируется здесь: им делятся исполнитель и turbulence движок
	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}

	// Параметры запуска: флаги перекрывают конфигурацию
	runCfg := engine.ExecutorConfig{
		Instances:      cfg.Run.Instances,
		Parallelism:    cfg.Run.Parallelism,
		Seed:           opts.seed,
		OutputDir:      cfg.Run.OutputDir,
		StepDelayMs:    cfg.Run.StepDelayMs,
		TimingJitterMs: cfg.Run.TimingJitterMs,
		FailOn:         opts.failOn,
	}
	if opts.instances > 0 {
		runCfg.Instances = opts.instances
	}
	if opts.parallelism > 0 {
		runCfg.Parallelism = opts.parallelism
	}
	if opts.outputDir != "" {
		runCfg.OutputDir = opts.outputDir
	}

	// Приёмник артефактов
	storageBackend := cfg.Storage.Backend
	if opts.backend != "" {
		storageBackend = opts.backend
	}
	writer, err := storage.New(ctx, storageBackend, cfg)
	if err != nil {
		return fmt.Errorf("failed to create storage writer: %w", err)
	}

	engineOpts := []engine.ExecutorOption{}

	// Turbulence
	if opts.turbulencePath != "" {
		turbulenceCfg, err := pressure.LoadConfig(opts.turbulencePath)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithTurbulenceEngine(pressure.NewEngine(turbulenceCfg, opts.seed)))
	}

	if policies != nil {
		engineOpts = append(engineOpts, engine.WithDecidePolicies(policies))
	}

	// Ограничитель нагрузки
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.Redis.Addr,
			RedisPassword:   cfg.Redis.Password,
			RedisDB:         cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		defer limiter.Close()
		engineOpts = append(engineOpts, engine.WithRateLimiter(limiter))
	}

	// Seed-записи инстансов
	if opts.entriesPath != "" {
		entries, err := loadEntries(opts.entriesPath)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithEntries(entries))
	}

	executor := engine.NewParallelExecutor(sutConfig, scenarios, runCfg, writer, engineOpts...)

	result, err := executor.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	printSummary(result)

	// Гейтинг
	gatePassed := true
	summary := result.Summary()
	for _, threshold := range thresholds {
		passed, _, message := threshold.Evaluate(summary)
		fmt.Println(message)
		if !passed {
			gatePassed = false
		}
	}

	if !gatePassed {
		return errGateFailed
	}
	return nil
}

func printSummary(result *engine.ExecutionStats) {
	fmt.Printf("\nRun %s completed in %s\n", result.RunID, result.Duration.Round(time.Millisecond))
	fmt.Printf("  instances: %d (passed %d, failed %d, errors %d)\n",
		result.Total, result.Passed, result.Failed, result.ErrorCount)
	fmt.Printf("  pass rate: %.1f%%\n", result.PassRate)
	fmt.Printf("  latency:   p50 %.1fms, p95 %.1fms, p99 %.1fms\n",
		result.P50Latency, result.P95Latency, result.P99Latency)
}

// loadEntries читает seed-записи из JSONL файла. Записи выдаются
// инстансам по кругу.
func loadEntries(path string) (engine.EntryProvider, error) {
	records, err := storage.ReadJSONL(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("entries file %s is empty", path)
	}

	return func(instanceIndex int) map[string]any {
		record := records[instanceIndex%len(records)]
		// Копия: вариации не должны протекать между инстансами
		out := make(map[string]any, len(record))
		for k, v := range record {
			out[k] = v
		}
		return out
	}, nil
}
