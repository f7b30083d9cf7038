package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics глобальный контейнер метрик движка
type Metrics struct {
	// Метрики действий
	ActionsTotal   *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	RetriesTotal   *prometheus.CounterVec

	// Метрики turbulence
	FaultsInjectedTotal *prometheus.CounterVec

	// Метрики инстансов
	InstancesTotal    *prometheus.CounterVec
	InstanceDuration  *prometheus.HistogramVec
	InstancesInFlight prometheus.Gauge

	// Информация о запуске
	RunInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics инициализирует метрики
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		ActionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "actions_total",
				Help:      "Total number of executed actions",
			},
			[]string{"kind", "status"},
		),

		ActionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "action_duration_seconds",
				Help:      "Duration of action execution",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),

		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "retries_total",
				Help:      "Total number of HTTP retry attempts",
			},
			[]string{"service"},
		),

		FaultsInjectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "faults_injected_total",
				Help:      "Total number of injected faults",
			},
			[]string{"kind"},
		),

		InstancesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "instances_total",
				Help:      "Total number of completed scenario instances",
			},
			[]string{"scenario", "status"},
		),

		InstanceDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "instance_duration_seconds",
				Help:      "Duration of scenario instances",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"scenario"},
		),

		InstancesInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "instances_in_flight",
				Help:      "Current number of scenario instances being executed",
			},
		),

		RunInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "run_info",
				Help:      "Run information",
			},
			[]string{"run_id", "sut"},
		),
	}

	defaultMetrics = m
	return m
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("turbulence", "")
	}
	return defaultMetrics
}

// RecordAction записывает метрики выполнения действия
func (m *Metrics) RecordAction(kind string, ok bool, duration time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ActionsTotal.WithLabelValues(kind, status).Inc()
	m.ActionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRetry записывает попытку повтора
func (m *Metrics) RecordRetry(service string) {
	m.RetriesTotal.WithLabelValues(service).Inc()
}

// RecordFault записывает внедрённый сбой
func (m *Metrics) RecordFault(kind string) {
	m.FaultsInjectedTotal.WithLabelValues(kind).Inc()
}

// RecordInstance записывает завершение инстанса
func (m *Metrics) RecordInstance(scenario string, passed bool, duration time.Duration) {
	status := "pass"
	if !passed {
		status = "fail"
	}
	m.InstancesTotal.WithLabelValues(scenario, status).Inc()
	m.InstanceDuration.WithLabelValues(scenario).Observe(duration.Seconds())
}

// SetRunInfo устанавливает информацию о текущем запуске
func (m *Metrics) SetRunInfo(runID, sutName string) {
	m.RunInfo.WithLabelValues(runID, sutName).Set(1)
}

// Handler возвращает HTTP handler для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer запускает HTTP сервер для метрик
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		// Игнорируем ошибку записи - response уже отправлен
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, ошибка записи не критична
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
