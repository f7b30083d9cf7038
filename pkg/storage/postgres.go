package storage

import (
	"context"
	"embed"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/config"
	"github.com/farmanp/turbulence/pkg/database"
	"github.com/farmanp/turbulence/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgExecutor - минимальный интерфейс пула, нужный приёмнику.
// Выделен ради тестируемости (pgxmock).
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresWriter - приёмник в PostgreSQL. В отличие от файловых бэкендов
// runPath не используется: все данные уходят в таблицы.
type PostgresWriter struct {
	mu   sync.Mutex
	db   pgExecutor
	pool *database.PostgresDB
}

// NewPostgresWriter подключается к PostgreSQL и применяет миграции
func NewPostgresWriter(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresWriter, error) {
	db, err := database.NewPostgresDB(ctx, cfg)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "cannot connect to postgres")
	}

	if err := database.RunMigrations(ctx, db.Pool(), cfg, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "cannot apply migrations")
	}

	return &PostgresWriter{db: db, pool: db}, nil
}

// NewPostgresWriterWithDB создаёт приёмник поверх готового исполнителя
// запросов (используется в тестах)
func NewPostgresWriterWithDB(db pgExecutor) *PostgresWriter {
	return &PostgresWriter{db: db}
}

// Initialize записывает строку запуска
func (w *PostgresWriter) Initialize(runPath string, manifest *models.RunManifest) error {
	_ = runPath

	configJSON, err := marshalNullable(manifest.Config)
	if err != nil {
		return err
	}

	scenarioIDs, err := json.Marshal(manifest.ScenarioIDs)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode scenario ids")
	}

	_, err = w.db.Exec(context.Background(),
		`INSERT INTO runs (id, started_at, sut_name, scenario_ids, seed, config)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		manifest.RunID,
		manifest.Timestamp,
		manifest.SUTName,
		string(scenarioIDs),
		manifest.Seed,
		configJSON,
	)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write run row")
	}
	return nil
}

// WriteInstance записывает запись инстанса
func (w *PostgresWriter) WriteInstance(record *models.InstanceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := "pass"
	if !record.Passed {
		status = "fail"
	}

	entryData, err := json.Marshal(record.EntryData)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode entry data")
	}

	_, err = w.db.Exec(context.Background(),
		`INSERT INTO instances
		 (id, run_id, scenario_id, correlation_id, status, started_at, completed_at, entry_data, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   completed_at = EXCLUDED.completed_at,
		   error = EXCLUDED.error`,
		record.InstanceID,
		record.RunID,
		record.ScenarioID,
		record.CorrelationID,
		status,
		record.StartedAt,
		record.CompletedAt,
		string(entryData),
		nullable(record.Error),
	)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write instance")
	}
	return nil
}

// WriteStep записывает запись шага
func (w *PostgresWriter) WriteStep(record *models.StepRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	observation, err := json.Marshal(record.Observation)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode observation")
	}

	_, err = w.db.Exec(context.Background(),
		`INSERT INTO steps
		 (instance_id, run_id, correlation_id, step_index, step_name, step_type, timestamp, observation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.InstanceID,
		record.RunID,
		record.CorrelationID,
		record.StepIndex,
		record.StepName,
		record.StepType,
		record.Timestamp,
		string(observation),
	)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write step")
	}
	return nil
}

// WriteAssertion записывает результат проверки
func (w *PostgresWriter) WriteAssertion(record *models.AssertionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	expected, err := marshalNullable(record.Expected)
	if err != nil {
		return err
	}
	actual, err := marshalNullable(record.Actual)
	if err != nil {
		return err
	}

	_, err = w.db.Exec(context.Background(),
		`INSERT INTO assertions
		 (instance_id, run_id, correlation_id, step_index, assertion_name, passed, expected, actual, message, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.InstanceID,
		record.RunID,
		record.CorrelationID,
		record.StepIndex,
		record.AssertionName,
		record.Passed,
		expected,
		actual,
		nullable(record.Message),
		record.Timestamp,
	)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write assertion")
	}
	return nil
}

// Close закрывает пул соединений
func (w *PostgresWriter) Close() error {
	if w.pool != nil {
		w.pool.Close()
	}
	return nil
}
