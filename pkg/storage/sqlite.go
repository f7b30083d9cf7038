package storage

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/models"
)

// SQLiteWriter - приёмник в единый индексированный SQLite файл
// (turbulence.db в каталоге запуска).
type SQLiteWriter struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteWriter создаёт SQLite приёмник
func NewSQLiteWriter() *SQLiteWriter {
	return &SQLiteWriter{}
}

// Initialize открывает базу, создаёт схему и пишет строку запуска
func (w *SQLiteWriter) Initialize(runPath string, manifest *models.RunManifest) error {
	db, err := sql.Open("sqlite", filepath.Join(runPath, "turbulence.db"))
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot open sqlite database")
	}
	// SQLite допускает только одного писателя
	db.SetMaxOpenConns(1)
	w.db = db

	if err := w.createSchema(); err != nil {
		return err
	}

	var configJSON any
	if manifest.Config != nil {
		raw, err := json.Marshal(manifest.Config)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode run config")
		}
		configJSON = string(raw)
	}

	scenarioIDs, err := json.Marshal(manifest.ScenarioIDs)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode scenario ids")
	}

	_, err = w.db.Exec(
		`INSERT INTO runs (id, started_at, sut_name, scenario_ids, seed, config)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		manifest.RunID,
		manifest.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
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

func (w *SQLiteWriter) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			sut_name TEXT,
			scenario_ids TEXT,
			seed INTEGER,
			config TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			run_id TEXT REFERENCES runs(id),
			scenario_id TEXT,
			correlation_id TEXT,
			status TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			entry_data TEXT,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT REFERENCES instances(id),
			run_id TEXT,
			correlation_id TEXT,
			step_index INTEGER,
			step_name TEXT,
			step_type TEXT,
			timestamp TIMESTAMP,
			observation TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS assertions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT REFERENCES instances(id),
			run_id TEXT,
			correlation_id TEXT,
			step_index INTEGER,
			assertion_name TEXT,
			passed BOOLEAN,
			expected TEXT,
			actual TEXT,
			message TEXT,
			timestamp TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_scenario ON instances(scenario_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_instance ON steps(instance_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_type ON steps(step_type)`,
		`CREATE INDEX IF NOT EXISTS idx_assertions_instance ON assertions(instance_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assertions_passed ON assertions(passed)`,
	}

	for _, stmt := range statements {
		if _, err := w.db.Exec(stmt); err != nil {
			return apperror.Wrap(err, apperror.CodeStorageError, "cannot create schema")
		}
	}
	return nil
}

// WriteInstance записывает запись инстанса
func (w *SQLiteWriter) WriteInstance(record *models.InstanceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return apperror.ErrStorageNotReady
	}

	status := "pass"
	if !record.Passed {
		status = "fail"
	}

	entryData, err := json.Marshal(record.EntryData)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode entry data")
	}

	_, err = w.db.Exec(
		`INSERT OR REPLACE INTO instances
		 (id, run_id, scenario_id, correlation_id, status, started_at, completed_at, entry_data, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.InstanceID,
		record.RunID,
		record.ScenarioID,
		record.CorrelationID,
		status,
		record.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		record.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		string(entryData),
		nullable(record.Error),
	)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write instance")
	}
	return nil
}

// WriteStep записывает запись шага
func (w *SQLiteWriter) WriteStep(record *models.StepRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return apperror.ErrStorageNotReady
	}

	observation, err := json.Marshal(record.Observation)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode observation")
	}

	_, err = w.db.Exec(
		`INSERT INTO steps
		 (instance_id, run_id, correlation_id, step_index, step_name, step_type, timestamp, observation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.InstanceID,
		record.RunID,
		record.CorrelationID,
		record.StepIndex,
		record.StepName,
		record.StepType,
		record.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		string(observation),
	)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write step")
	}
	return nil
}

// WriteAssertion записывает результат проверки
func (w *SQLiteWriter) WriteAssertion(record *models.AssertionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return apperror.ErrStorageNotReady
	}

	expected, err := marshalNullable(record.Expected)
	if err != nil {
		return err
	}
	actual, err := marshalNullable(record.Actual)
	if err != nil {
		return err
	}

	_, err = w.db.Exec(
		`INSERT INTO assertions
		 (instance_id, run_id, correlation_id, step_index, assertion_name, passed, expected, actual, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.InstanceID,
		record.RunID,
		record.CorrelationID,
		record.StepIndex,
		record.AssertionName,
		record.Passed,
		expected,
		actual,
		nullable(record.Message),
		record.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write assertion")
	}
	return nil
}

// Close закрывает базу данных
func (w *SQLiteWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "cannot encode value")
	}
	return string(raw), nil
}
