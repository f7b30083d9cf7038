// Package storage реализует приёмники артефактов запуска. Движок пишет
// записи через узкий контракт Writer и одинаково работает с любым
// бэкендом: JSONL файлы, единый индексированный SQLite файл, PostgreSQL
// или Redis streams.
package storage

import (
	"context"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/config"
	"github.com/farmanp/turbulence/pkg/models"
)

// Writer - контракт приёмника записей запуска. Реализации обязаны
// сериализовывать конкурентные записи самостоятельно; порядок записей
// одного инстанса сохраняется, между инстансами порядок не определён.
type Writer interface {
	// Initialize подготавливает хранилище и записывает манифест
	Initialize(runPath string, manifest *models.RunManifest) error

	// WriteInstance записывает итоговую запись инстанса
	WriteInstance(record *models.InstanceRecord) error

	// WriteStep записывает запись шага
	WriteStep(record *models.StepRecord) error

	// WriteAssertion записывает результат проверки
	WriteAssertion(record *models.AssertionRecord) error

	// Close закрывает открытые ресурсы
	Close() error
}

// New создаёт приёмник по имени бэкенда
func New(ctx context.Context, backend string, cfg *config.Config) (Writer, error) {
	switch backend {
	case "jsonl", "":
		return NewJSONLWriter(), nil
	case "sqlite":
		return NewSQLiteWriter(), nil
	case "postgres":
		return NewPostgresWriter(ctx, &cfg.Database)
	case "redis":
		return NewRedisWriter(&cfg.Redis)
	default:
		return nil, apperror.Newf(apperror.CodeStorageError, "unknown storage backend %q", backend)
	}
}
