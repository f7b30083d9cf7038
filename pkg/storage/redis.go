package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/config"
	"github.com/farmanp/turbulence/pkg/models"
)

// recordTTL - сколько живут записи запуска в Redis
const recordTTL = 24 * time.Hour

// RedisWriter - приёмник в Redis streams. Предназначен для живых
// дашбордов: записи шагов и инстансов публикуются через XADD и могут
// читаться подписчиками по мере выполнения запуска.
type RedisWriter struct {
	client *redis.Client
	runID  string
}

// NewRedisWriter создаёт Redis приёмник
func NewRedisWriter(cfg *config.RedisConfig) (*RedisWriter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "redis ping failed")
	}

	return &RedisWriter{client: client}, nil
}

// Initialize записывает манифест в ключ запуска
func (w *RedisWriter) Initialize(runPath string, manifest *models.RunManifest) error {
	_ = runPath

	w.runID = manifest.RunID

	raw, err := json.Marshal(manifest)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode manifest")
	}

	ctx := context.Background()
	key := fmt.Sprintf("turbulence:%s:manifest", w.runID)
	if err := w.client.Set(ctx, key, raw, recordTTL).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write manifest")
	}
	return nil
}

func (w *RedisWriter) add(stream string, record any) error {
	if w.runID == "" {
		return apperror.ErrStorageNotReady
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode record")
	}

	ctx := context.Background()
	key := fmt.Sprintf("turbulence:%s:%s", w.runID, stream)
	err = w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"record": string(raw)},
	}).Err()
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot append to "+stream)
	}
	// TTL продлевается при каждой записи
	return w.client.Expire(ctx, key, recordTTL).Err()
}

// WriteInstance записывает запись инстанса
func (w *RedisWriter) WriteInstance(record *models.InstanceRecord) error {
	return w.add("instances", record)
}

// WriteStep записывает запись шага
func (w *RedisWriter) WriteStep(record *models.StepRecord) error {
	return w.add("steps", record)
}

// WriteAssertion записывает результат проверки
func (w *RedisWriter) WriteAssertion(record *models.AssertionRecord) error {
	return w.add("assertions", record)
}

// Close закрывает соединение с Redis
func (w *RedisWriter) Close() error {
	return w.client.Close()
}
