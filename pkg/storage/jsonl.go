package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/models"
)

// jsonlFile - один JSONL файл с немедленным flush после каждой записи
type jsonlFile struct {
	mu   sync.Mutex
	file *os.File
}

func openJSONL(path string) (*jsonlFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "cannot open "+path)
	}
	return &jsonlFile{file: f}, nil
}

func (j *jsonlFile) write(record any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return apperror.ErrStorageNotReady
	}

	line, err := json.Marshal(record)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode record")
	}

	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write record")
	}
	// Flush сразу: записи должны переживать аварийное завершение
	return j.file.Sync()
}

func (j *jsonlFile) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// JSONLWriter - приёмник в формате JSON Lines: manifest.json плюс
// instances.jsonl, steps.jsonl и assertions.jsonl в каталоге запуска.
type JSONLWriter struct {
	instances  *jsonlFile
	steps      *jsonlFile
	assertions *jsonlFile
}

// NewJSONLWriter создаёт JSONL приёмник
func NewJSONLWriter() *JSONLWriter {
	return &JSONLWriter{}
}

// Initialize создаёт каталог запуска и пишет манифест
func (w *JSONLWriter) Initialize(runPath string, manifest *models.RunManifest) error {
	if err := os.MkdirAll(runPath, 0755); err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot create run directory")
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot encode manifest")
	}
	if err := os.WriteFile(filepath.Join(runPath, "manifest.json"), manifestJSON, 0644); err != nil {
		return apperror.Wrap(err, apperror.CodeStorageError, "cannot write manifest")
	}

	if w.instances, err = openJSONL(filepath.Join(runPath, "instances.jsonl")); err != nil {
		return err
	}
	if w.steps, err = openJSONL(filepath.Join(runPath, "steps.jsonl")); err != nil {
		return err
	}
	if w.assertions, err = openJSONL(filepath.Join(runPath, "assertions.jsonl")); err != nil {
		return err
	}

	return nil
}

// WriteInstance записывает запись инстанса
func (w *JSONLWriter) WriteInstance(record *models.InstanceRecord) error {
	if w.instances == nil {
		return apperror.ErrStorageNotReady
	}
	return w.instances.write(record)
}

// WriteStep записывает запись шага
func (w *JSONLWriter) WriteStep(record *models.StepRecord) error {
	if w.steps == nil {
		return apperror.ErrStorageNotReady
	}
	return w.steps.write(record)
}

// WriteAssertion записывает результат проверки
func (w *JSONLWriter) WriteAssertion(record *models.AssertionRecord) error {
	if w.assertions == nil {
		return apperror.ErrStorageNotReady
	}
	return w.assertions.write(record)
}

// Close закрывает все файлы
func (w *JSONLWriter) Close() error {
	var firstErr error
	for _, f := range []*jsonlFile{w.instances, w.steps, w.assertions} {
		if f == nil {
			continue
		}
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadJSONL читает все записи из JSONL файла. Утилита для тестов и
// инструментов анализа.
func ReadJSONL(path string) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "cannot read "+path)
	}

	var records []map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeStorageError, "cannot decode record")
		}
		records = append(records, rec)
	}
	return records, nil
}
