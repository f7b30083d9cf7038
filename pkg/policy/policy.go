// Package policy содержит модели персон и политик поведения: взвешенные
// варианты для decide действий и тестовые данные.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/farmanp/turbulence/pkg/apperror"
)

// Persona - архетип пользователя для симуляции поведения
type Persona struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Hints       map[string]any `yaml:"hints"`
}

// DecisionWeights - распределение весов вариантов в одной точке решения.
// Веса должны быть неотрицательными; сумма близка к 1.0, но это не
// требование.
type DecisionWeights struct {
	Options map[string]float64 `yaml:"options"`
}

// Validate проверяет неотрицательность весов
func (w *DecisionWeights) Validate() error {
	for name, weight := range w.Options {
		if weight < 0 {
			return apperror.Newf(apperror.CodeInvalidArgument,
				"weight for %q must be non-negative, got %v", name, weight)
		}
	}
	return nil
}

// Policy - политика поведения одной персоны
type Policy struct {
	PersonaID string                     `yaml:"persona_id"`
	Decisions map[string]DecisionWeights `yaml:"decisions"`
	Data      map[string][]any           `yaml:"data"`
}

// Config - файл конфигурации с набором политик
type Config struct {
	Policies []*Policy `yaml:"policies"`
}

// Load загружает политики из YAML файла и возвращает их по persona_id
func Load(path string) (map[string]*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidArgument,
			fmt.Sprintf("cannot read policy file %s", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidArgument,
			fmt.Sprintf("invalid YAML syntax in %s", path))
	}

	policies := make(map[string]*Policy, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if p.PersonaID == "" {
			return nil, apperror.Newf(apperror.CodeInvalidArgument,
				"policy in %s has no persona_id", path)
		}
		for decision, weights := range p.Decisions {
			if err := weights.Validate(); err != nil {
				return nil, apperror.Wrap(err, apperror.CodeInvalidArgument,
					fmt.Sprintf("decision %q of persona %q", decision, p.PersonaID))
			}
		}
		policies[p.PersonaID] = p
	}

	return policies, nil
}
