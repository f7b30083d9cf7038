// Package pressure реализует внедрение сбоев (turbulence): политики
// задержек, подмены статусов и обрывов соединения, привязанные к паре
// (сервис, действие). Движок оборачивает выполнение HTTP действия и
// прозрачен для самого раннера.
package pressure

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/farmanp/turbulence/pkg/apperror"
)

// Виды распределений задержки
const (
	DistributionFixed   = "fixed"
	DistributionUniform = "uniform"
)

// LatencyConfig - внедрение задержки перед выполнением действия
type LatencyConfig struct {
	Distribution string  `yaml:"distribution"` // fixed, uniform
	DelayMs      int     `yaml:"delay_ms"`     // для fixed
	MinMs        int     `yaml:"min_ms"`       // для uniform
	MaxMs        int     `yaml:"max_ms"`       // для uniform
	Probability  float64 `yaml:"probability"`  // 0..1, по умолчанию 1
}

// ErrorConfig - подмена ответа синтетической ошибкой
type ErrorConfig struct {
	StatusCode  int     `yaml:"status_code"`
	Probability float64 `yaml:"probability"`
}

// DropConfig - обрыв: синтетическая ошибка соединения вместо запроса
type DropConfig struct {
	Probability float64 `yaml:"probability"`
}

// TurbulencePolicy - директива внедрения сбоев для пары (service, action)
type TurbulencePolicy struct {
	Service string         `yaml:"service"`
	Action  string         `yaml:"action"`
	Latency *LatencyConfig `yaml:"latency"`
	Error   *ErrorConfig   `yaml:"error"`
	Drop    *DropConfig    `yaml:"drop"`
}

// Config - набор политик turbulence
type Config struct {
	Policies []*TurbulencePolicy `yaml:"policies"`
}

// Validate проверяет вероятности и распределения
func (c *Config) Validate() error {
	for i, p := range c.Policies {
		if p.Service == "" || p.Action == "" {
			return apperror.Newf(apperror.CodeInvalidArgument,
				"turbulence policy %d requires service and action", i)
		}
		if p.Latency != nil {
			switch p.Latency.Distribution {
			case "", DistributionFixed, DistributionUniform:
			default:
				return apperror.Newf(apperror.CodeInvalidArgument,
					"turbulence policy %d: unknown latency distribution %q", i, p.Latency.Distribution)
			}
			if badProbability(p.Latency.Probability) {
				return apperror.Newf(apperror.CodeInvalidArgument,
					"turbulence policy %d: latency probability must be in [0, 1]", i)
			}
		}
		if p.Error != nil && badProbability(p.Error.Probability) {
			return apperror.Newf(apperror.CodeInvalidArgument,
				"turbulence policy %d: error probability must be in [0, 1]", i)
		}
		if p.Drop != nil && badProbability(p.Drop.Probability) {
			return apperror.Newf(apperror.CodeInvalidArgument,
				"turbulence policy %d: drop probability must be in [0, 1]", i)
		}
	}
	return nil
}

func badProbability(p float64) bool {
	return p < 0 || p > 1
}

// LoadConfig загружает политики turbulence из YAML файла
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidArgument,
			fmt.Sprintf("cannot read turbulence config %s", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidArgument,
			fmt.Sprintf("invalid YAML syntax in %s", path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
