package sut

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/farmanp/turbulence/pkg/apperror"
)

// Load загружает и валидирует конфигурацию SUT из YAML файла.
// Если указан profile (или default_profile в самом файле), поверх базовой
// конфигурации применяются переопределения профиля.
func Load(path string, profile string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidSUT,
			fmt.Sprintf("cannot read sut config %s", path))
	}

	// Сначала раскрываем {{env.*}}, потом декодируем в модель
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidSUT,
			fmt.Sprintf("invalid YAML syntax in %s", path))
	}
	if generic == nil {
		return nil, apperror.Newf(apperror.CodeInvalidSUT, "sut config %s is empty", path)
	}

	resolved, err := ResolveEnvVars(generic)
	if err != nil {
		return nil, err
	}

	resolvedYAML, err := yaml.Marshal(resolved)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidSUT, "cannot re-encode resolved config")
	}

	var cfg Config
	if err := yaml.Unmarshal(resolvedYAML, &cfg); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidSUT,
			fmt.Sprintf("sut config %s does not match the expected structure", path))
	}

	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, apperror.Newf(apperror.CodeInvalidSUT,
			"sut config validation failed: %s", strings.Join(errs.ErrorMessages(), "; "))
	}

	target := profile
	if target == "" {
		target = cfg.DefaultProfile
	}
	if target == "" {
		return &cfg, nil
	}

	if err := cfg.ApplyProfile(target); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyProfile применяет переопределения профиля к базовой конфигурации
func (c *Config) ApplyProfile(name string) error {
	profile, ok := c.Profiles[name]
	if !ok {
		available := make([]string, 0, len(c.Profiles))
		for n := range c.Profiles {
			available = append(available, n)
		}
		sort.Strings(available)
		return apperror.Newf(apperror.CodeProfileNotFound,
			"profile %q not found, available: %s", name, strings.Join(available, ", "))
	}

	// Объединяем заголовки по умолчанию
	if profile.DefaultHeaders != nil {
		if c.DefaultHeaders == nil {
			c.DefaultHeaders = make(map[string]string, len(profile.DefaultHeaders))
		}
		for k, v := range profile.DefaultHeaders {
			c.DefaultHeaders[k] = v
		}
	}

	// Переопределяем сервисы. Сервисы, которых нет в базовой конфигурации,
	// пропускаются: профиль не может объявить сервис целиком.
	for svcName, override := range profile.Services {
		base, ok := c.Services[svcName]
		if !ok || override == nil {
			continue
		}

		if override.HTTP != nil && base.HTTP != nil {
			if override.HTTP.BaseURL != "" {
				base.HTTP.BaseURL = override.HTTP.BaseURL
			}
			if override.HTTP.TimeoutSeconds > 0 {
				base.HTTP.TimeoutSeconds = override.HTTP.TimeoutSeconds
			}
			if override.HTTP.Headers != nil {
				if base.HTTP.Headers == nil {
					base.HTTP.Headers = make(map[string]string, len(override.HTTP.Headers))
				}
				for k, v := range override.HTTP.Headers {
					base.HTTP.Headers[k] = v
				}
			}
		}

		if override.GRPC != nil && base.GRPC != nil {
			if override.GRPC.Host != "" {
				base.GRPC.Host = override.GRPC.Host
			}
			if override.GRPC.Port > 0 {
				base.GRPC.Port = override.GRPC.Port
			}
			if override.GRPC.TimeoutSeconds > 0 {
				base.GRPC.TimeoutSeconds = override.GRPC.TimeoutSeconds
			}
		}
	}

	return nil
}
