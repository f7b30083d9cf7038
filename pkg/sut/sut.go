// Package sut описывает конфигурацию системы под тестом: сервисы,
// заголовки по умолчанию и профили окружений.
package sut

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/farmanp/turbulence/pkg/apperror"
)

// Protocol поддерживаемые протоколы сервисов
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// HTTPService - настройки HTTP сервиса
type HTTPService struct {
	BaseURL        string            `yaml:"base_url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds float64           `yaml:"timeout_seconds"`
}

// GRPCService - настройки gRPC сервиса
type GRPCService struct {
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	UseTLS         bool    `yaml:"use_tls"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Service - конфигурация одного сервиса системы под тестом
type Service struct {
	Protocol string       `yaml:"protocol"`
	HTTP     *HTTPService `yaml:"http"`
	GRPC     *GRPCService `yaml:"grpc"`
}

// Timeout возвращает таймаут сервиса (по умолчанию 30 секунд)
func (s *Service) Timeout() time.Duration {
	var seconds float64
	switch {
	case s.HTTP != nil && s.HTTP.TimeoutSeconds > 0:
		seconds = s.HTTP.TimeoutSeconds
	case s.GRPC != nil && s.GRPC.TimeoutSeconds > 0:
		seconds = s.GRPC.TimeoutSeconds
	default:
		seconds = 30.0
	}
	return time.Duration(seconds * float64(time.Second))
}

// BaseURL возвращает базовый URL HTTP сервиса (без завершающего слэша)
func (s *Service) BaseURL() string {
	if s.HTTP != nil {
		return strings.TrimRight(s.HTTP.BaseURL, "/")
	}
	return ""
}

// Address возвращает адрес gRPC сервиса host:port
func (s *Service) Address() string {
	if s.GRPC == nil {
		return ""
	}
	return s.GRPC.Host + ":" + strconv.Itoa(s.GRPC.Port)
}

// ProfileService - переопределения сервиса в профиле
type ProfileService struct {
	HTTP *HTTPService `yaml:"http"`
	GRPC *GRPCService `yaml:"grpc"`
}

// Profile - переопределения конфигурации для окружения
type Profile struct {
	DefaultHeaders map[string]string          `yaml:"default_headers"`
	Services       map[string]*ProfileService `yaml:"services"`
}

// Config - конфигурация системы под тестом
type Config struct {
	Name           string              `yaml:"name"`
	DefaultHeaders map[string]string   `yaml:"default_headers"`
	Services       map[string]*Service `yaml:"services"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	DefaultProfile string              `yaml:"default_profile"`
}

// GetService возвращает сервис по имени
func (c *Config) GetService(name string) (*Service, error) {
	svc, ok := c.Services[name]
	if !ok {
		available := make([]string, 0, len(c.Services))
		for n := range c.Services {
			available = append(available, n)
		}
		sort.Strings(available)
		return nil, apperror.Newf(apperror.CodeServiceNotFound,
			"service %q not found, available: %s", name, strings.Join(available, ", "))
	}
	return svc, nil
}

// HeadersForService возвращает объединённые заголовки:
// глобальные default_headers плюс заголовки сервиса
func (c *Config) HeadersForService(name string) map[string]string {
	merged := make(map[string]string, len(c.DefaultHeaders))
	for k, v := range c.DefaultHeaders {
		merged[k] = v
	}

	if svc, ok := c.Services[name]; ok && svc.HTTP != nil {
		for k, v := range svc.HTTP.Headers {
			merged[k] = v
		}
	}
	return merged
}

// Validate проверяет структурную корректность конфигурации
func (c *Config) Validate() *apperror.ValidationErrors {
	errs := apperror.NewValidationErrors()

	if c.Name == "" {
		errs.AddErrorWithField(apperror.CodeInvalidSUT, "sut name is required", "name")
	}
	if len(c.Services) == 0 {
		errs.AddErrorWithField(apperror.CodeInvalidSUT, "at least one service is required", "services")
	}

	for name, svc := range c.Services {
		if svc == nil {
			errs.AddErrorWithField(apperror.CodeInvalidSUT, "service definition is empty", "services."+name)
			continue
		}
		if svc.Protocol == "" {
			svc.Protocol = ProtocolHTTP
		}
		switch svc.Protocol {
		case ProtocolHTTP:
			if svc.HTTP == nil || svc.HTTP.BaseURL == "" {
				errs.AddErrorWithField(apperror.CodeInvalidSUT,
					"http service requires base_url", "services."+name+".http.base_url")
			}
		case ProtocolGRPC:
			if svc.GRPC == nil || svc.GRPC.Host == "" || svc.GRPC.Port <= 0 {
				errs.AddErrorWithField(apperror.CodeInvalidSUT,
					"grpc service requires host and port", "services."+name+".grpc")
			}
		default:
			errs.AddErrorWithField(apperror.CodeInvalidSUT,
				"protocol must be http or grpc, got "+svc.Protocol, "services."+name+".protocol")
		}
	}

	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			errs.AddErrorWithField(apperror.CodeProfileNotFound,
				"default profile "+c.DefaultProfile+" is not defined", "default_profile")
		}
	}

	return errs
}

