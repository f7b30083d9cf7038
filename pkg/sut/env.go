package sut

import (
	"os"
	"regexp"
	"strings"

	"github.com/farmanp/turbulence/pkg/apperror"
)

// envVarPattern - подстановка переменных окружения в конфигурации:
// {{env.VAR}} или {{env.VAR | default:VALUE}}
var envVarPattern = regexp.MustCompile(`\{\{\s*env\.([a-zA-Z_][a-zA-Z0-9_]*)\s*(\|\s*default:([^}]+))?\s*\}\}`)

// ResolveEnvVars рекурсивно подставляет переменные окружения в структуре
// данных. Подстановка выполняется до валидации, поэтому движок никогда
// не видит выражений {{env.*}}.
func ResolveEnvVars(data any) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := ResolveEnvVars(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := ResolveEnvVars(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return resolveString(v)
	default:
		return data, nil
	}
}

func resolveString(value string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := groups[2] != ""
		def := strings.TrimSpace(groups[3])

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		if firstErr == nil {
			firstErr = apperror.Newf(apperror.CodeEnvVarMissing,
				"required environment variable %q is not set and no default provided", name)
		}
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}
