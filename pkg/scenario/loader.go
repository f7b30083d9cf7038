package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/sut"
)

// Load загружает один сценарий из YAML файла
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidScenario,
			fmt.Sprintf("cannot read scenario %s", path))
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidScenario,
			fmt.Sprintf("invalid YAML syntax in %s", path))
	}
	if generic == nil {
		return nil, apperror.Newf(apperror.CodeInvalidScenario, "scenario %s is empty", path)
	}

	// Переменные окружения раскрываются загрузчиком; движок видит
	// только подстановки контекста {{path.to.value}}
	resolved, err := sut.ResolveEnvVars(generic)
	if err != nil {
		return nil, err
	}

	resolvedYAML, err := yaml.Marshal(resolved)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "cannot re-encode resolved scenario")
	}

	var sc Scenario
	if err := yaml.Unmarshal(resolvedYAML, &sc); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidScenario,
			fmt.Sprintf("scenario %s does not match the expected structure", path))
	}

	if sc.ID == "" {
		return nil, apperror.Newf(apperror.CodeInvalidScenario, "scenario %s has no id", path)
	}
	if len(sc.Flow) == 0 {
		return nil, apperror.Newf(apperror.CodeInvalidScenario, "scenario %s has an empty flow", sc.ID)
	}

	return &sc, nil
}

// LoadDir загружает все сценарии из каталога (*.yaml и *.yml,
// отсортированные по имени) и проверяет уникальность идентификаторов.
func LoadDir(dir string) ([]*Scenario, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidScenario,
			fmt.Sprintf("scenarios directory %s not found", dir))
	}
	if !info.IsDir() {
		return nil, apperror.Newf(apperror.CodeInvalidScenario, "%s is not a directory", dir)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidScenario, "cannot list scenarios")
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, apperror.Newf(apperror.CodeInvalidScenario, "no scenario files found in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(files))
	seen := make(map[string]string)
	var problems []string

	for _, path := range files {
		sc, err := Load(path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if prev, dup := seen[sc.ID]; dup {
			return nil, apperror.Newf(apperror.CodeInvalidScenario,
				"duplicate scenario id %q in %s (also defined in %s)", sc.ID, path, prev)
		}
		seen[sc.ID] = path
		scenarios = append(scenarios, sc)
	}

	if len(problems) > 0 {
		return nil, apperror.Newf(apperror.CodeInvalidScenario,
			"failed to load %d scenario(s): %s", len(problems), strings.Join(problems, "; "))
	}

	return scenarios, nil
}
