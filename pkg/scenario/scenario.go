// Package scenario описывает сценарии нагрузки: упорядоченные деревья
// действий с условиями, ветвлениями и условием остановки. Действия -
// размеченное объединение по полю type.
package scenario

// Виды действий
const (
	KindHTTP   = "http"
	KindWait   = "wait"
	KindAssert = "assert"
	KindDecide = "decide"
	KindBranch = "branch"
	KindGRPC   = "grpc"
)

// DefaultMaxSteps - предохранитель от бесконечных сценариев
const DefaultMaxSteps = 100

// Action - один узел потока сценария
type Action interface {
	// Kind возвращает тег вида действия ("http", "wait", ...)
	Kind() string
	// ActionName возвращает имя действия для отчётов
	ActionName() string
	// ActionCondition возвращает выражение условия (пустая строка - без условия)
	ActionCondition() string
}

// Base - общие поля всех действий
type Base struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
}

// ActionName возвращает имя действия
func (b Base) ActionName() string { return b.Name }

// ActionCondition возвращает условие действия
func (b Base) ActionCondition() string { return b.Condition }

// RetryConfig - декларативная политика повторов HTTP действия
type RetryConfig struct {
	MaxAttempts       int    `yaml:"max_attempts"`
	OnStatus          []int  `yaml:"on_status"`
	OnTimeout         bool   `yaml:"on_timeout"`
	OnConnectionError bool   `yaml:"on_connection_error"`
	Backoff           string `yaml:"backoff"` // fixed, exponential
	DelayMs           int    `yaml:"delay_ms"`
	BaseDelayMs       int    `yaml:"base_delay_ms"`
}

// Normalize заполняет значения по умолчанию
func (r *RetryConfig) Normalize() {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	if r.Backoff == "" {
		r.Backoff = "fixed"
	}
	if r.DelayMs <= 0 {
		r.DelayMs = 100
	}
	if r.BaseDelayMs <= 0 {
		r.BaseDelayMs = 100
	}
}

// HTTPAction - один HTTP запрос с извлечением значений из ответа
type HTTPAction struct {
	Base    `yaml:",inline"`
	Service string            `yaml:"service"`
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Query   map[string]string `yaml:"query"`
	Headers map[string]string `yaml:"headers"`
	Body    any               `yaml:"body"`
	Extract map[string]string `yaml:"extract"` // имя переменной -> JSONPath
	Retry   *RetryConfig      `yaml:"retry"`
}

// Kind возвращает "http"
func (a *HTTPAction) Kind() string { return KindHTTP }

// WaitAction - опрос сервиса до выполнения условия либо таймаута
type WaitAction struct {
	Base       `yaml:",inline"`
	Service    string `yaml:"service"`
	Path       string `yaml:"path"`
	IntervalMs int    `yaml:"interval_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	Success    string `yaml:"success"` // предикат успеха
}

// Kind возвращает "wait"
func (a *WaitAction) Kind() string { return KindWait }

// Expectation - набор проверок ответа для assert действия
type Expectation struct {
	StatusCode     *int              `yaml:"status_code"`
	HeadersContain map[string]string `yaml:"headers_contain"`
	BodyMatches    map[string]any    `yaml:"body_matches"` // JSONPath -> ожидаемое значение
	BodySchema     map[string]any    `yaml:"body_schema"`  // JSON Schema
}

// AssertAction - проверка последнего ответа
type AssertAction struct {
	Base   `yaml:",inline"`
	Expect Expectation `yaml:"expect"`
}

// Kind возвращает "assert"
func (a *AssertAction) Kind() string { return KindAssert }

// DecideAction - взвешенный случайный выбор по политике
type DecideAction struct {
	Base      `yaml:",inline"`
	Decision  string `yaml:"decision"`
	PolicyRef string `yaml:"policy_ref"`
	OutputVar string `yaml:"output_var"`
}

// Kind возвращает "decide"
func (a *DecideAction) Kind() string { return KindDecide }

// Output возвращает имя переменной результата (по умолчанию decision_result)
func (a *DecideAction) Output() string {
	if a.OutputVar == "" {
		return "decision_result"
	}
	return a.OutputVar
}

// BranchAction - условное ветвление потока
type BranchAction struct {
	Base    `yaml:",inline"`
	IfTrue  ActionList `yaml:"if_true"`
	IfFalse ActionList `yaml:"if_false"`
}

// Kind возвращает "branch"
func (a *BranchAction) Kind() string { return KindBranch }

// GRPCAction - унарный gRPC вызов
type GRPCAction struct {
	Base     `yaml:",inline"`
	Service  string            `yaml:"service"`
	Method   string            `yaml:"method"` // "Package.Service/Method"
	Body     map[string]any    `yaml:"body"`
	Metadata map[string]string `yaml:"metadata"`
	Extract  map[string]string `yaml:"extract"`
}

// Kind возвращает "grpc"
func (a *GRPCAction) Kind() string { return KindGRPC }

// StopCondition - условие остановки сценария
type StopCondition struct {
	MaxSteps       int  `yaml:"max_steps"`
	AnyActionFails bool `yaml:"any_action_fails"`
}

// Scenario - один сценарий: идентификатор, описание и поток действий
type Scenario struct {
	ID          string        `yaml:"id"`
	Description string        `yaml:"description"`
	Flow        ActionList    `yaml:"flow"`
	StopWhen    StopCondition `yaml:"stop_when"`
}

// MaxSteps возвращает предел шагов сценария
func (s *Scenario) MaxSteps() int {
	if s.StopWhen.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return s.StopWhen.MaxSteps
}
