package engine

import "github.com/farmanp/turbulence/pkg/models"

// Зарезервированные ключи контекста инстанса
const (
	KeyInstanceID    = "instance_id"
	KeyRunID         = "run_id"
	KeyCorrelationID = "correlation_id"
	KeyEntry         = "entry"
	KeyLastResponse  = "last_response"
)

// NewWorkflowContext создаёт контекст инстанса с зарезервированными
// ключами. Все остальные ключи появляются через extract, decide и
// подстановки шаблонов.
func NewWorkflowContext(instanceID, runID, correlationID string, entry map[string]any) map[string]any {
	if entry == nil {
		entry = map[string]any{}
	}
	return map[string]any{
		KeyInstanceID:    instanceID,
		KeyRunID:         runID,
		KeyCorrelationID: correlationID,
		KeyEntry:         entry,
	}
}

// UpdateLastResponse обновляет last_response в контексте по наблюдению.
// Вызывается только для HTTP и wait действий: decide, assert, branch и
// grpc последний ответ не трогают.
func UpdateLastResponse(wfContext map[string]any, obs *models.Observation) {
	headers := make(map[string]any, len(obs.Headers))
	for k, v := range obs.Headers {
		headers[k] = v
	}

	var statusCode any
	if obs.StatusCode != nil {
		statusCode = *obs.StatusCode
	}

	wfContext[KeyLastResponse] = map[string]any{
		"status_code": statusCode,
		"headers":     headers,
		"body":        obs.Body,
	}
}

// CloneContext делает неглубокую копию контекста. Раннеры, изменяющие
// контекст, обязаны возвращать копию, а не мутировать вход.
func CloneContext(wfContext map[string]any) map[string]any {
	out := make(map[string]any, len(wfContext))
	for k, v := range wfContext {
		out[k] = v
	}
	return out
}
