package actions

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/farmanp/turbulence/pkg/scenario"
)

// attemptOutcome классифицирует исход одной попытки HTTP запроса
type attemptOutcome int

const (
	outcomeResponse attemptOutcome = iota
	outcomeTimeout
	outcomeConnectionError
)

// retryState - конечный автомат повторов одного HTTP действия.
// На каждой попытке решает, повторять ли запрос, и выдаёт задержку
// перед следующей попыткой.
type retryState struct {
	cfg     *scenario.RetryConfig
	attempt int
	exp     *backoff.ExponentialBackOff
}

func newRetryState(cfg *scenario.RetryConfig) *retryState {
	if cfg == nil {
		cfg = &scenario.RetryConfig{}
	}
	normalized := *cfg
	normalized.Normalize()

	s := &retryState{cfg: &normalized}

	if normalized.Backoff == "exponential" {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = time.Duration(normalized.BaseDelayMs) * time.Millisecond
		exp.Multiplier = 2
		// Без джиттера: задержки повторов должны быть воспроизводимы
		exp.RandomizationFactor = 0
		exp.MaxInterval = time.Hour
		s.exp = exp
	}

	return s
}

// maxAttempts возвращает предел попыток
func (s *retryState) maxAttempts() int {
	return s.cfg.MaxAttempts
}

// retriable решает, является ли исход попытки повторяемым
func (s *retryState) retriable(statusCode int, outcome attemptOutcome) bool {
	switch outcome {
	case outcomeTimeout:
		return s.cfg.OnTimeout
	case outcomeConnectionError:
		return s.cfg.OnConnectionError
	default:
		for _, code := range s.cfg.OnStatus {
			if code == statusCode {
				return true
			}
		}
		return false
	}
}

// advance фиксирует завершённую попытку и возвращает задержку перед
// следующей. Вызывается только если попытка была повторяемой и лимит
// не исчерпан.
func (s *retryState) advance() time.Duration {
	s.attempt++
	if s.exp != nil {
		return s.exp.NextBackOff()
	}
	return time.Duration(s.cfg.DelayMs) * time.Millisecond
}

// exhausted сообщает, исчерпаны ли попытки после attemptsMade выполненных
func (s *retryState) exhausted(attemptsMade int) bool {
	return attemptsMade >= s.cfg.MaxAttempts
}
