package domain

import (
	"errors"
	"time"
)

// Статусы State Machine сессии расследования
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
	SessionExpired   SessionStatus = "EXPIRED"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotReady   = errors.New("session result is not ready yet")
	ErrTooManySessions   = errors.New("too many concurrent sessions")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrIntakeBlocked     = errors.New("signal source is blocked by operator")
)

// Session — один pollable-юнит асинхронной работы на каждый входящий запрос анализа.
// Мутации выполняет только владеющая таска расследования, читатели — поллеры.
type Session struct {
	ID            string        `json:"session_id"` // UUID, непрозрачный для клиента
	CorrelationID string        `json:"correlation_id"`
	Status        SessionStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Result присутствует только в COMPLETED, Error — только в FAILED
	Result *InvestigationResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// IsTerminal — после терминального статуса переходы запрещены
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionExpired
}

// CanTransitionTo проверяет правила конечного автомата.
// Разрешено только вперед: PENDING -> RUNNING -> {COMPLETED, FAILED},
// плюс любой нетерминальный статус -> EXPIRED по TTL.
func (s *Session) CanTransitionTo(next SessionStatus) error {
	if s.Status.IsTerminal() {
		return ErrInvalidTransition
	}

	switch next {
	case SessionRunning:
		if s.Status != SessionPending {
			return ErrInvalidTransition
		}
	case SessionCompleted, SessionFailed:
		if s.Status != SessionRunning {
			return ErrInvalidTransition
		}
	case SessionExpired:
		// Экспирация допустима из любого нетерминального состояния
	default:
		return ErrInvalidTransition
	}
	return nil
}
