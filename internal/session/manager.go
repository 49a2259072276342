package session

/*
Файл manager.go реализует таблицу асинхронных сессий расследования.

Таблица — единственный источник правды о статусе сессии. Мутации проходят
только через методы менеджера под локом; каждая сессия исполняется своей
горутиной, так что расследования идут параллельно и контендят только на
общей мапе. Поллеры (GetStatus/GetResult) никогда не блокируются в ожидании
завершения — вместо ожидания возвращается явный "not ready".
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/triage-core/internal/domain"
	"go.uber.org/zap"
)

// Task — тело расследования, владеющее сессией.
// Получает снапшот на момент создания; контекст отменяется при экспирации,
// таска проверяет его между раундами.
type Task func(ctx context.Context, s domain.Session)

type Config struct {
	MaxConcurrent int           // Потолок одновременных расследований
	TTL           time.Duration // Время жизни сессии до принудительной экспирации
	SweepInterval time.Duration // Период джанитора expire_stale
	Retention     time.Duration // Сколько терминальная сессия доступна поллерам после ExpiresAt
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	cancels  map[string]context.CancelFunc

	cfg    Config
	logger *zap.Logger

	// Базовый контекст для тасок: они должны переживать HTTP-запрос создателя
	baseCtx context.Context
}

func NewManager(baseCtx context.Context, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*domain.Session),
		cancels:  make(map[string]context.CancelFunc),
		cfg:      cfg,
		logger:   logger.Named("sessions"),
		baseCtx:  baseCtx,
	}
}

// Create регистрирует сессию в PENDING и запускает таску независимой горутиной.
// Возвращается немедленно; при достигнутом потолке — ErrTooManySessions.
func (m *Manager) Create(task Task) (*domain.Session, error) {
	m.mu.Lock()

	if m.activeLocked() >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return nil, domain.ErrTooManySessions
	}

	now := time.Now()
	s := &domain.Session{
		ID:            uuid.New().String(),
		CorrelationID: uuid.New().String(),
		Status:        domain.SessionPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.TTL),
	}

	taskCtx, cancel := context.WithCancel(m.baseCtx)
	m.sessions[s.ID] = s
	m.cancels[s.ID] = cancel
	snapshot := *s
	m.mu.Unlock()

	go task(taskCtx, snapshot)

	return &snapshot, nil
}

// GetStatus никогда не блокируется в ожидании завершения
func (m *Manager) GetStatus(id string) (domain.SessionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	return s.Status, nil
}

// GetResult возвращает снапшот терминальной сессии.
// PENDING/RUNNING — ErrSessionNotReady (поллер придет позже),
// EXPIRED — ErrSessionNotFound: результата не будет уже никогда.
func (m *Manager) GetResult(id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	switch s.Status {
	case domain.SessionPending, domain.SessionRunning:
		return nil, domain.ErrSessionNotReady
	case domain.SessionExpired:
		return nil, domain.ErrSessionNotFound
	}

	snapshot := *s
	return &snapshot, nil
}

// MarkRunning вызывается только владеющей таской
func (m *Manager) MarkRunning(id string) {
	m.transition(id, domain.SessionRunning, func(s *domain.Session) {})
}

// Complete сохраняет результат и закрывает сессию
func (m *Manager) Complete(id string, result *domain.InvestigationResult) {
	m.transition(id, domain.SessionCompleted, func(s *domain.Session) {
		s.Result = result
	})
}

// Fail закрывает сессию с ошибкой
func (m *Manager) Fail(id string, taskErr error) {
	m.transition(id, domain.SessionFailed, func(s *domain.Session) {
		s.Error = taskErr.Error()
	})
}

// transition выполняет ровно один разрешенный переход конечного автомата.
// Повторное терминальное завершение — warn и no-op: защита от дублей.
func (m *Manager) transition(id string, next domain.SessionStatus, apply func(*domain.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		m.logger.Warn("transition for unknown session", zap.String("session_id", id))
		return
	}

	if err := s.CanTransitionTo(next); err != nil {
		m.logger.Warn("session transition rejected",
			zap.String("session_id", id),
			zap.String("from", string(s.Status)),
			zap.String("to", string(next)),
		)
		return
	}

	apply(s)
	s.Status = next

	if next.IsTerminal() {
		m.releaseLocked(id)
	}
}

// ExpireStale переводит просроченные нетерминальные сессии в EXPIRED
// и отменяет контексты их тасок (кооперативная отмена, без преемпции).
// Терминальные сессии вычищаются из таблицы после ExpiresAt + Retention:
// без этого мапа растет до конца жизни процесса. Для поллера вычистка
// неотличима от экспирации — оба отвечают not found.
func (m *Manager) ExpireStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	expired := 0
	for id, s := range m.sessions {
		if s.Status.IsTerminal() {
			if !now.Before(s.ExpiresAt.Add(m.cfg.Retention)) {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Before(s.ExpiresAt) {
			continue
		}
		s.Status = domain.SessionExpired
		m.releaseLocked(id)
		expired++
		m.logger.Warn("session expired", zap.String("session_id", id))
	}
	return expired
}

// StartJanitor запускает периодический sweep до отмены контекста
func (m *Manager) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ExpireStale()
		}
	}
}

// Active — количество незавершенных сессий (для потолка и метрик)
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, s := range m.sessions {
		if !s.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// releaseLocked отменяет контекст таски и забывает cancel-функцию
func (m *Manager) releaseLocked(id string) {
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
}
