package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/triage-core/internal/infra"
	"go.uber.org/zap"
)

// SourceSwitchManager — kill-switch для источников сигнала.
// Шумный или скомпрометированный источник (alertmanager, pagerduty-интеграция)
// блокируется оператором, и ядро отказывает в приеме его сигналов еще до
// создания сессии. L1 — потокобезопасная мапа в RAM, L2 — Redis Set,
// синхронизация между инстансами через Pub/Sub.
type SourceSwitchManager struct {
	mu             sync.RWMutex
	blockedSources map[string]struct{}
	rdb            *redis.Client
	logger         *zap.Logger
}

func NewSourceSwitchManager(rdb *redis.Client, logger *zap.Logger) *SourceSwitchManager {
	return &SourceSwitchManager{
		blockedSources: make(map[string]struct{}),
		rdb:            rdb,
		logger:         logger.Named("source-switch"),
	}
}

// Init загружает текущее состояние блокировок при старте сервиса
func (m *SourceSwitchManager) Init(ctx context.Context) error {
	sources, err := m.rdb.SMembers(ctx, infra.RedisKeyBlockedSources).Result()
	if err != nil {
		return err
	}

	m.replaceAll(sources)
	return nil
}

// StartListener держит «живучую» подписку на сигналы блокировки.
// При каждом переподключении выполняется полная ресинхронизация из Redis.
func (m *SourceSwitchManager) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanSourceSwitch,
		func() error {
			sources, err := m.rdb.SMembers(ctx, infra.RedisKeyBlockedSources).Result()
			if err != nil {
				return err
			}
			m.replaceAll(sources)
			return nil
		},
		func(sourceID string, blocked bool) {
			m.mu.Lock()
			if blocked {
				m.blockedSources[sourceID] = struct{}{}
			} else {
				delete(m.blockedSources, sourceID)
			}
			m.mu.Unlock()
			m.logger.Info("source switch signal applied",
				zap.String("source_id", sourceID), zap.Bool("blocked", blocked))
		},
	)
}

func (m *SourceSwitchManager) IsBlocked(sourceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blockedSources[sourceID]
	return ok
}

// Block фиксирует блокировку в Redis и транслирует сигнал всем инстансам.
// Мы ждем оба действия: разблокированный прием на отставшем инстансе —
// дыра в защите, а не мелочь.
func (m *SourceSwitchManager) Block(ctx context.Context, sourceID string) error {
	if err := m.rdb.SAdd(ctx, infra.RedisKeyBlockedSources, sourceID).Err(); err != nil {
		return err
	}
	if err := m.rdb.Publish(ctx, infra.RedisChanSourceSwitch, sourceID+":on").Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.blockedSources[sourceID] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *SourceSwitchManager) Unblock(ctx context.Context, sourceID string) error {
	if err := m.rdb.SRem(ctx, infra.RedisKeyBlockedSources, sourceID).Err(); err != nil {
		return err
	}
	if err := m.rdb.Publish(ctx, infra.RedisChanSourceSwitch, sourceID+":off").Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.blockedSources, sourceID)
	m.mu.Unlock()
	return nil
}

// Warmup — стартовая синхронизация блокировок: список из конфига заливается
// в пустой Redis под распределенной блокировкой, после чего L1 перечитывается
// из Redis. Redis — источник правды, конфиг лишь стартовая заливка.
func (m *SourceSwitchManager) Warmup(ctx context.Context, knownBlocked []string) error {
	if err := WarmupState(ctx, m.rdb, m.logger, knownBlocked,
		infra.RedisKeyBlockedSources, infra.RedisKeyLockBlockedSources,
		m.replaceAll,
	); err != nil {
		return err
	}
	return m.Init(ctx)
}

func (m *SourceSwitchManager) replaceAll(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	m.mu.Lock()
	m.blockedSources = next
	m.mu.Unlock()
}

// WarmupState — универсальная функция для прогрева L1 (RAM) и L2 (Redis) кэшей.
func WarmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	redisKey string,
	lockKey string,
	updateL1 func([]string), // Callback для обновления локальной мапы
) error {
	// 1. Обновляем локальный кэш (L1) через callback
	updateL1(ids)

	// 2. Распределенная блокировка (SetNX), чтобы только один инстанс обновлял Redis
	ok, err := rdb.SetNX(ctx, lockKey, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}

	// 3. Проверка наполненности Redis
	count, err := rdb.SCard(ctx, redisKey).Result()
	if err != nil {
		count = 0
		logger.Warn("could not check Redis set size, proceeding with warm-up",
			zap.String("key", redisKey), zap.Error(err))
	}

	// 4. Если Redis пуст, а данные есть — заливаем
	if count == 0 && len(ids) > 0 {
		logger.Info("Redis cache is empty, performing warm-up...",
			zap.String("key", redisKey), zap.Int("count", len(ids)))

		pipe := rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, redisKey, id)
		}
		_, err = pipe.Exec(ctx)
		return err
	}

	return nil
}
