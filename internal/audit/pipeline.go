package audit

/*
Файл pipeline.go реализует Audit Batching Pipeline — движок сбора и
персистентности аудиторского следа расследований.

Ключевые особенности архитектуры:
- Non-blocking Submit: продюсер ждет место в очереди не дольше enqueue-таймаута.
  Задержки записи в БД не влияют на Response Time таски расследования.
- Batching & Efficiency: накопление событий в памяти и пакетная запись (Bulk Insert)
  в PostgreSQL по таймеру или при достижении лимита батча.
- Bounded Retry: неудачная доставка батча ретраится с экспоненциальным бэкоффом
  до фиксированного предела, после чего батч сбрасывается (liveness > полнота).
- Flush & Drain Pattern: явный Flush для вызывающих, которым нужна durability
  до публикации результата; Graceful Shutdown с финальной вычиткой буфера.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
	// Ping проверяет доступность хранилища (используется при конструировании)
	Ping(ctx context.Context) error
}

// Config — настройки пайплайна (дефолты задаются в infra.Config)
type Config struct {
	BufferSize     int           // Емкость входной очереди
	BatchSize      int           // Размер батча для доставки
	FlushInterval  time.Duration // Максимальный возраст неполного батча
	EnqueueTimeout time.Duration // Сколько Submit ждет место в очереди
	DeliverTimeout time.Duration // Таймаут одной попытки доставки
	DeliverRetries int           // Бюджет попыток доставки батча
}

type Pipeline struct {
	ch         chan AuditEvent    // Буфер для асинхронности
	flushReq   chan chan struct{} // Запросы принудительного сброса
	workerDone chan struct{}      // Закрывается воркером после финальной доставки
	repo       StorageInterface
	cfg        Config
	logger     *zap.Logger
	metrics    *PipelineMetrics
	wg         sync.WaitGroup

	// Протокол закрытия: Submit держит RLock на все время отправки,
	// Close берет Lock — значит close(ch) случается строго после того,
	// как последний продюсер вышел из своего select. Ожидание Submit
	// ограничено EnqueueTimeout, поэтому Close блокируется ненадолго.
	mu     sync.RWMutex
	closed bool
}

// NewPipeline конструирует пайплайн и проверяет доступность хранилища.
// Ошибка здесь — фатальная предпосылка: аудит для этого класса сервисов
// обязателен, решение об остановке процесса принимает bootstrap в main.
func NewPipeline(ctx context.Context, repo StorageInterface, cfg Config, logger *zap.Logger, metrics *PipelineMetrics) (*Pipeline, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		return nil, err
	}

	if metrics == nil {
		metrics = NewPipelineMetrics(nil)
	}

	p := &Pipeline{
		ch:         make(chan AuditEvent, cfg.BufferSize),
		flushReq:   make(chan chan struct{}),
		workerDone: make(chan struct{}),
		repo:       repo,
		cfg:        cfg,
		logger:     logger.Named("audit-pipeline"),
		metrics:    metrics,
	}
	return p, nil
}

func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.worker()
}

// Submit ставит событие в очередь. Ждет место не дольше EnqueueTimeout;
// при переполнении событие теряется: error-лог + метрика, но никогда
// не ошибка в критическом пути вызвавшей таски.
func (p *Pipeline) Submit(event AuditEvent) bool {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("audit event dropped: pipeline is stopping", zap.String("id", event.ID))
		p.metrics.Dropped.Inc()
		return false
	}

	// Fast path: место есть сразу
	select {
	case p.ch <- event:
		p.metrics.BufferFill.Set(float64(len(p.ch)))
		return true
	default:
	}

	// Backpressure: ограниченное ожидание, затем Load Shedding
	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case p.ch <- event:
		p.metrics.BufferFill.Set(float64(len(p.ch)))
		return true
	case <-timer.C:
		p.logger.Error("audit_buffer_overflow",
			zap.String("id", event.ID),
			zap.String("correlation_id", event.CorrelationID),
		)
		p.metrics.Dropped.Inc()
		return false
	}
}

// Flush форсирует доставку всего, что сейчас в очереди и в недобранном батче.
// Идемпотентен: при пустой очереди завершается сразу. Возвращает false,
// если воркер не успел подтвердить сброс за timeout.
func (p *Pipeline) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		// Идет (или прошел) Close: дожидаемся финальной доставки воркера,
		// успех подтверждаем только после нее
		select {
		case <-p.workerDone:
			return true
		case <-timer.C:
			return false
		}
	}

	select {
	case p.flushReq <- done:
	case <-p.workerDone: // Close обогнал нас, но воркер уже все дописал
		return true
	case <-timer.C:
		return false
	}

	select {
	case <-done:
		return true
	case <-p.workerDone:
		return true
	case <-timer.C:
		return false
	}
}

// Close «запирает» вход в канал и ждет, пока воркер всё допишет.
func (p *Pipeline) Close() {
	// 1. Ставим флаг под write-локом: Lock дождется выхода всех продюсеров
	// из их ограниченного ожидания, новые Submit увидят closed и отвалятся сразу.
	// Иначе продюсер, зависший в ожидании места, словил бы send on closed channel.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	// 2. Drain Pattern: завершение воркера происходит исключительно через
	// закрытие входного канала — он сначала вычитает остатки, потом выйдет.
	p.logger.Info("stopping audit pipeline: closing channel and flushing buffer...")
	close(p.ch)
	p.wg.Wait()
	p.logger.Info("audit pipeline stopped gracefully")
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	// Сигнал «все доставлено» для Flush, переживших начало Close
	defer close(p.workerDone)

	batch := make([]AuditEvent, 0, p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				// Канал закрыт в Close() — это самодостаточный сигнал завершения:
				// всё, что было в очереди, уже вычитано до ok == false.
				p.deliver(&batch)
				p.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= p.cfg.BatchSize {
				p.deliver(&batch)
			}

		case <-ticker.C:
			p.deliver(&batch)

		case done := <-p.flushReq:
			// Сначала вычитываем всё, что уже стоит в очереди.
			// Подтверждение — строго после доставки: Flush не должен
			// вернуть true раньше, чем батч реально ушел в сторадж.
			if !p.drainQueued(&batch) {
				p.deliver(&batch)
				close(done)
				p.logger.Info("audit worker finished")
				return
			}
			p.deliver(&batch)
			close(done)
		}
	}
}

// drainQueued неблокирующе переносит очередь в батч, доставляя полные батчи.
// Возвращает false, если канал оказался закрыт.
func (p *Pipeline) drainQueued(batch *[]AuditEvent) bool {
	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				return false
			}
			*batch = append(*batch, event)
			if len(*batch) >= p.cfg.BatchSize {
				p.deliver(batch)
			}
		default:
			return true
		}
	}
}

// deliver отправляет накопленный батч с ограниченным экспоненциальным бэкоффом.
// После исчерпания бюджета батч сбрасывается: пайплайн предпочитает liveness
// бесконечной блокировке на недоступном сторадже.
func (p *Pipeline) deliver(batch *[]AuditEvent) {
	defer p.metrics.BufferFill.Set(float64(len(p.ch)))

	if len(*batch) == 0 {
		return
	}

	events := *batch

	r := retry.New(
		retry.Attempts(uint(p.cfg.DeliverRetries)),
		retry.DelayType(retry.BackOffDelay),
	)

	err := r.Do(func() error {
		// Используем Background: контекст запроса к этому моменту может быть закрыт
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DeliverTimeout)
		defer cancel()
		return p.repo.WriteBatch(ctx, events)
	})

	if err != nil {
		p.logger.Error("audit batch dropped after retries",
			zap.Int("events", len(events)),
			zap.Error(err),
		)
		p.metrics.Dropped.Add(float64(len(events)))
		p.metrics.Batches.WithLabelValues("dropped").Inc()
	} else {
		p.metrics.Batches.WithLabelValues("delivered").Inc()
	}

	*batch = (*batch)[:0]
}
