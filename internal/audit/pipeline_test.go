package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStore записывает принятые батчи и умеет имитировать сбои/зависание
type mockStore struct {
	mu       sync.Mutex
	batches  [][]AuditEvent
	attempts int
	failN    int           // сколько первых попыток отдать ошибкой
	delay    time.Duration // имитация медленной записи
	blocked  chan struct{} // если не nil — WriteBatch висит до закрытия канала
}

func (s *mockStore) WriteBatch(ctx context.Context, events []AuditEvent) error {
	if s.blocked != nil {
		select {
		case <-s.blocked:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.failN > 0 {
		s.failN--
		return errors.New("store unavailable")
	}

	batch := make([]AuditEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *mockStore) Ping(ctx context.Context) error { return nil }

func (s *mockStore) eventIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, b := range s.batches {
		for _, e := range b {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (s *mockStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func newTestPipeline(t *testing.T, store *mockStore, cfg Config) *Pipeline {
	t.Helper()

	if cfg.BufferSize == 0 {
		cfg.BufferSize = 64
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.EnqueueTimeout == 0 {
		cfg.EnqueueTimeout = 50 * time.Millisecond
	}
	if cfg.DeliverTimeout == 0 {
		cfg.DeliverTimeout = time.Second
	}
	if cfg.DeliverRetries == 0 {
		cfg.DeliverRetries = 1
	}

	p, err := NewPipeline(context.Background(), store, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	return p
}

func testEvent(correlationID string) AuditEvent {
	return NewValidationEvent(correlationID, ValidationPayload{
		AttemptNumber: 1,
		MaxAttempts:   3,
		WorkflowID:    "restart-deployment",
	})
}

// Сценарий батчинга: 3 события при batch_size=2 уходят ровно двумя батчами
func TestPipeline_BatchingWithFlush(t *testing.T) {
	store := &mockStore{}
	p := newTestPipeline(t, store, Config{
		BatchSize:     2,
		FlushInterval: 100 * time.Millisecond,
	})
	p.Start()
	defer p.Close()

	for i := 0; i < 3; i++ {
		require.True(t, p.Submit(testEvent("corr-1")))
	}

	require.True(t, p.Flush(time.Second))

	assert.Len(t, store.eventIDs(), 3)
	assert.Equal(t, 2, store.batchCount())
}

func TestPipeline_FlushIsIdempotent(t *testing.T) {
	store := &mockStore{}
	p := newTestPipeline(t, store, Config{})
	p.Start()
	defer p.Close()

	// Нечего сбрасывать — успех сразу
	assert.True(t, p.Flush(time.Second))
	assert.True(t, p.Flush(time.Second))
	assert.Equal(t, 0, store.batchCount())
}

// Totality: все принятые до Close события доходят до стораджа
func TestPipeline_CloseDrainsEverything(t *testing.T) {
	store := &mockStore{}
	p := newTestPipeline(t, store, Config{BatchSize: 7})
	p.Start()

	submitted := make(map[string]struct{})
	for i := 0; i < 25; i++ {
		e := testEvent("corr-drain")
		require.True(t, p.Submit(e))
		submitted[e.ID] = struct{}{}
	}

	p.Close()

	delivered := store.eventIDs()
	assert.Len(t, delivered, len(submitted))
	for _, id := range delivered {
		assert.Contains(t, submitted, id)
	}

	// После Close новые события не принимаются
	assert.False(t, p.Submit(testEvent("corr-late")))
}

// Backpressure: при забитой очереди Submit возвращает false в пределах таймаута
func TestPipeline_SubmitBackpressure(t *testing.T) {
	store := &mockStore{blocked: make(chan struct{})}
	p := newTestPipeline(t, store, Config{
		BufferSize:     2,
		BatchSize:      2,
		EnqueueTimeout: 50 * time.Millisecond,
		DeliverTimeout: 5 * time.Second,
	})
	p.Start()

	// Заполняем очередь с запасом: часть событий воркер заберет в батч
	// и повиснет на недоступном сторадже
	deadline := time.Now().Add(2 * time.Second)
	full := false
	for time.Now().Before(deadline) {
		if !p.Submit(testEvent("corr-full")) {
			full = true
			break
		}
	}
	require.True(t, full, "queue never filled up")

	// Контрольный Submit: отказ не позже разумной границы сверх таймаута
	start := time.Now()
	ok := p.Submit(testEvent("corr-extra"))
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, 500*time.Millisecond)

	close(store.blocked)
	p.Close()
}

// Close во время зависшего в backpressure-ожидании Submit: продюсер обязан
// штатно получить false, а не паниковать на закрытом канале
func TestPipeline_CloseDuringBackpressuredSubmit(t *testing.T) {
	store := &mockStore{blocked: make(chan struct{})}
	p := newTestPipeline(t, store, Config{
		BufferSize:     1,
		BatchSize:      1,
		EnqueueTimeout: 2 * time.Second,
		DeliverTimeout: 10 * time.Second,
	})
	p.Start()

	// Первое событие воркер забирает и виснет на сторадже, второе забивает буфер
	require.True(t, p.Submit(testEvent("corr-a")))
	time.Sleep(50 * time.Millisecond)
	require.True(t, p.Submit(testEvent("corr-b")))

	// Третий Submit паркуется в ожидании места на весь EnqueueTimeout
	verdict := make(chan bool, 1)
	go func() {
		verdict <- p.Submit(testEvent("corr-c"))
	}()
	time.Sleep(100 * time.Millisecond)

	// Close стартует, пока продюсер еще висит в своем select
	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	// Место не освободится (сторадж заблокирован): событие честно дропается
	ok := <-verdict
	assert.False(t, ok)

	close(store.blocked)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not finish")
	}

	// Принятые события дошли, дропнутого среди них нет
	assert.Len(t, store.eventIDs(), 2)
}

// Flush, заставший Close, подтверждает успех только после финальной доставки
func TestPipeline_FlushDuringCloseWaitsForDelivery(t *testing.T) {
	store := &mockStore{delay: 100 * time.Millisecond}
	p := newTestPipeline(t, store, Config{BatchSize: 10, DeliverTimeout: 5 * time.Second})
	p.Start()

	require.True(t, p.Submit(testEvent("corr-final")))

	go p.Close()
	time.Sleep(20 * time.Millisecond) // Close успел запереть вход

	ok := p.Flush(5 * time.Second)
	require.True(t, ok)
	// К моменту подтверждения событие уже в сторадже
	assert.Len(t, store.eventIDs(), 1)
}

// Доставка переживает временный сбой стораджа за счет ретраев
func TestPipeline_DeliveryRetries(t *testing.T) {
	store := &mockStore{failN: 2}
	p := newTestPipeline(t, store, Config{
		BatchSize:      1,
		DeliverRetries: 3,
	})
	p.Start()
	defer p.Close()

	require.True(t, p.Submit(testEvent("corr-retry")))
	require.True(t, p.Flush(5*time.Second))

	assert.Len(t, store.eventIDs(), 1)
	store.mu.Lock()
	assert.Equal(t, 3, store.attempts)
	store.mu.Unlock()
}

// Исчерпание ретраев сбрасывает батч, но не убивает пайплайн
func TestPipeline_BatchDroppedAfterRetryExhaustion(t *testing.T) {
	store := &mockStore{failN: 100}
	p := newTestPipeline(t, store, Config{
		BatchSize:      1,
		DeliverRetries: 2,
	})
	p.Start()
	defer p.Close()

	require.True(t, p.Submit(testEvent("corr-doomed")))
	require.True(t, p.Flush(5*time.Second))
	assert.Empty(t, store.eventIDs())

	// Пайплайн жив: следующее событие после "выздоровления" доходит
	store.mu.Lock()
	store.failN = 0
	store.mu.Unlock()

	require.True(t, p.Submit(testEvent("corr-recovered")))
	require.True(t, p.Flush(5*time.Second))
	assert.Len(t, store.eventIDs(), 1)
}

// Порядок внутри батча соответствует порядку Submit для одного correlation id
func TestPipeline_OrderWithinBatch(t *testing.T) {
	store := &mockStore{}
	p := newTestPipeline(t, store, Config{BatchSize: 10})
	p.Start()
	defer p.Close()

	var want []string
	for i := 0; i < 5; i++ {
		e := testEvent("corr-order")
		want = append(want, e.ID)
		require.True(t, p.Submit(e))
	}

	require.True(t, p.Flush(time.Second))
	assert.Equal(t, want, store.eventIDs())
}
