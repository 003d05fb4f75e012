package audit

/*
Trail - асинхронный журнал действий: вызовы инструментов агента и переходы
автомата исполнения заявок.

- Горячий путь не ждет хранилище: событие кладется в буферизованный канал.
- Пакетная запись по таймеру или при наборе batchSize событий.
- Stop закрывает канал и ждет, пока воркер вычитает остаток (Final Flush).
- При переполнении буфера событие уходит в лог, а не блокирует вызов.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	bufferSize    = 10000
	batchSize     = 100
	flushInterval = 500 * time.Millisecond
)

// StorageInterface определяет, куда физически будут сохраняться логи
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

type Trail struct {
	ch     chan Event
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup
	// На случай вызова Log после остановки
	isClosed int32
	fill     func(n int)
}

type Option func(*Trail)

// WithFillGauge - наблюдение за заполненностью буфера (backpressure).
func WithFillGauge(fn func(n int)) Option {
	return func(t *Trail) { t.fill = fn }
}

func NewTrail(repo StorageInterface, logger *zap.Logger, opts ...Option) *Trail {
	t := &Trail{
		ch:     make(chan Event, bufferSize),
		repo:   repo,
		logger: logger.Named("audit"),
		fill:   func(int) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	if !atomic.CompareAndSwapInt32(&t.isClosed, 0, 1) {
		return
	}

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: не блокируем вызывающего
	select {
	case t.ch <- event:
		t.fill(len(t.ch))
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("action", event.Action),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст может быть уже закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}
		t.fill(len(t.ch))
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): остаток уже вычитан
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogStorage - хранилище по умолчанию, когда БД не настроена: пишет пачки в zap.
type LogStorage struct {
	logger *zap.Logger
}

func NewLogStorage(logger *zap.Logger) *LogStorage {
	return &LogStorage{logger: logger.Named("audit-log")}
}

func (s *LogStorage) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("audit",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("channel", e.Channel),
			zap.String("actor", e.Actor),
			zap.String("action", e.Action),
			zap.String("entity", e.Entity),
			zap.String("status", e.Status),
			zap.Int64("duration_ms", e.DurationMs),
			zap.String("error", e.Error),
		)
	}
	return nil
}

// MemoryStorage держит события в памяти (тесты, локальный запуск).
type MemoryStorage struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemoryStorage) WriteBatch(_ context.Context, events []Event) error {
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
