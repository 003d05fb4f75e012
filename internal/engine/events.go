package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State - шаг конечного автомата исполнения заявки.
type State string

const (
	StateReceived            State = "RECEIVED"
	StateAvailabilityChecked State = "AVAILABILITY_CHECKED"
	StateReserved            State = "RESERVED"
	StateApprovalEvaluated   State = "APPROVAL_EVALUATED"
	StateApprovalGated       State = "APPROVAL_GATED"
	StateApprovalCleared     State = "APPROVAL_CLEARED"
	StateVehicleSelected     State = "VEHICLE_SELECTED"
	StateDispatched          State = "DISPATCHED"
	StateCompleted           State = "COMPLETED"
	StateErrored             State = "ERRORED"
)

// Terminal - после этих состояний событий по заявке больше не будет
// (GATED до внешнего решения).
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateApprovalGated
}

// Event - типизированное событие прогресса.
type Event struct {
	ID            string         `json:"event_id"`
	FulfillmentID string         `json:"fulfillment_id"`
	TraceID       string         `json:"trace_id,omitempty"`
	State         State          `json:"state"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Observer получает события синхронно на горячем пути: реализация не должна блокироваться.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers - веер на несколько наблюдателей.
type Observers []Observer

func (os Observers) OnEvent(ctx context.Context, ev Event) {
	for _, o := range os {
		if o != nil {
			o.OnEvent(ctx, ev)
		}
	}
}

type nopObserver struct{}

func (nopObserver) OnEvent(context.Context, Event) {}

// LogObserver пишет переходы в структурный лог.
func LogObserver(logger *zap.Logger) Observer {
	logger = logger.Named("fulfillment")
	return ObserverFunc(func(_ context.Context, ev Event) {
		fields := []zap.Field{
			zap.String("fulfillment_id", ev.FulfillmentID),
			zap.String("state", string(ev.State)),
			zap.String("trace_id", ev.TraceID),
		}
		if ev.State == StateErrored {
			logger.Warn(ev.Message, fields...)
			return
		}
		logger.Info(ev.Message, fields...)
	})
}

// Recorder копит события в памяти. Используется в тестах и для отладки.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnEvent(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) States(fulfillmentID string) []State {
	var out []State
	for _, ev := range r.Events() {
		if ev.FulfillmentID == fulfillmentID {
			out = append(out, ev.State)
		}
	}
	return out
}
