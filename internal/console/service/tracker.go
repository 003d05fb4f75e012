package service

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
)

const defaultTrackerLimit = 1000

// FulfillmentStatus - то, что видит оператор по GET /v1/fulfillments/{id}.
type FulfillmentStatus struct {
	ID        string                    `json:"fulfillment_id"`
	State     engine.State              `json:"state"`
	Running   bool                      `json:"running"`
	Request   engine.FulfillmentRequest `json:"request"`
	Events    []engine.Event            `json:"events"`
	Outcome   *engine.Outcome           `json:"outcome,omitempty"`
	Error     string                    `json:"error,omitempty"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Tracker - наблюдатель, собирающий статус заявок в памяти.
// Хранит не больше limit заявок, вытесняются самые старые завершенные.
type Tracker struct {
	mu    sync.RWMutex
	items map[string]*FulfillmentStatus
	order []string
	limit int
	now   func() time.Time
}

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = defaultTrackerLimit
	}
	return &Tracker{items: make(map[string]*FulfillmentStatus), limit: limit, now: time.Now}
}

// itemLocked возвращает запись, создавая ее при первом упоминании.
func (t *Tracker) itemLocked(id string) *FulfillmentStatus {
	if st, ok := t.items[id]; ok {
		return st
	}
	t.evictLocked(t.limit - 1)
	st := &FulfillmentStatus{ID: id}
	t.items[id] = st
	t.order = append(t.order, id)
	return st
}

// evictLocked освобождает место до limit записей. Исполняемые заявки не вытесняются.
func (t *Tracker) evictLocked(limit int) {
	for len(t.items) > limit {
		victim := -1
		for i, id := range t.order {
			if !t.items[id].Running {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		delete(t.items, t.order[victim])
		t.order = append(t.order[:victim], t.order[victim+1:]...)
	}
}

// Start регистрирует заявку, принятую в асинхронную обработку.
func (t *Tracker) Start(req engine.FulfillmentRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.itemLocked(req.ID)
	st.Request = req
	st.Running = true
	st.Error = ""
	st.UpdatedAt = t.now()
}

// Reopen помечает приостановленную заявку как снова исполняемую (после решения по согласованию).
func (t *Tracker) Reopen(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.itemLocked(id)
	st.Running = true
	st.UpdatedAt = t.now()
}

func (t *Tracker) OnEvent(_ context.Context, ev engine.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.itemLocked(ev.FulfillmentID)
	st.State = ev.State
	st.Events = append(st.Events, ev)
	st.UpdatedAt = ev.Timestamp
}

// Finish фиксирует итог прогона (Fulfill или Resume).
func (t *Tracker) Finish(out *engine.Outcome, err error) {
	if out == nil || out.ID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.itemLocked(out.ID)
	st.Running = false
	st.Outcome = out
	st.State = out.State
	if st.Request.ID == "" {
		st.Request = out.Request
	}
	st.Error = ""
	if err != nil {
		st.Error = err.Error()
	}
	st.UpdatedAt = t.now()
}

func (t *Tracker) Get(id string) (FulfillmentStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.items[id]
	if !ok {
		return FulfillmentStatus{}, false
	}
	cp := *st
	cp.Events = append([]engine.Event(nil), st.Events...)
	return cp, true
}
