package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestTrailFlushesOnStop(t *testing.T) {
	store := &MemoryStorage{}
	tr := NewTrail(store, zap.NewNop())
	tr.Start()

	for i := 0; i < 250; i++ {
		tr.Log(Event{Action: "check_inventory", Channel: ChannelTool})
	}
	tr.Stop()

	got := store.Events()
	if len(got) != 250 {
		t.Fatalf("stored %d events, want 250", len(got))
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}

	// После остановки события отбрасываются без паники
	tr.Log(Event{Action: "late"})
	tr.Stop()
	if len(store.Events()) != 250 {
		t.Error("event accepted after stop")
	}
}

func TestTrailFlushesOnTicker(t *testing.T) {
	store := &MemoryStorage{}
	tr := NewTrail(store, zap.NewNop())
	tr.Start()
	defer tr.Stop()

	tr.Log(Event{Action: "get_fleet_status"})

	deadline := time.Now().Add(3 * time.Second)
	for len(store.Events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event not flushed by ticker")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type failingStorage struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStorage) WriteBatch(context.Context, []Event) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("db down")
}

func TestTrailSurvivesStorageErrors(t *testing.T) {
	store := &failingStorage{}
	var mu sync.Mutex
	maxFill := 0
	tr := NewTrail(store, zap.NewNop(), WithFillGauge(func(n int) {
		mu.Lock()
		if n > maxFill {
			maxFill = n
		}
		mu.Unlock()
	}))
	tr.Start()
	tr.Log(Event{Action: "dispatch_vehicle"})
	tr.Stop()

	if store.calls != 1 {
		t.Errorf("WriteBatch called %d times, want 1", store.calls)
	}
}
