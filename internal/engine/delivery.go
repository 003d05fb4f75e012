package engine

import (
	"context"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
)

// DeliveryConfirmer ждет подтверждения доставки по активной отправке.
type DeliveryConfirmer interface {
	Confirm(ctx context.Context, d domain.DispatchRecord) (map[string]any, error)
}

// ImmediateConfirmer подтверждает сразу.
type ImmediateConfirmer struct{}

func (ImmediateConfirmer) Confirm(_ context.Context, d domain.DispatchRecord) (map[string]any, error) {
	return map[string]any{"confirmation": "immediate", "delivered_to": d.Task.Destination}, nil
}

// TimedConfirmer имитирует поездку: ждет оценку времени маршрута, умноженную на Scale,
// но не дольше Max.
type TimedConfirmer struct {
	Scale float64
	Max   time.Duration
}

func (c TimedConfirmer) Confirm(ctx context.Context, d domain.DispatchRecord) (map[string]any, error) {
	wait := time.Duration(float64(d.EstimatedCompletion.Sub(d.DispatchedAt)) * c.Scale)
	if c.Max > 0 && wait > c.Max {
		wait = c.Max
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return map[string]any{
		"confirmation":   "simulated",
		"delivered_to":   d.Task.Destination,
		"simulated_wait": wait.String(),
	}, nil
}
