package inventory

import (
	"context"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// ReapExpired снимает брони с истекшим сроком. Бронь каталога бессрочна.
func (l *Ledger) ReapExpired(now time.Time) []domain.Reservation {
	var reaped []domain.Reservation

	for _, pn := range l.order {
		e := l.parts[pn]
		e.mu.Lock()

		kept := e.reservations[:0]
		for _, r := range e.reservations {
			if !r.Expired(now) {
				kept = append(kept, r)
				continue
			}
			e.rec.ReservedQuantity -= r.Quantity
			e.rec.LastUpdated = now
			l.appendLog(domain.ActionExpire, r.ID, e.rec, r.Quantity, r.Requester, now)
			reaped = append(reaped, r)
		}
		e.reservations = kept

		e.mu.Unlock()
	}

	if len(reaped) > 0 {
		l.logger.Info("expired reservations released", zap.Int("count", len(reaped)))
	}
	return reaped
}

// DefaultReapInterval - период reaper, если в конфиге задан неположительный.
const DefaultReapInterval = time.Minute

// RunReaper - фоновый цикл автоснятия просроченных броней. Выключен по умолчанию.
func (l *Ledger) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		l.logger.Warn("non-positive reap interval, using default",
			zap.Duration("interval", interval),
			zap.Duration("default", DefaultReapInterval))
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("reservation reaper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reservation reaper stopped")
			return
		case <-ticker.C:
			l.ReapExpired(l.now())
		}
	}
}
