package fleet

import (
	"context"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

type MonitorConfig struct {
	Interval       time.Duration
	BatteryLow     float64 // ниже - AVAILABLE уходит на зарядку
	ChargeRate     float64 // прирост заряда за тик, %
	ChargeComplete float64 // с этого уровня CHARGING возвращается в пул
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:       30 * time.Second,
		BatteryLow:     20,
		ChargeRate:     5,
		ChargeComplete: 95,
	}
}

// SweepReport - что поменялось за один проход.
type SweepReport struct {
	Charging     []string `json:"charging"`
	Returned     []string `json:"returned"`
	SentToCharge []string `json:"sent_to_charge"`
}

// Monitor - фоновый опрос батарей. Тик применяется целиком: отмена контекста
// проверяется только между тиками.
type Monitor struct {
	reg    *Registry
	cfg    MonitorConfig
	logger *zap.Logger
}

func NewMonitor(reg *Registry, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorConfig().Interval
	}
	return &Monitor{reg: reg, cfg: cfg, logger: logger.Named("fleet-monitor")}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("fleet monitor started", zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("fleet monitor stopped")
			return
		case <-ticker.C:
			rep := m.Sweep()
			if len(rep.Returned)+len(rep.SentToCharge) > 0 {
				m.logger.Info("fleet sweep",
					zap.Strings("returned", rep.Returned),
					zap.Strings("sent_to_charge", rep.SentToCharge))
			}
		}
	}
}

// Sweep - один проход по парку. Каждая машина меняется под своим замком.
func (m *Monitor) Sweep() SweepReport {
	var rep SweepReport
	for _, id := range m.reg.order {
		e := m.reg.vehicles[id]
		e.mu.Lock()
		switch e.rec.Status {
		case domain.VehicleCharging:
			e.rec.BatteryLevel = min(100, e.rec.BatteryLevel+m.cfg.ChargeRate)
			if e.rec.BatteryLevel >= m.cfg.ChargeComplete {
				e.rec.Status = domain.VehicleAvailable
				rep.Returned = append(rep.Returned, id)
			} else {
				rep.Charging = append(rep.Charging, id)
			}
		case domain.VehicleAvailable:
			if e.rec.BatteryLevel < m.cfg.BatteryLow {
				e.rec.Status = domain.VehicleCharging
				rep.SentToCharge = append(rep.SentToCharge, id)
			}
		}
		e.mu.Unlock()
	}
	return rep
}
