package fleet

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// DefaultTripDuration - оценка длительности, если маршрута нет в справочнике.
const DefaultTripDuration = 10 * time.Minute

type vehicleEntry struct {
	mu  sync.Mutex
	rec domain.VehicleRecord
}

// Registry владеет машинами, справочником маршрутов и журналом назначений.
// Мьютекс у каждой машины свой; журнал под logMu. Порядок захвата: машина -> журнал.
type Registry struct {
	vehicles map[string]*vehicleEntry
	order    []string

	routes map[string]domain.RouteRecord

	now    func() time.Time
	logger *zap.Logger

	logMu      sync.Mutex
	dispatches []domain.DispatchRecord // ID = индекс + 1
}

type Option func(*Registry)

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(vehicles []domain.VehicleRecord, routes []domain.RouteRecord, logger *zap.Logger, opts ...Option) (*Registry, error) {
	r := &Registry{
		vehicles: make(map[string]*vehicleEntry, len(vehicles)),
		routes:   make(map[string]domain.RouteRecord, len(routes)),
		now:      time.Now,
		logger:   logger.Named("fleet"),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, v := range vehicles {
		if v.ID == "" || v.Capacity <= 0 || v.CostPerTrip <= 0 {
			r.logger.Warn("skipping invalid vehicle record",
				zap.String("vehicle_id", v.ID),
				zap.Int("capacity", v.Capacity),
				zap.Float64("cost_per_trip", v.CostPerTrip))
			continue
		}
		if _, dup := r.vehicles[v.ID]; dup {
			r.logger.Warn("duplicate vehicle ignored", zap.String("vehicle_id", v.ID))
			continue
		}
		v.BatteryLevel = min(100, max(0, v.BatteryLevel))
		if v.Status == "" {
			v.Status = domain.VehicleAvailable
		}
		// Без записи о назначении DISPATCHED нарушал бы инвариант - возвращаем в пул
		if v.Status == domain.VehicleDispatched {
			r.logger.Warn("vehicle configured as dispatched without assignment, resetting to available",
				zap.String("vehicle_id", v.ID))
			v.Status = domain.VehicleAvailable
		}
		v.CurrentTask = nil
		r.vehicles[v.ID] = &vehicleEntry{rec: v}
		r.order = append(r.order, v.ID)
	}

	for _, rt := range routes {
		if rt.From == "" || rt.To == "" {
			continue
		}
		r.routes[domain.RouteKey(rt.From, rt.To)] = rt
	}

	if len(r.vehicles) == 0 {
		return nil, fmt.Errorf("fleet is empty")
	}
	r.logger.Info("fleet registry initialized",
		zap.Int("vehicles", len(r.vehicles)),
		zap.Int("routes", len(r.routes)))
	return r, nil
}

func (r *Registry) entry(op, id string) (*vehicleEntry, error) {
	e, ok := r.vehicles[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, op, id, "vehicle %s not found", id)
	}
	return e, nil
}

func (r *Registry) snapshot() []domain.VehicleRecord {
	out := make([]domain.VehicleRecord, 0, len(r.order))
	for _, id := range r.order {
		e := r.vehicles[id]
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) GetVehicle(id string) (domain.VehicleRecord, error) {
	e, err := r.entry("fleet.get_vehicle", id)
	if err != nil {
		return domain.VehicleRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// GetAvailableVehicles - AVAILABLE с capacity >= minCapacity, опционально по типу.
func (r *Registry) GetAvailableVehicles(minCapacity int, typeFilter string) []domain.VehicleRecord {
	out := []domain.VehicleRecord{}
	for _, v := range r.snapshot() {
		if v.Status != domain.VehicleAvailable || v.Capacity < minCapacity {
			continue
		}
		if typeFilter != "" && !strings.EqualFold(v.Type, typeFilter) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// GetRouteInfo - точный направленный поиск, без нормализации строк.
func (r *Registry) GetRouteInfo(from, to string) (domain.RouteRecord, error) {
	rt, ok := r.routes[domain.RouteKey(from, to)]
	if !ok {
		return domain.RouteRecord{}, domain.NewError(domain.KindRouteNotFound, "fleet.route", domain.RouteKey(from, to),
			"no route from %q to %q", from, to).
			With("from_location", from).
			With("to_location", to).
			With("known_destinations", r.destinationsFrom(from))
	}
	return rt, nil
}

// destinationsFrom подсказывает вызывающему правильное написание.
func (r *Registry) destinationsFrom(from string) []string {
	out := []string{}
	for _, rt := range r.routes {
		if rt.From == from {
			out = append(out, rt.To)
		}
	}
	sort.Strings(out)
	return out
}

// DispatchVehicle назначает машину на задание. Все проверки - строгие предусловия,
// при отказе состояние не меняется.
func (r *Registry) DispatchVehicle(vehicleID string, task domain.TaskDetails, requester string) (domain.DispatchRecord, error) {
	const op = "fleet.dispatch"

	// 1. Обязательные поля задания
	switch {
	case strings.TrimSpace(task.SourceLocation) == "":
		return domain.DispatchRecord{}, missing(op, vehicleID, "source_location")
	case strings.TrimSpace(task.Destination) == "":
		return domain.DispatchRecord{}, missing(op, vehicleID, "destination")
	case task.Quantity == 0:
		return domain.DispatchRecord{}, missing(op, vehicleID, "quantity")
	case task.Quantity < 0:
		return domain.DispatchRecord{}, domain.NewError(domain.KindInvalidInput, op, vehicleID,
			"quantity must be positive, got %d", task.Quantity).With("field", "quantity")
	}

	e, err := r.entry(op, vehicleID)
	if err != nil {
		return domain.DispatchRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// 2. Статус и вместимость
	if e.rec.Status != domain.VehicleAvailable {
		return domain.DispatchRecord{}, domain.NewError(domain.KindNotAvailable, op, vehicleID,
			"vehicle %s is not available (status %s)", vehicleID, e.rec.Status).
			With("status", string(e.rec.Status))
	}
	if task.Quantity > e.rec.Capacity {
		return domain.DispatchRecord{}, domain.NewError(domain.KindCapacityExceeded, op, vehicleID,
			"quantity %d exceeds capacity %d of %s", task.Quantity, e.rec.Capacity, vehicleID).
			With("capacity", e.rec.Capacity).
			With("overage", task.Quantity-e.rec.Capacity)
	}

	// 3. Фиксация назначения
	now := r.now()
	eta := now.Add(DefaultTripDuration)
	if rt, ok := r.routes[domain.RouteKey(task.SourceLocation, task.Destination)]; ok {
		eta = now.Add(time.Duration(rt.TimeMinutes * float64(time.Minute)))
	}

	r.logMu.Lock()
	rec := domain.DispatchRecord{
		ID:                  len(r.dispatches) + 1,
		VehicleID:           vehicleID,
		Task:                task,
		Requester:           requester,
		Status:              domain.DispatchActive,
		DispatchedAt:        now,
		EstimatedCompletion: eta,
		EstimatedCost:       e.rec.CostPerTrip,
	}
	r.dispatches = append(r.dispatches, rec)
	r.logMu.Unlock()

	id := rec.ID
	e.rec.Status = domain.VehicleDispatched
	e.rec.Location = task.SourceLocation
	e.rec.CurrentTask = &id

	r.logger.Info("vehicle dispatched",
		zap.String("vehicle_id", vehicleID),
		zap.Int("dispatch_id", id),
		zap.String("from", task.SourceLocation),
		zap.String("to", task.Destination),
		zap.Int("quantity", task.Quantity))

	return rec, nil
}

func missing(op, entity, field string) error {
	return domain.NewError(domain.KindMissingField, op, entity, "task field %s is required", field).With("field", field)
}

// CompleteTask закрывает активное назначение и возвращает машину в пул.
func (r *Registry) CompleteTask(vehicleID string, details map[string]any) (domain.DispatchRecord, error) {
	const op = "fleet.complete"
	e, err := r.entry(op, vehicleID)
	if err != nil {
		return domain.DispatchRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.CurrentTask == nil {
		return domain.DispatchRecord{}, domain.NewError(domain.KindNoActiveAssignment, op, vehicleID,
			"vehicle %s has no active assignment", vehicleID)
	}

	now := r.now()
	r.logMu.Lock()
	rec := &r.dispatches[*e.rec.CurrentTask-1]
	rec.Status = domain.DispatchCompleted
	rec.CompletedAt = &now
	if len(details) > 0 {
		rec.CompletionDetails = details
	}
	done := *rec
	r.logMu.Unlock()

	e.rec.Status = domain.VehicleAvailable
	e.rec.Location = done.Task.Destination
	e.rec.CurrentTask = nil

	r.logger.Info("task completed",
		zap.String("vehicle_id", vehicleID),
		zap.Int("dispatch_id", done.ID))
	return done, nil
}

// ActiveDispatch - текущее назначение машины, если есть.
func (r *Registry) ActiveDispatch(vehicleID string) (domain.DispatchRecord, bool) {
	e, ok := r.vehicles[vehicleID]
	if !ok {
		return domain.DispatchRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.CurrentTask == nil {
		return domain.DispatchRecord{}, false
	}
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return r.dispatches[*e.rec.CurrentTask-1], true
}

// GetDispatchHistory - журнал назначений. Пустой id - по всему парку.
func (r *Registry) GetDispatchHistory(vehicleID string) []domain.DispatchRecord {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	out := make([]domain.DispatchRecord, 0, len(r.dispatches))
	for _, d := range r.dispatches {
		if vehicleID == "" || d.VehicleID == vehicleID {
			out = append(out, d)
		}
	}
	return out
}

// SetMaintenance выводит машину в обслуживание или возвращает в пул.
// Машину с активным заданием трогать нельзя.
func (r *Registry) SetMaintenance(vehicleID string, on bool) (domain.VehicleRecord, error) {
	const op = "fleet.maintenance"
	e, err := r.entry(op, vehicleID)
	if err != nil {
		return domain.VehicleRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Status == domain.VehicleDispatched {
		return e.rec, domain.NewError(domain.KindNotAvailable, op, vehicleID,
			"vehicle %s is on an active assignment", vehicleID)
	}
	if on {
		e.rec.Status = domain.VehicleMaintenance
	} else if e.rec.Status == domain.VehicleMaintenance {
		e.rec.Status = domain.VehicleAvailable
	}
	r.logger.Info("maintenance flag changed", zap.String("vehicle_id", vehicleID), zap.Bool("maintenance", on))
	return e.rec, nil
}

type Status struct {
	TotalVehicles    int     `json:"total_vehicles"`
	Available        int     `json:"available"`
	Dispatched       int     `json:"dispatched"`
	Charging         int     `json:"charging"`
	Maintenance      int     `json:"maintenance"`
	AverageBattery   float64 `json:"average_battery"`
	TotalCapacity    int     `json:"total_capacity"`
	ActiveDispatches int     `json:"active_dispatches"`
	CompletedTasks   int     `json:"completed_tasks"`
}

func (r *Registry) GetFleetStatus() Status {
	var s Status
	battery := 0.0
	for _, v := range r.snapshot() {
		s.TotalVehicles++
		s.TotalCapacity += v.Capacity
		battery += v.BatteryLevel
		switch v.Status {
		case domain.VehicleAvailable:
			s.Available++
		case domain.VehicleDispatched:
			s.Dispatched++
		case domain.VehicleCharging:
			s.Charging++
		case domain.VehicleMaintenance:
			s.Maintenance++
		}
		if v.CurrentTask != nil {
			s.ActiveDispatches++
		}
	}
	if s.TotalVehicles > 0 {
		s.AverageBattery = battery / float64(s.TotalVehicles)
	}

	r.logMu.Lock()
	for _, d := range r.dispatches {
		if d.Status == domain.DispatchCompleted {
			s.CompletedTasks++
		}
	}
	r.logMu.Unlock()
	return s
}
