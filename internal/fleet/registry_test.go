package fleet

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

func testVehicles() []domain.VehicleRecord {
	return []domain.VehicleRecord{
		{ID: "AGV-001", Type: "heavy_duty_agv", Capacity: 100, BatteryLevel: 85, CostPerTrip: 5.00, MaxSpeed: 1.5, Location: "AGV_BASE"},
		{ID: "AGV-002", Type: "standard_agv", Capacity: 50, BatteryLevel: 92, CostPerTrip: 3.50, MaxSpeed: 1.2, Location: "AGV_BASE"},
		{ID: "AGV-003", Type: "heavy_duty_agv", Capacity: 100, BatteryLevel: 87, CostPerTrip: 5.00, MaxSpeed: 1.5, Location: "AGV_BASE"},
		{ID: "AGV-004", Type: "light_duty_agv", Capacity: 25, BatteryLevel: 82, CostPerTrip: 2.50, MaxSpeed: 1.0, Location: "AGV_BASE"},
	}
}

func testRoutes() []domain.RouteRecord {
	return []domain.RouteRecord{
		{From: "Warehouse A", To: "Production Line A", DistanceM: 150, TimeMinutes: 4},
		{From: "Central Warehouse", To: "Production Line B", DistanceM: 200, TimeMinutes: 5.5},
		{From: "Warehouse A", To: "Manufacturing Plant Delta", DistanceM: 350, TimeMinutes: 9},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r, err := NewRegistry(testVehicles(), testRoutes(), zap.NewNop(), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func assertDispatchInvariant(t *testing.T, r *Registry) {
	t.Helper()
	for _, v := range r.snapshot() {
		_, active := r.ActiveDispatch(v.ID)
		if (v.Status == domain.VehicleDispatched) != active {
			t.Fatalf("%s: status %s but active assignment = %v", v.ID, v.Status, active)
		}
	}
}

func task(qty int) domain.TaskDetails {
	return domain.TaskDetails{SourceLocation: "Warehouse A", Destination: "Production Line A", Quantity: qty}
}

func TestFindOptimalVehicleOrdering(t *testing.T) {
	r := newTestRegistry(t)

	sel, err := r.FindOptimalVehicle(30, "Warehouse A", "Production Line A")
	if err != nil {
		t.Fatalf("FindOptimalVehicle: %v", err)
	}

	want := []struct {
		id    string
		score float64
	}{
		{"AGV-002", 0.4*0.92 + 0.3/3.5 + 0.3*30.0/50},
		{"AGV-003", 0.4*0.87 + 0.3/5 + 0.3*30.0/100},
		{"AGV-001", 0.4*0.85 + 0.3/5 + 0.3*30.0/100},
	}
	got := append([]Candidate{sel.Selected}, sel.Alternatives...)
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d (25-capacity vehicle must be excluded)", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Vehicle.ID != w.id {
			t.Errorf("rank %d: got %s, want %s", i, got[i].Vehicle.ID, w.id)
		}
		if math.Abs(got[i].EfficiencyScore-w.score) > 1e-9 {
			t.Errorf("%s: score %.6f, want %.6f", w.id, got[i].EfficiencyScore, w.score)
		}
	}
	if sel.Route.DistanceM != 150 || sel.Selected.EstimatedTripTime != 4 {
		t.Errorf("route info = %+v", sel.Route)
	}
	if sel.Selected.CapacityUtilization != 60 {
		t.Errorf("utilization = %v, want 60", sel.Selected.CapacityUtilization)
	}
}

func TestFindOptimalVehicleTiesKeepConfigOrder(t *testing.T) {
	vehicles := []domain.VehicleRecord{
		{ID: "B", Capacity: 10, BatteryLevel: 50, CostPerTrip: 2},
		{ID: "A", Capacity: 10, BatteryLevel: 50, CostPerTrip: 2},
	}
	r, err := NewRegistry(vehicles, testRoutes(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	sel, err := r.FindOptimalVehicle(5, "Warehouse A", "Production Line A")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Selected.Vehicle.ID != "B" {
		t.Errorf("tie broken to %s, want B", sel.Selected.Vehicle.ID)
	}
}

func TestFindOptimalVehicleFailures(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name     string
		qty      int
		from, to string
		want     error
	}{
		{"reverse route is not symmetric", 10, "Production Line A", "Warehouse A", domain.ErrRouteNotFound},
		{"case mismatch", 10, "warehouse a", "Production Line A", domain.ErrRouteNotFound},
		{"too heavy", 101, "Warehouse A", "Production Line A", domain.ErrNoSuitableVehicle},
		{"zero quantity", 0, "Warehouse A", "Production Line A", domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.FindOptimalVehicle(tt.qty, tt.from, tt.to); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRouteNotFoundSuggestsDestinations(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.GetRouteInfo("Warehouse A", "Production line A")
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindRouteNotFound {
		t.Fatalf("got %v, want RouteNotFound", err)
	}
	known, _ := de.Details["known_destinations"].([]string)
	if len(known) != 2 || known[1] != "Production Line A" {
		t.Errorf("known destinations = %v", known)
	}
}

func TestDispatchLifecycle(t *testing.T) {
	r := newTestRegistry(t)

	rec, err := r.DispatchVehicle("AGV-002", task(30), "tester")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.ID != 1 || rec.EstimatedCost != 3.50 {
		t.Errorf("record = %+v", rec)
	}
	if rec.EstimatedCompletion.Sub(rec.DispatchedAt) != 4*time.Minute {
		t.Errorf("eta = %v", rec.EstimatedCompletion.Sub(rec.DispatchedAt))
	}
	v, _ := r.GetVehicle("AGV-002")
	if v.Status != domain.VehicleDispatched || v.Location != "Warehouse A" {
		t.Errorf("vehicle after dispatch = %+v", v)
	}
	assertDispatchInvariant(t, r)

	if _, err := r.DispatchVehicle("AGV-002", task(10), "tester"); !errors.Is(err, domain.ErrNotAvailable) {
		t.Fatalf("second dispatch: got %v, want NotAvailable", err)
	}

	done, err := r.CompleteTask("AGV-002", map[string]any{"note": "delivered"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.DispatchCompleted || done.CompletedAt == nil {
		t.Errorf("completed record = %+v", done)
	}
	assertDispatchInvariant(t, r)

	if _, err := r.CompleteTask("AGV-002", nil); !errors.Is(err, domain.ErrNoActiveAssignment) {
		t.Errorf("double complete: got %v, want NoActiveAssignment", err)
	}

	rec2, err := r.DispatchVehicle("AGV-002", task(10), "tester")
	if err != nil {
		t.Fatalf("re-dispatch: %v", err)
	}
	if rec2.ID != 2 {
		t.Errorf("dispatch id = %d, want 2", rec2.ID)
	}
	if n := len(r.GetDispatchHistory("AGV-002")); n != 2 {
		t.Errorf("history = %d, want 2", n)
	}
	assertDispatchInvariant(t, r)
}

func TestDispatchPreconditions(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name    string
		vehicle string
		task    domain.TaskDetails
		want    error
	}{
		{"unknown vehicle", "AGV-999", task(1), domain.ErrNotFound},
		{"over capacity", "AGV-004", task(26), domain.ErrCapacityExceeded},
		{"missing source", "AGV-001", domain.TaskDetails{Destination: "X", Quantity: 1}, domain.ErrMissingField},
		{"missing destination", "AGV-001", domain.TaskDetails{SourceLocation: "X", Quantity: 1}, domain.ErrMissingField},
		{"missing quantity", "AGV-001", domain.TaskDetails{SourceLocation: "X", Destination: "Y"}, domain.ErrMissingField},
		{"negative quantity", "AGV-001", task(-3), domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.DispatchVehicle(tt.vehicle, tt.task, "tester"); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if s := r.GetFleetStatus(); s.Available != 4 || s.ActiveDispatches != 0 {
		t.Errorf("failed dispatches left side effects: %+v", s)
	}
	assertDispatchInvariant(t, r)
}

func TestFleetStatus(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.DispatchVehicle("AGV-001", task(80), "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetMaintenance("AGV-004", true); err != nil {
		t.Fatal(err)
	}

	s := r.GetFleetStatus()
	if s.TotalVehicles != 4 || s.Available != 2 || s.Dispatched != 1 || s.Maintenance != 1 {
		t.Errorf("status = %+v", s)
	}
	if s.TotalCapacity != 275 || s.ActiveDispatches != 1 {
		t.Errorf("capacity/dispatches = %d/%d", s.TotalCapacity, s.ActiveDispatches)
	}
	if math.Abs(s.AverageBattery-86.5) > 1e-9 {
		t.Errorf("avg battery = %v", s.AverageBattery)
	}

	if _, err := r.SetMaintenance("AGV-001", true); !errors.Is(err, domain.ErrNotAvailable) {
		t.Errorf("maintenance on dispatched vehicle: got %v", err)
	}
}

func TestMonitorSweep(t *testing.T) {
	vehicles := []domain.VehicleRecord{
		{ID: "low", Capacity: 10, BatteryLevel: 15, CostPerTrip: 1},
		{ID: "charging", Capacity: 10, BatteryLevel: 92, CostPerTrip: 1, Status: domain.VehicleCharging},
		{ID: "slow", Capacity: 10, BatteryLevel: 40, CostPerTrip: 1, Status: domain.VehicleCharging},
		{ID: "service", Capacity: 10, BatteryLevel: 5, CostPerTrip: 1, Status: domain.VehicleMaintenance},
	}
	r, err := NewRegistry(vehicles, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMonitor(r, DefaultMonitorConfig(), zap.NewNop())

	rep := m.Sweep()
	if len(rep.SentToCharge) != 1 || rep.SentToCharge[0] != "low" {
		t.Errorf("sent to charge = %v", rep.SentToCharge)
	}
	if len(rep.Returned) != 1 || rep.Returned[0] != "charging" {
		t.Errorf("returned = %v", rep.Returned)
	}

	if v, _ := r.GetVehicle("slow"); v.Status != domain.VehicleCharging || v.BatteryLevel != 45 {
		t.Errorf("slow = %+v", v)
	}
	if v, _ := r.GetVehicle("service"); v.Status != domain.VehicleMaintenance {
		t.Errorf("maintenance vehicle touched: %+v", v)
	}
}
