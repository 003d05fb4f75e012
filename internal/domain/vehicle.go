package domain

import "time"

type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "AVAILABLE"   // В пуле, можно назначать
	VehicleDispatched  VehicleStatus = "DISPATCHED"  // Есть активное задание
	VehicleCharging    VehicleStatus = "CHARGING"    // На зарядке, вернется монитором
	VehicleMaintenance VehicleStatus = "MAINTENANCE" // Выведена из пула вручную
)

// ParseVehicleStatus нормализует статус из конфигурации.
func ParseVehicleStatus(s string) (VehicleStatus, bool) {
	switch VehicleStatus(upper(s)) {
	case VehicleAvailable:
		return VehicleAvailable, true
	case VehicleDispatched:
		return VehicleDispatched, true
	case VehicleCharging:
		return VehicleCharging, true
	case VehicleMaintenance:
		return VehicleMaintenance, true
	}
	return "", false
}

// VehicleRecord - AGV. Инвариант: Status == DISPATCHED <=> CurrentTask != nil.
type VehicleRecord struct {
	ID           string        `json:"vehicle_id"`
	Type         string        `json:"type"`
	Capacity     int           `json:"capacity"`
	Location     string        `json:"location"`
	BatteryLevel float64       `json:"battery_level"`
	Status       VehicleStatus `json:"status"`
	CostPerTrip  float64       `json:"cost_per_trip"`
	MaxSpeed     float64       `json:"max_speed"`
	CurrentTask  *int          `json:"current_task,omitempty"` // DispatchRecord.ID
}

// RouteRecord - справочник маршрутов, ключ (From, To) строго направленный.
type RouteRecord struct {
	From        string  `json:"from_location"`
	To          string  `json:"to_location"`
	DistanceM   float64 `json:"distance_m"`
	TimeMinutes float64 `json:"time_minutes"`
}

// RouteKey - составной ключ маршрута. Локации не нормализуются.
func RouteKey(from, to string) string {
	return from + "|" + to
}

type DispatchStatus string

const (
	DispatchActive    DispatchStatus = "DISPATCHED"
	DispatchCompleted DispatchStatus = "COMPLETED"
)

// TaskDetails - что и куда везет машина.
type TaskDetails struct {
	SourceLocation string `json:"source_location"`
	Destination    string `json:"destination"`
	Quantity       int    `json:"quantity"`
	PartNumber     string `json:"part_number,omitempty"`
	Description    string `json:"description,omitempty"`
	Priority       string `json:"priority,omitempty"`
}

type DispatchRecord struct {
	ID                  int            `json:"dispatch_id"`
	VehicleID           string         `json:"vehicle_id"`
	Task                TaskDetails    `json:"task"`
	Requester           string         `json:"requester"`
	Status              DispatchStatus `json:"status"`
	DispatchedAt        time.Time      `json:"dispatched_at"`
	EstimatedCompletion time.Time      `json:"estimated_completion"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	EstimatedCost       float64        `json:"estimated_cost"`
	CompletionDetails   map[string]any `json:"completion_details,omitempty"`
}
