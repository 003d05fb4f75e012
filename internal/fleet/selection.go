package fleet

import (
	"sort"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// Веса функции эффективности
const (
	weightBattery     = 0.4
	weightCost        = 0.3
	weightUtilization = 0.3

	maxAlternatives = 2
)

type Candidate struct {
	Vehicle             domain.VehicleRecord `json:"vehicle"`
	EfficiencyScore     float64              `json:"efficiency_score"`
	CapacityUtilization float64              `json:"capacity_utilization"` // в процентах
	EstimatedTripTime   float64              `json:"estimated_trip_time"`  // минуты
	EstimatedCost       float64              `json:"estimated_cost"`
	RouteDistance       float64              `json:"route_distance"`
}

type Selection struct {
	Quantity     int                `json:"quantity"`
	Selected     Candidate          `json:"selected"`
	Alternatives []Candidate        `json:"alternatives"`
	Route        domain.RouteRecord `json:"route_info"`
}

// Score - 0.4·battery/100 + 0.3·(1/cost_per_trip) + 0.3·quantity/capacity.
// Заряд тянет вверх, дорогая поездка вниз, утилизация поощряет машину "по размеру".
func Score(v domain.VehicleRecord, quantity int) float64 {
	return weightBattery*(v.BatteryLevel/100) +
		weightCost*(1/v.CostPerTrip) +
		weightUtilization*(float64(quantity)/float64(v.Capacity))
}

// FindOptimalVehicle выбирает машину под перевозку. Маршрут ищется строго по паре
// (from, to); при равенстве очков сохраняется порядок конфигурации.
func (r *Registry) FindOptimalVehicle(quantity int, from, to string) (Selection, error) {
	const op = "fleet.find_optimal"
	if quantity <= 0 {
		return Selection{}, domain.NewError(domain.KindInvalidInput, op, "",
			"quantity must be positive, got %d", quantity).With("field", "quantity")
	}

	// 1. Маршрут
	route, err := r.GetRouteInfo(from, to)
	if err != nil {
		return Selection{}, err
	}

	// 2. Кандидаты
	pool := r.GetAvailableVehicles(quantity, "")
	if len(pool) == 0 {
		return Selection{}, domain.NewError(domain.KindNoSuitableVehicle, op, "",
			"no available vehicle can carry %d units", quantity).
			With("quantity", quantity)
	}

	candidates := make([]Candidate, 0, len(pool))
	for _, v := range pool {
		candidates = append(candidates, Candidate{
			Vehicle:             v,
			EfficiencyScore:     Score(v, quantity),
			CapacityUtilization: float64(quantity) * 100 / float64(v.Capacity),
			EstimatedTripTime:   route.TimeMinutes,
			EstimatedCost:       v.CostPerTrip,
			RouteDistance:       route.DistanceM,
		})
	}

	// 3. Ранжирование
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].EfficiencyScore > candidates[j].EfficiencyScore
	})

	alts := candidates[1:]
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}

	sel := Selection{
		Quantity:     quantity,
		Selected:     candidates[0],
		Alternatives: append([]Candidate(nil), alts...),
		Route:        route,
	}
	r.logger.Debug("vehicle selected",
		zap.String("vehicle_id", sel.Selected.Vehicle.ID),
		zap.Float64("score", sel.Selected.EfficiencyScore),
		zap.Int("candidates", len(candidates)))
	return sel, nil
}
