package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/xela07ax/agv-logistics-coordinator/internal/approval"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// Catalog - стартовые данные сервисов: детали, парк, маршруты и политика согласования.
type Catalog struct {
	Parts      []domain.PartRecord
	Vehicles   []domain.VehicleRecord
	Routes     []domain.RouteRecord
	Thresholds domain.ApprovalThresholdPolicy
	Risk       domain.RiskPolicy
}

// Секции файла каталога. Списки с явными id: viper приводит ключи карт к нижнему регистру.
type catalogPart struct {
	PartNumber        string  `mapstructure:"part_number"`
	Description       string  `mapstructure:"description"`
	Category          string  `mapstructure:"category"`
	TotalStock        int     `mapstructure:"total_stock"`
	ReservedQuantity  int     `mapstructure:"reserved_quantity"`
	UnitCost          float64 `mapstructure:"unit_cost"`
	ReorderPoint      int     `mapstructure:"reorder_point"`
	MaximumStock      int     `mapstructure:"maximum_stock"`
	WarehouseLocation string  `mapstructure:"warehouse_location"`
	Supplier          string  `mapstructure:"supplier"`
	LeadTimeDays      int     `mapstructure:"lead_time_days"`
}

type catalogVehicle struct {
	ID           string  `mapstructure:"vehicle_id"`
	Type         string  `mapstructure:"type"`
	Capacity     int     `mapstructure:"capacity"`
	Location     string  `mapstructure:"location"`
	BatteryLevel float64 `mapstructure:"battery_level"`
	Status       string  `mapstructure:"status"`
	CostPerTrip  float64 `mapstructure:"cost_per_trip"`
	MaxSpeed     float64 `mapstructure:"max_speed"`
}

type catalogRoute struct {
	From        string  `mapstructure:"from"`
	To          string  `mapstructure:"to"`
	DistanceM   float64 `mapstructure:"distance_m"`
	TimeMinutes float64 `mapstructure:"time_minutes"`
}

type catalogRisk struct {
	AutoApproveLimits   map[string]float64 `mapstructure:"auto_approve_limits"`
	DefaultAutoApprove  float64            `mapstructure:"default_auto_approve"`
	DirectorLimit       float64            `mapstructure:"director_limit"`
	BoardLimit          float64            `mapstructure:"board_limit"`
	JustificationAbove  float64            `mapstructure:"justification_above"`
	MultipleQuotesAbove float64            `mapstructure:"multiple_quotes_above"`
	BudgetLimit         float64            `mapstructure:"budget_limit"`
	BudgetSpent         float64            `mapstructure:"budget_spent"`
}

// CatalogSource читает каталог из файла (yaml или json). Пустой путь - встроенный набор.
// Реализует approval.PolicyProvider: каждая перезагрузка перечитывает файл.
type CatalogSource struct {
	path   string
	logger *zap.Logger
}

func NewCatalogSource(path string, logger *zap.Logger) *CatalogSource {
	return &CatalogSource{path: path, logger: logger.Named("catalog")}
}

func (s *CatalogSource) Path() string { return s.path }

func (s *CatalogSource) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(s.path)
	return v
}

// Load собирает каталог. Отсутствующий или битый файл, пустая или неразборчивая секция
// заменяются встроенными значениями с предупреждением. Ошибок не возвращает.
func (s *CatalogSource) Load() Catalog {
	def := DefaultCatalog()
	if s.path == "" {
		s.logger.Info("no catalog file configured, using built-in catalog")
		return def
	}

	v := s.newViper()
	if err := v.ReadInConfig(); err != nil {
		s.logger.Warn("catalog file unreadable, using built-in catalog",
			zap.String("path", s.path), zap.Error(err))
		return def
	}

	cat := def
	if parts, err := decodeParts(v); err != nil {
		s.warnSection("parts", err)
	} else {
		cat.Parts = parts
	}
	if vehicles, err := decodeVehicles(v); err != nil {
		s.warnSection("vehicles", err)
	} else {
		cat.Vehicles = vehicles
	}
	if routes, err := decodeRoutes(v); err != nil {
		s.warnSection("routes", err)
	} else {
		cat.Routes = routes
	}
	if thresholds, err := decodeThresholds(v); err != nil {
		s.warnSection("approval_thresholds", err)
	} else {
		cat.Thresholds = thresholds
	}
	if risk, err := decodeRisk(v); err != nil {
		s.warnSection("risk_policy", err)
	} else {
		cat.Risk = risk
	}

	s.logger.Info("catalog loaded",
		zap.String("path", s.path),
		zap.Int("parts", len(cat.Parts)),
		zap.Int("vehicles", len(cat.Vehicles)),
		zap.Int("routes", len(cat.Routes)),
		zap.Int("threshold_categories", len(cat.Thresholds)),
	)
	return cat
}

func (s *CatalogSource) warnSection(section string, err error) {
	s.logger.Warn("catalog section replaced with built-in defaults",
		zap.String("section", section), zap.Error(err))
}

// ApprovalPolicy перечитывает политику из файла. В отличие от Load, ошибки возвращаются:
// PolicyStore в этом случае оставляет текущую политику.
func (s *CatalogSource) ApprovalPolicy(_ context.Context) (domain.ApprovalThresholdPolicy, domain.RiskPolicy, error) {
	if s.path == "" {
		return approval.DefaultThresholds(), approval.DefaultRiskPolicy(), nil
	}
	v := s.newViper()
	if err := v.ReadInConfig(); err != nil {
		return nil, domain.RiskPolicy{}, fmt.Errorf("read catalog %s: %w", s.path, err)
	}
	thresholds, err := decodeThresholds(v)
	if err != nil {
		return nil, domain.RiskPolicy{}, fmt.Errorf("approval_thresholds: %w", err)
	}
	risk, err := decodeRisk(v)
	if err != nil {
		// Политику риска без секции берем встроенную, ступени важнее
		risk = approval.DefaultRiskPolicy()
	}
	return thresholds, risk, nil
}

// Watch вызывает onChange при каждом изменении файла каталога (fsnotify через viper).
func (s *CatalogSource) Watch(onChange func()) error {
	if s.path == "" {
		return nil
	}
	v := s.newViper()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch catalog %s: %w", s.path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		s.logger.Info("catalog file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		onChange()
	})
	v.WatchConfig()
	return nil
}

var errEmptySection = errors.New("section is missing or empty")

func decodeParts(v *viper.Viper) ([]domain.PartRecord, error) {
	var raw []catalogPart
	if err := v.UnmarshalKey("parts", &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errEmptySection
	}
	out := make([]domain.PartRecord, 0, len(raw))
	for i, p := range raw {
		if strings.TrimSpace(p.PartNumber) == "" {
			return nil, fmt.Errorf("parts[%d]: part_number is required", i)
		}
		out = append(out, domain.PartRecord{
			PartNumber:        p.PartNumber,
			Description:       p.Description,
			Category:          p.Category,
			TotalStock:        p.TotalStock,
			ReservedQuantity:  p.ReservedQuantity,
			UnitCost:          p.UnitCost,
			ReorderPoint:      p.ReorderPoint,
			MaximumStock:      p.MaximumStock,
			WarehouseLocation: p.WarehouseLocation,
			Supplier:          p.Supplier,
			LeadTimeDays:      p.LeadTimeDays,
		})
	}
	return out, nil
}

func decodeVehicles(v *viper.Viper) ([]domain.VehicleRecord, error) {
	var raw []catalogVehicle
	if err := v.UnmarshalKey("vehicles", &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errEmptySection
	}
	out := make([]domain.VehicleRecord, 0, len(raw))
	for i, r := range raw {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("vehicles[%d]: vehicle_id is required", i)
		}
		var status domain.VehicleStatus
		if r.Status != "" {
			st, ok := domain.ParseVehicleStatus(r.Status)
			if !ok {
				return nil, fmt.Errorf("vehicles[%d]: unknown status %q", i, r.Status)
			}
			// Назначение не переживает рестарт
			if st == domain.VehicleDispatched {
				st = domain.VehicleAvailable
			}
			status = st
		}
		out = append(out, domain.VehicleRecord{
			ID:           r.ID,
			Type:         r.Type,
			Capacity:     r.Capacity,
			Location:     r.Location,
			BatteryLevel: r.BatteryLevel,
			Status:       status,
			CostPerTrip:  r.CostPerTrip,
			MaxSpeed:     r.MaxSpeed,
		})
	}
	return out, nil
}

func decodeRoutes(v *viper.Viper) ([]domain.RouteRecord, error) {
	var raw []catalogRoute
	if err := v.UnmarshalKey("routes", &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errEmptySection
	}
	out := make([]domain.RouteRecord, 0, len(raw))
	for i, r := range raw {
		if r.From == "" || r.To == "" {
			return nil, fmt.Errorf("routes[%d]: from and to are required", i)
		}
		out = append(out, domain.RouteRecord{From: r.From, To: r.To, DistanceM: r.DistanceM, TimeMinutes: r.TimeMinutes})
	}
	return out, nil
}

func decodeThresholds(v *viper.Viper) (domain.ApprovalThresholdPolicy, error) {
	var raw domain.ApprovalThresholdPolicy
	if err := v.UnmarshalKey("approval_thresholds", &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errEmptySection
	}
	for i, c := range raw {
		if c.Name == "" {
			return nil, fmt.Errorf("approval_thresholds[%d]: name is required", i)
		}
		if i > 0 && c.MaxCost < raw[i-1].MaxCost {
			return nil, fmt.Errorf("approval_thresholds[%d]: max_cost must not decrease", i)
		}
	}
	return raw, nil
}

func decodeRisk(v *viper.Viper) (domain.RiskPolicy, error) {
	if !v.IsSet("risk_policy") {
		return domain.RiskPolicy{}, errEmptySection
	}
	var raw catalogRisk
	if err := v.UnmarshalKey("risk_policy", &raw); err != nil {
		return domain.RiskPolicy{}, err
	}
	limits := make(map[domain.Priority]float64, len(raw.AutoApproveLimits))
	for k, limit := range raw.AutoApproveLimits {
		p, ok := domain.ParsePriority(k)
		if !ok {
			return domain.RiskPolicy{}, fmt.Errorf("auto_approve_limits: unknown priority %q", k)
		}
		limits[p] = limit
	}
	// Незаданные поля дозаполнит PolicyStore
	return domain.RiskPolicy{
		AutoApproveLimits:   limits,
		DefaultAutoApprove:  raw.DefaultAutoApprove,
		DirectorLimit:       raw.DirectorLimit,
		BoardLimit:          raw.BoardLimit,
		JustificationAbove:  raw.JustificationAbove,
		MultipleQuotesAbove: raw.MultipleQuotesAbove,
		BudgetLimit:         raw.BudgetLimit,
		BudgetSpent:         raw.BudgetSpent,
	}, nil
}

// DefaultCatalog - встроенный демонстрационный набор: 4 детали, 4 AGV, 11 маршрутов.
func DefaultCatalog() Catalog {
	return Catalog{
		Parts: []domain.PartRecord{
			{PartNumber: "HYDRAULIC-PUMP-HP450", Description: "Heavy-duty hydraulic pump for CNC machinery",
				Category: "Hydraulic Components", TotalStock: 24, ReservedQuantity: 2, UnitCost: 245,
				ReorderPoint: 10, MaximumStock: 50, WarehouseLocation: "Central Warehouse",
				Supplier: "HydroTech Systems", LeadTimeDays: 1},
			{PartNumber: "PART-ABC123", Description: "Standard production part",
				Category: "Standard Components", TotalStock: 85, ReservedQuantity: 15, UnitCost: 12.5,
				ReorderPoint: 25, MaximumStock: 150, WarehouseLocation: "Warehouse A",
				Supplier: "Supplier Corp", LeadTimeDays: 2},
			{PartNumber: "PART-XYZ789", Description: "Specialized part",
				Category: "Specialized Components", TotalStock: 42, ReservedQuantity: 8, UnitCost: 18.75,
				ReorderPoint: 15, MaximumStock: 75, WarehouseLocation: "Warehouse B",
				Supplier: "Parts Inc", LeadTimeDays: 1},
			{PartNumber: "PART-DEF456", Description: "Common component",
				Category: "Standard Components", TotalStock: 120, ReservedQuantity: 25, UnitCost: 8.25,
				ReorderPoint: 40, MaximumStock: 200, WarehouseLocation: "Warehouse A",
				Supplier: "FastParts Ltd", LeadTimeDays: 3},
		},
		Vehicles: []domain.VehicleRecord{
			{ID: "AGV-001", Type: "heavy_duty_agv", Capacity: 100, Location: "AGV_BASE", BatteryLevel: 85,
				Status: domain.VehicleAvailable, CostPerTrip: 5, MaxSpeed: 1.5},
			{ID: "AGV-002", Type: "standard_agv", Capacity: 50, Location: "AGV_BASE", BatteryLevel: 92,
				Status: domain.VehicleAvailable, CostPerTrip: 3.5, MaxSpeed: 1.2},
			{ID: "AGV-003", Type: "heavy_duty_agv", Capacity: 100, Location: "AGV_BASE", BatteryLevel: 87,
				Status: domain.VehicleAvailable, CostPerTrip: 5, MaxSpeed: 1.5},
			{ID: "AGV-004", Type: "light_duty_agv", Capacity: 25, Location: "AGV_BASE", BatteryLevel: 82,
				Status: domain.VehicleAvailable, CostPerTrip: 2.5, MaxSpeed: 1.0},
		},
		Routes: []domain.RouteRecord{
			{From: "Warehouse A", To: "Production Line A", DistanceM: 150, TimeMinutes: 4},
			{From: "Warehouse B", To: "Production Line A", DistanceM: 220, TimeMinutes: 6},
			{From: "Warehouse A", To: "Production Line B", DistanceM: 180, TimeMinutes: 5},
			{From: "Warehouse B", To: "Production Line B", DistanceM: 240, TimeMinutes: 6.5},
			{From: "Central Warehouse", To: "Production Line A", DistanceM: 180, TimeMinutes: 5},
			{From: "Central Warehouse", To: "Production Line B", DistanceM: 200, TimeMinutes: 5.5},
			{From: "Warehouse A", To: "Manufacturing Plant Delta", DistanceM: 350, TimeMinutes: 9},
			{From: "Warehouse B", To: "Manufacturing Plant Delta", DistanceM: 420, TimeMinutes: 11},
			{From: "Central Warehouse", To: "Manufacturing Plant Delta", DistanceM: 380, TimeMinutes: 10},
			{From: "Inventory Warehouse", To: "Manufacturing Plant Delta", DistanceM: 320, TimeMinutes: 8.5},
			{From: "AGV_BASE", To: "Manufacturing Plant Delta", DistanceM: 300, TimeMinutes: 8},
		},
		Thresholds: approval.DefaultThresholds(),
		Risk:       approval.DefaultRiskPolicy(),
	}
}
