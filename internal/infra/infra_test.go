package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("REDIS_ADDR", "redis:6379")
	path := writeFile(t, "config.yaml", `
logger:
  level: debug
orchestrator:
  confirmation: timed
  time_scale: 0.5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("env override: port=%d redis=%q", cfg.Server.Port, cfg.Redis.Addr)
	}
	if cfg.Logger.Level != "debug" || cfg.Orchestrator.Confirmation != "timed" || cfg.Orchestrator.TimeScale != 0.5 {
		t.Errorf("file values: %+v %+v", cfg.Logger, cfg.Orchestrator)
	}
	if cfg.Advisor.Model != "llama3.1:8b" || cfg.Inventory.ReapExpired || cfg.HTTPRateLimit.Rate != "120-M" {
		t.Errorf("defaults: %+v", cfg.Advisor)
	}
}

func TestLoadConfigRejectsUnknownConfirmation(t *testing.T) {
	path := writeFile(t, "config.yaml", "orchestrator:\n  confirmation: eventually\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		cfg     LoggerConfig
		wantErr bool
	}{
		{LoggerConfig{Level: "info", Format: "json"}, false},
		{LoggerConfig{Level: "debug", Format: "console"}, false},
		{LoggerConfig{Level: "loud", Format: "json"}, true},
		{LoggerConfig{Level: "info", Format: "xml"}, true},
	}
	for _, tt := range tests {
		_, err := NewLogger(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%+v: err=%v", tt.cfg, err)
		}
	}
}

const catalogYAML = `
parts:
  - part_number: BRK-100
    description: Brake assembly
    category: Brakes
    total_stock: 10
    reserved_quantity: 1
    unit_cost: 99.5
    warehouse_location: Warehouse B
vehicles:
  - vehicle_id: AGV-900
    type: standard_agv
    capacity: 40
    battery_level: 70
    status: maintenance
    cost_per_trip: 3
routes: []
approval_thresholds:
  - name: small
    max_cost: 200
    auto_approve: true
  - name: big
    max_cost: 999999
    requires_director: true
risk_policy:
  auto_approve_limits:
    urgent: 3000
    low: 100
`

func TestCatalogLoadFallsBackPerSection(t *testing.T) {
	src := NewCatalogSource(writeFile(t, "catalog.yaml", catalogYAML), zap.NewNop())
	cat := src.Load()

	if len(cat.Parts) != 1 || cat.Parts[0].PartNumber != "BRK-100" || cat.Parts[0].UnitCost != 99.5 {
		t.Errorf("parts %+v", cat.Parts)
	}
	if len(cat.Vehicles) != 1 || cat.Vehicles[0].Status != domain.VehicleMaintenance {
		t.Errorf("vehicles %+v", cat.Vehicles)
	}
	// Пустая секция маршрутов заменена встроенной
	if len(cat.Routes) != len(DefaultCatalog().Routes) {
		t.Errorf("routes %d", len(cat.Routes))
	}
	if len(cat.Thresholds) != 2 || cat.Thresholds[0].Name != "small" || !cat.Thresholds[1].RequiresDirector {
		t.Errorf("thresholds %+v", cat.Thresholds)
	}
	if cat.Risk.AutoApproveLimits[domain.PriorityUrgent] != 3000 || cat.Risk.AutoApproveLimits[domain.PriorityLow] != 100 {
		t.Errorf("risk limits %+v", cat.Risk.AutoApproveLimits)
	}
}

func TestCatalogLoadMissingOrMalformed(t *testing.T) {
	def := DefaultCatalog()
	for name, path := range map[string]string{
		"missing":   filepath.Join(t.TempDir(), "nope.yaml"),
		"malformed": writeFile(t, "bad.yaml", "parts: [\n  - part_number: X\n"),
		"empty":     "",
	} {
		cat := NewCatalogSource(path, zap.NewNop()).Load()
		if len(cat.Parts) != len(def.Parts) || len(cat.Vehicles) != 4 || len(cat.Routes) != 11 {
			t.Errorf("%s: got %d parts %d vehicles %d routes", name, len(cat.Parts), len(cat.Vehicles), len(cat.Routes))
		}
	}
}

func TestCatalogRejectsBadSections(t *testing.T) {
	path := writeFile(t, "catalog.json", `{
  "vehicles": [{"vehicle_id": "AGV-1", "status": "flying"}],
  "approval_thresholds": [{"name": "a", "max_cost": 500}, {"name": "b", "max_cost": 100}]
}`)
	src := NewCatalogSource(path, zap.NewNop())
	cat := src.Load()
	if len(cat.Vehicles) != 4 || len(cat.Thresholds) != 3 {
		t.Errorf("bad sections kept: %d vehicles %d thresholds", len(cat.Vehicles), len(cat.Thresholds))
	}
	if _, _, err := src.ApprovalPolicy(context.Background()); err == nil {
		t.Error("ApprovalPolicy accepted decreasing thresholds")
	}
}

func TestCatalogApprovalPolicyRereadsFile(t *testing.T) {
	path := writeFile(t, "catalog.yaml", catalogYAML)
	src := NewCatalogSource(path, zap.NewNop())

	thresholds, _, err := src.ApprovalPolicy(context.Background())
	if err != nil || thresholds[0].MaxCost != 200 {
		t.Fatalf("first read: %v %+v", err, thresholds)
	}

	updated := "approval_thresholds:\n  - name: all\n    max_cost: 999999\n    requires_manager: true\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	thresholds, risk, err := src.ApprovalPolicy(context.Background())
	if err != nil || len(thresholds) != 1 || thresholds[0].Name != "all" {
		t.Fatalf("second read: %v %+v", err, thresholds)
	}
	if risk.DefaultAutoApprove != 1000 {
		t.Errorf("risk without section should be built-in, got %+v", risk)
	}
}

func TestShippedCatalogMatchesBuiltIn(t *testing.T) {
	cat := NewCatalogSource(filepath.Join("..", "..", "configs", "catalog.yaml"), zap.NewNop()).Load()
	def := DefaultCatalog()

	if len(cat.Parts) != len(def.Parts) || len(cat.Vehicles) != len(def.Vehicles) || len(cat.Routes) != len(def.Routes) {
		t.Fatalf("sizes %d/%d/%d", len(cat.Parts), len(cat.Vehicles), len(cat.Routes))
	}
	for i := range def.Parts {
		if cat.Parts[i] != def.Parts[i] {
			t.Errorf("part %d: %+v != %+v", i, cat.Parts[i], def.Parts[i])
		}
	}
	for i := range def.Vehicles {
		if cat.Vehicles[i] != def.Vehicles[i] {
			t.Errorf("vehicle %d: %+v != %+v", i, cat.Vehicles[i], def.Vehicles[i])
		}
	}
	for i := range def.Routes {
		if cat.Routes[i] != def.Routes[i] {
			t.Errorf("route %d: %+v != %+v", i, cat.Routes[i], def.Routes[i])
		}
	}
	if cat.Risk.AutoApproveLimits[domain.PriorityHigh] != 1500 || cat.Risk.BudgetSpent != 25000 {
		t.Errorf("risk %+v", cat.Risk)
	}
}
