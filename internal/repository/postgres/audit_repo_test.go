package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
)

func TestBuildAuditInsert(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{ID: "a", Action: "reserve_inventory", Payload: map[string]any{"quantity": 5}, Timestamp: ts},
		{ID: "b", Action: "dispatch_vehicle", Timestamp: ts},
	}

	query, vals := buildAuditInsert(events)

	if len(vals) != 2*auditFields {
		t.Fatalf("got %d values, want %d", len(vals), 2*auditFields)
	}
	if !strings.Contains(query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12),($13,") {
		t.Errorf("placeholders: %s", query)
	}
	if !strings.HasSuffix(query, "($13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24) ON CONFLICT (id) DO NOTHING") {
		t.Errorf("tail: %s", query)
	}
	if vals[3] != "reserve_inventory" || vals[auditFields] != "b" {
		t.Errorf("values out of order: %v", vals[:auditFields+1])
	}
	if string(vals[6].([]byte)) != `{"quantity":5}` {
		t.Errorf("payload %s", vals[6])
	}
}
