package domain

import "time"

// PartRecord - позиция складского учета. Ключ - PartNumber.
// Инвариант: 0 <= ReservedQuantity <= TotalStock.
type PartRecord struct {
	PartNumber        string    `json:"part_number"`
	Description       string    `json:"description"`
	Category          string    `json:"category"`
	TotalStock        int       `json:"total_stock"`
	ReservedQuantity  int       `json:"reserved_quantity"`
	UnitCost          float64   `json:"unit_cost"`
	ReorderPoint      int       `json:"reorder_point"`
	MaximumStock      int       `json:"maximum_stock"`
	WarehouseLocation string    `json:"warehouse_location"`
	Supplier          string    `json:"supplier"`
	LeadTimeDays      int       `json:"lead_time_days"`
	LastUpdated       time.Time `json:"last_updated"`
}

// NetAvailable - реально доступный к выдаче остаток.
func (p PartRecord) NetAvailable() int {
	return p.TotalStock - p.ReservedQuantity
}

// Reservation - одна открытая бронь. Сумма Quantity по детали равна ReservedQuantity.
type Reservation struct {
	ID         string     `json:"reservation_id"`
	PartNumber string     `json:"part_number"`
	Quantity   int        `json:"quantity"`
	Requester  string     `json:"requester"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired сообщает, истек ли срок брони на момент now.
func (r Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

type ReservationAction string

const (
	ActionReserve ReservationAction = "RESERVE"
	ActionRelease ReservationAction = "RELEASE"
	ActionIssue   ReservationAction = "ISSUE"
	ActionExpire  ReservationAction = "EXPIRE"
)

// ReservationLogEntry - запись журнала движения брони (append-only).
type ReservationLogEntry struct {
	Sequence           int               `json:"sequence"`
	ReservationID      string            `json:"reservation_id,omitempty"`
	Action             ReservationAction `json:"action"`
	PartNumber         string            `json:"part_number"`
	Quantity           int               `json:"quantity"`
	Requester          string            `json:"requester"`
	Timestamp          time.Time         `json:"timestamp"`
	TotalReserved      int               `json:"total_reserved"`
	RemainingAvailable int               `json:"remaining_available"`
}
