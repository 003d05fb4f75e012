package inventory

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
)

type LowStockItem struct {
	PartNumber     string `json:"part_number"`
	Description    string `json:"description"`
	NetAvailable   int    `json:"net_available"`
	ReorderPoint   int    `json:"reorder_point"`
	MaximumStock   int    `json:"maximum_stock"`
	SuggestedOrder int    `json:"suggested_order"`
	Supplier       string `json:"supplier"`
	LeadTimeDays   int    `json:"lead_time_days"`
}

// snapshot - копии всех записей в порядке каталога.
func (l *Ledger) snapshot() []domain.PartRecord {
	out := make([]domain.PartRecord, 0, len(l.order))
	for _, pn := range l.order {
		e := l.parts[pn]
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	return out
}

// GetLowStockItems - детали, у которых net_available <= reorder_point.
func (l *Ledger) GetLowStockItems() []LowStockItem {
	items := []LowStockItem{}
	for _, p := range l.snapshot() {
		net := p.NetAvailable()
		if net > p.ReorderPoint {
			continue
		}
		items = append(items, LowStockItem{
			PartNumber:     p.PartNumber,
			Description:    p.Description,
			NetAvailable:   net,
			ReorderPoint:   p.ReorderPoint,
			MaximumStock:   p.MaximumStock,
			SuggestedOrder: max(0, p.MaximumStock-net),
			Supplier:       p.Supplier,
			LeadTimeDays:   p.LeadTimeDays,
		})
	}
	return items
}

var searchFields = map[string]func(domain.PartRecord) string{
	"description": func(p domain.PartRecord) string { return p.Description },
	"category":    func(p domain.PartRecord) string { return p.Category },
	"supplier":    func(p domain.PartRecord) string { return p.Supplier },
}

// SearchParts ищет подстроку без учета регистра в одном из полей.
func (l *Ledger) SearchParts(term, field string) ([]domain.PartRecord, error) {
	if field == "" {
		field = "description"
	}
	get, ok := searchFields[strings.ToLower(field)]
	if !ok {
		return nil, domain.NewError(domain.KindInvalidInput, "inventory.search", "",
			"invalid search field %q: use description, category or supplier", field).With("field", "field")
	}

	needle := strings.ToLower(strings.TrimSpace(term))
	out := []domain.PartRecord{}
	for _, p := range l.snapshot() {
		if strings.Contains(strings.ToLower(get(p)), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

type Summary struct {
	TotalParts                   int            `json:"total_parts"`
	TotalInventoryValue          float64        `json:"total_inventory_value"`
	TotalReservedValue           float64        `json:"total_reserved_value"`
	LowStockCount                int            `json:"low_stock_count"`
	Categories                   map[string]int `json:"categories"`
	Warehouses                   map[string]int `json:"warehouses"`
	TotalReservations            int            `json:"total_reservations"`
	TotalOutstandingReservations int            `json:"total_outstanding_reservations"`
}

func (l *Ledger) GetInventorySummary() Summary {
	s := Summary{
		Categories: make(map[string]int),
		Warehouses: make(map[string]int),
	}
	value, reserved := decimal.Zero, decimal.Zero

	for _, pn := range l.order {
		e := l.parts[pn]
		e.mu.Lock()
		p := e.rec
		s.TotalOutstandingReservations += len(e.reservations)
		e.mu.Unlock()

		cost := decimal.NewFromFloat(p.UnitCost)
		value = value.Add(cost.Mul(decimal.NewFromInt(int64(p.TotalStock))))
		reserved = reserved.Add(cost.Mul(decimal.NewFromInt(int64(p.ReservedQuantity))))

		s.TotalParts++
		s.Categories[p.Category]++
		s.Warehouses[p.WarehouseLocation]++
		if p.NetAvailable() <= p.ReorderPoint {
			s.LowStockCount++
		}
	}

	s.TotalInventoryValue = value.InexactFloat64()
	s.TotalReservedValue = reserved.InexactFloat64()

	l.logMu.Lock()
	s.TotalReservations = len(l.log)
	l.logMu.Unlock()
	return s
}

// GetReservationHistory - журнал движений. Пустой номер - весь журнал.
func (l *Ledger) GetReservationHistory(partNumber string) []domain.ReservationLogEntry {
	l.logMu.Lock()
	defer l.logMu.Unlock()

	out := make([]domain.ReservationLogEntry, 0, len(l.log))
	for _, entry := range l.log {
		if partNumber == "" || entry.PartNumber == partNumber {
			out = append(out, entry)
		}
	}
	return out
}

// Reservations - открытые брони детали вместе со сроками.
func (l *Ledger) Reservations(partNumber string) ([]domain.Reservation, error) {
	e, err := l.entry("inventory.reservations", partNumber)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Reservation{}, e.reservations...), nil
}

// HeldBy - сколько единиц детали сейчас забронировано за requester.
func (l *Ledger) HeldBy(partNumber, requester string) (int, error) {
	e, err := l.entry("inventory.held_by", partNumber)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heldBy(requester), nil
}

type AlternativePart struct {
	PartNumber        string  `json:"part_number"`
	Description       string  `json:"description"`
	NetAvailable      int     `json:"net_available"`
	UnitCost          float64 `json:"unit_cost"`
	WarehouseLocation string  `json:"warehouse_location"`
	Reason            string  `json:"reason"`
}

const maxAlternatives = 3

// GetAlternativeParts подбирает замену: та же категория или то же "семейство"
// по первому токену номера (HYDRAULIC-..., MOTOR-...). Только с ненулевым остатком.
func (l *Ledger) GetAlternativeParts(partNumber string) []AlternativePart {
	category := ""
	if e, ok := l.parts[partNumber]; ok {
		e.mu.Lock()
		category = e.rec.Category
		e.mu.Unlock()
	}
	family := familyToken(partNumber)

	out := []AlternativePart{}
	for _, p := range l.snapshot() {
		if len(out) == maxAlternatives {
			break
		}
		if p.PartNumber == partNumber || p.NetAvailable() <= 0 {
			continue
		}

		var reason string
		switch {
		case category != "" && p.Category == category:
			reason = "same category: " + category
		case family != "" && familyToken(p.PartNumber) == family:
			reason = "same part family: " + family
		case family != "" && strings.Contains(strings.ToUpper(p.Description), family):
			reason = "description matches " + family
		default:
			continue
		}

		out = append(out, AlternativePart{
			PartNumber:        p.PartNumber,
			Description:       p.Description,
			NetAvailable:      p.NetAvailable(),
			UnitCost:          p.UnitCost,
			WarehouseLocation: p.WarehouseLocation,
			Reason:            reason,
		})
	}
	return out
}

// familyToken: "HYDRAULIC-PUMP-HP450" -> "HYDRAULIC". Общий префикс PART не считается семейством.
func familyToken(partNumber string) string {
	head, _, _ := strings.Cut(strings.ToUpper(strings.TrimSpace(partNumber)), "-")
	if head == "PART" {
		return ""
	}
	return head
}
