package tools

import (
	"context"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/inventory"
)

const defaultRequester = "agent"

// InventoryTools - операции складского учета для планировщика.
func InventoryTools(l *inventory.Ledger) []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        "check_inventory",
			Description: "Check whether a part has enough net available stock for the requested quantity.",
			InputSchema: []ParamSpec{
				required("part_number", TypeString, "Part number, e.g. HYDRAULIC-PUMP-HP450"),
				required("quantity", TypeInteger, "Requested quantity"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return l.CheckAvailability(a.String("part_number"), a.Int("quantity"))
			},
		},
		{
			Name:        "get_part_info",
			Description: "Full catalog record of a part.",
			InputSchema: []ParamSpec{required("part_number", TypeString, "Part number")},
			Handler: func(_ context.Context, a Args) (any, error) {
				return l.GetPartInfo(a.String("part_number"))
			},
		},
		{
			Name:        "reserve_inventory",
			Description: "Reserve stock for a requester. Fails without side effects when stock is short.",
			InputSchema: []ParamSpec{
				required("part_number", TypeString, "Part number"),
				required("quantity", TypeInteger, "Quantity to reserve"),
				optional("requester", TypeString, "Who holds the reservation"),
				optional("duration_hours", TypeInteger, "Reservation lifetime in hours, default from config"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				pn, qty, who := a.String("part_number"), a.Int("quantity"), a.StringOr("requester", defaultRequester)
				if !a.Has("duration_hours") {
					return l.ReserveQuantity(pn, qty, who)
				}
				hours := a.Int("duration_hours")
				if hours <= 0 {
					return nil, domain.NewError(domain.KindInvalidInput, "reserve_inventory", pn,
						"duration_hours must be positive, got %d", hours).With("field", "duration_hours")
				}
				return l.ReserveFor(pn, qty, who, time.Duration(hours)*time.Hour)
			},
		},
		{
			Name:        "release_inventory",
			Description: "Release previously reserved stock back to the available pool.",
			InputSchema: []ParamSpec{
				required("part_number", TypeString, "Part number"),
				required("quantity", TypeInteger, "Quantity to release"),
				optional("requester", TypeString, "Reservation holder"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return l.ReleaseReservation(a.String("part_number"), a.Int("quantity"), a.StringOr("requester", defaultRequester))
			},
		},
		{
			Name:        "get_low_stock_items",
			Description: "Parts whose net available stock is at or below the reorder point.",
			Handler: func(context.Context, Args) (any, error) {
				return l.GetLowStockItems(), nil
			},
		},
		{
			Name:        "search_parts",
			Description: "Case-insensitive substring search over description, category or supplier.",
			InputSchema: []ParamSpec{
				required("search_term", TypeString, "Text to look for"),
				optional("search_field", TypeString, "description (default), category or supplier"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return l.SearchParts(a.String("search_term"), a.String("search_field"))
			},
		},
		{
			Name:        "get_inventory_summary",
			Description: "Totals across the catalog: stock, reservations, value, low-stock count.",
			Handler: func(context.Context, Args) (any, error) {
				return l.GetInventorySummary(), nil
			},
		},
		{
			Name:        "get_alternative_parts",
			Description: "Substitutes from the same category or part family with stock on hand.",
			InputSchema: []ParamSpec{required("part_number", TypeString, "Part number that is short")},
			Handler: func(_ context.Context, a Args) (any, error) {
				return l.GetAlternativeParts(a.String("part_number")), nil
			},
		},
		{
			Name:        "get_reservation_history",
			Description: "Reservation log, optionally for one part.",
			InputSchema: []ParamSpec{optional("part_number", TypeString, "Filter by part number")},
			Handler: func(_ context.Context, a Args) (any, error) {
				return l.GetReservationHistory(a.String("part_number")), nil
			},
		},
	}
}
