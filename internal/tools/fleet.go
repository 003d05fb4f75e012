package tools

import (
	"context"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/fleet"
)

// FleetTools - операции парка AGV.
func FleetTools(r *fleet.Registry) []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        "get_available_vehicles",
			Description: "Available vehicles with at least the given capacity, optionally of one type.",
			InputSchema: []ParamSpec{
				optional("min_capacity", TypeInteger, "Minimum capacity, default 0"),
				optional("vehicle_type", TypeString, "heavy_duty_agv, standard_agv or light_duty_agv"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return r.GetAvailableVehicles(a.Int("min_capacity"), a.String("vehicle_type")), nil
			},
		},
		{
			Name:        "find_optimal_vehicle",
			Description: "Rank available vehicles for a transport by battery, trip cost and capacity fit.",
			InputSchema: []ParamSpec{
				required("quantity", TypeInteger, "Units to move"),
				required("from_location", TypeString, "Source location, exact route key"),
				required("to_location", TypeString, "Destination, exact route key"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return r.FindOptimalVehicle(a.Int("quantity"), a.String("from_location"), a.String("to_location"))
			},
		},
		{
			Name:        "dispatch_vehicle",
			Description: "Assign an available vehicle to a transport task.",
			InputSchema: []ParamSpec{
				required("vehicle_id", TypeString, "Vehicle id, e.g. AGV-002"),
				required("source_location", TypeString, "Pick-up location"),
				required("destination", TypeString, "Drop-off location"),
				required("quantity", TypeInteger, "Units to move"),
				optional("part_number", TypeString, "Part being moved"),
				optional("description", TypeString, "Task description"),
				optional("priority", TypeString, "LOW, MEDIUM, HIGH or URGENT"),
				optional("requester", TypeString, "Who requested the transport"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				task := domain.TaskDetails{
					SourceLocation: a.String("source_location"),
					Destination:    a.String("destination"),
					Quantity:       a.Int("quantity"),
					PartNumber:     a.String("part_number"),
					Description:    a.String("description"),
					Priority:       a.String("priority"),
				}
				return r.DispatchVehicle(a.String("vehicle_id"), task, a.StringOr("requester", defaultRequester))
			},
		},
		{
			Name:        "complete_task",
			Description: "Mark the active assignment of a vehicle as delivered and return it to the pool.",
			InputSchema: []ParamSpec{
				required("vehicle_id", TypeString, "Vehicle id"),
				optional("completion_details", TypeObject, "Free-form delivery details"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return r.CompleteTask(a.String("vehicle_id"), a.Object("completion_details"))
			},
		},
		{
			Name:        "get_fleet_status",
			Description: "Counts by status, average battery and dispatch totals.",
			Handler: func(context.Context, Args) (any, error) {
				return r.GetFleetStatus(), nil
			},
		},
		{
			Name:        "get_route_info",
			Description: "Distance and travel time for an exact (from, to) route.",
			InputSchema: []ParamSpec{
				required("from_location", TypeString, "Source location"),
				required("to_location", TypeString, "Destination"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return r.GetRouteInfo(a.String("from_location"), a.String("to_location"))
			},
		},
		{
			Name:        "get_dispatch_history",
			Description: "Dispatch log, optionally for one vehicle.",
			InputSchema: []ParamSpec{optional("vehicle_id", TypeString, "Filter by vehicle")},
			Handler: func(_ context.Context, a Args) (any, error) {
				return r.GetDispatchHistory(a.String("vehicle_id")), nil
			},
		},
		{
			Name:        "set_vehicle_maintenance",
			Description: "Take a vehicle out of the pool for maintenance or put it back.",
			InputSchema: []ParamSpec{
				required("vehicle_id", TypeString, "Vehicle id"),
				required("maintenance", TypeBoolean, "true to take out of service"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return r.SetMaintenance(a.String("vehicle_id"), a.Bool("maintenance"))
			},
		},
	}
}
