package tools

import (
	"context"

	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
)

// OrchestratorTools - сквозной процесс выдачи детали на линию.
func OrchestratorTools(b engine.FulfillmentBackend) []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name: "fulfill_request",
			Description: "Check stock, reserve, gate on approval, select and dispatch a vehicle, confirm delivery. " +
				"Returns APPROVAL_GATED when a manager or director must decide first.",
			InputSchema: []ParamSpec{
				required("part_number", TypeString, "Part number"),
				required("quantity_requested", TypeInteger, "Units needed"),
				required("destination", TypeString, "Production line or plant, exact route key"),
				optional("priority", TypeString, "LOW, MEDIUM, HIGH or URGENT"),
				optional("requester", TypeString, "Requesting person or agent"),
				optional("description", TypeString, "Free-form purpose"),
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return b.Fulfill(ctx, engine.FulfillmentRequest{
					PartNumber:  a.String("part_number"),
					Quantity:    a.Int("quantity_requested"),
					Destination: a.String("destination"),
					Priority:    a.String("priority"),
					Requester:   a.StringOr("requester", ActorFromContext(ctx)),
					Description: a.String("description"),
				})
			},
		},
		{
			Name:        "resume_fulfillment",
			Description: "Continue a gated fulfillment after its approval request was decided.",
			InputSchema: []ParamSpec{required("approval_request_id", TypeString, "Approval request id")},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return b.Resume(ctx, a.String("approval_request_id"))
			},
		},
	}
}
