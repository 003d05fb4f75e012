package engine

import (
	"context"

	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
)

// AuditObserver пишет каждый переход автомата в журнал аудита.
func AuditObserver(a audit.Auditor) Observer {
	return ObserverFunc(func(_ context.Context, ev Event) {
		status := "SUCCESS"
		if ev.State == StateErrored {
			status = "FAILED"
		}
		a.Log(audit.Event{
			ID:        ev.ID,
			TraceID:   ev.TraceID,
			Actor:     requesterTag(ev.FulfillmentID),
			Action:    "fulfillment." + string(ev.State),
			Entity:    ev.FulfillmentID,
			Channel:   audit.ChannelWorkflow,
			Payload:   ev.Data,
			Status:    status,
			Response:  ev.Message,
			Timestamp: ev.Timestamp,
		})
	})
}
