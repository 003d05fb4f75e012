package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/approval"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/fleet"
	"github.com/xela07ax/agv-logistics-coordinator/internal/inventory"
	"go.uber.org/zap"
)

type Source string

const (
	SourceLLM       Source = "llm"
	SourceRuleBased Source = "rule_based"
)

// Topic - точка принятия решений, где подключается модель.
type Topic string

const (
	TopicAvailability Topic = "availability"
	TopicSelection    Topic = "vehicle_selection"
	TopicRisk         Topic = "risk"
)

// Advice всегда пригоден к использованию: при отказе модели текст строится правилами.
type Advice struct {
	Topic    Topic  `json:"topic"`
	Text     string `json:"text"`
	Source   Source `json:"source"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

type Timeouts struct {
	Availability time.Duration
	Selection    time.Duration
	Risk         time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Availability: 60 * time.Second,
		Selection:    60 * time.Second,
		Risk:         120 * time.Second,
	}
}

type Advisor struct {
	gen      Generator
	timeouts Timeouts
	logger   *zap.Logger
}

// NewAdvisor: gen == nil означает работу только на правилах.
func NewAdvisor(gen Generator, timeouts Timeouts, logger *zap.Logger) *Advisor {
	return &Advisor{gen: gen, timeouts: timeouts, logger: logger.Named("advisor")}
}

func (a *Advisor) Enabled() bool { return a.gen != nil }

// Probe - короткий пробный вызов на старте.
func (a *Advisor) Probe(ctx context.Context, timeout time.Duration) error {
	if a.gen == nil {
		return fmt.Errorf("llm advisor disabled")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := a.gen.Generate(ctx, "Hello")
	return err
}

func (a *Advisor) ask(ctx context.Context, topic Topic, timeout time.Duration, role, prompt string, payload any, fallback func() string) Advice {
	if a.gen == nil {
		return Advice{Topic: topic, Text: fallback(), Source: SourceRuleBased, Degraded: true, Reason: "llm disabled"}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := a.gen.Generate(ctx, buildPrompt(role, prompt, payload))
	if err != nil {
		a.logger.Warn("llm unavailable, using rule-based fallback",
			zap.String("topic", string(topic)),
			zap.Error(err))
		return Advice{
			Topic:    topic,
			Text:     fallback(),
			Source:   SourceRuleBased,
			Degraded: true,
			Reason:   domain.NewError(domain.KindExternalService, "advisor."+string(topic), "", "llm unavailable: %v", err).Error(),
		}
	}
	return Advice{Topic: topic, Text: text, Source: SourceLLM}
}

func buildPrompt(role, prompt string, payload any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI %s for a manufacturing facility.\n\n%s", role, prompt)
	if payload != nil {
		if raw, err := json.MarshalIndent(payload, "", "  "); err == nil {
			fmt.Fprintf(&b, "\n\nContext: %s", raw)
		}
	}
	b.WriteString("\n\nProvide clear recommendations with reasoning. Be specific and actionable.")
	return b.String()
}

func (a *Advisor) AnalyzeAvailability(ctx context.Context, av inventory.Availability) Advice {
	prompt := fmt.Sprintf("Analyze the availability of %d x %s and recommend how to proceed.", av.RequestedQuantity, av.PartNumber)
	return a.ask(ctx, TopicAvailability, a.timeouts.Availability, "Inventory Manager", prompt, av, func() string {
		return availabilityRule(av)
	})
}

func (a *Advisor) ExplainSelection(ctx context.Context, sel fleet.Selection) Advice {
	prompt := fmt.Sprintf("Explain the choice of %s for moving %d units from %s to %s.",
		sel.Selected.Vehicle.ID, sel.Quantity, sel.Route.From, sel.Route.To)
	return a.ask(ctx, TopicSelection, a.timeouts.Selection, "Fleet Manager", prompt, sel, func() string {
		return selectionRule(sel)
	})
}

func (a *Advisor) AnalyzeRisk(ctx context.Context, d approval.RequestDetails, rv approval.Review) Advice {
	prompt := fmt.Sprintf("Assess the approval risk of a %s request: %s.", domain.FormatMoney(d.Cost), d.Description)
	return a.ask(ctx, TopicRisk, a.timeouts.Risk, "Approval Manager", prompt, rv, func() string {
		return riskRule(rv)
	})
}

func availabilityRule(av inventory.Availability) string {
	if !av.CanFulfill {
		return fmt.Sprintf("Cannot fulfill %d x %s: %d available, shortage %d. Expedite a supplier order (lead time %d days) or use an alternative part.",
			av.RequestedQuantity, av.PartNumber, av.NetAvailable, av.Shortage, av.LeadTimeDays)
	}
	left := av.NetAvailable - av.RequestedQuantity
	msg := fmt.Sprintf("%d x %s available at %s (total %s). %d units remain after this request.",
		av.RequestedQuantity, av.PartNumber, av.WarehouseLocation, domain.FormatMoney(av.TotalCost), left)
	if left == 0 {
		msg += " Stock will be exhausted; schedule a replenishment order."
	}
	return msg
}

func selectionRule(sel fleet.Selection) string {
	c := sel.Selected
	msg := fmt.Sprintf("%s selected: efficiency score %.3f, battery %.0f%%, capacity utilization %.1f%%, trip %.1f min, cost %s.",
		c.Vehicle.ID, c.EfficiencyScore, c.Vehicle.BatteryLevel, c.CapacityUtilization, c.EstimatedTripTime, domain.FormatMoney(c.EstimatedCost))
	if len(sel.Alternatives) > 0 {
		ids := make([]string, 0, len(sel.Alternatives))
		for _, alt := range sel.Alternatives {
			ids = append(ids, alt.Vehicle.ID)
		}
		msg += " Alternatives: " + strings.Join(ids, ", ") + "."
	}
	return msg
}

func riskRule(rv approval.Review) string {
	msg := fmt.Sprintf("Risk %s (score %d), decision %s.", rv.Risk.Level, rv.Risk.Score, rv.Decision)
	if len(rv.Reasoning) > 0 {
		msg += " " + strings.Join(rv.Reasoning, "; ") + "."
	}
	if len(rv.Risk.Recommendations) > 0 {
		msg += " Recommended: " + strings.Join(rv.Risk.Recommendations, "; ") + "."
	}
	return msg
}
