package approval

import (
	"fmt"
	"strings"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
)

const (
	// Выше этой суммы нужна дополнительная документация
	HighValueWarning     = 10000
	minDescriptionLength = 10
)

var validRequestTypes = []string{"inventory_request", "fleet_dispatch", "maintenance", "procurement"}

type Compliance struct {
	Compliant       bool     `json:"compliant"`
	Violations      []string `json:"violations"`
	Warnings        []string `json:"warnings"`
	ChecksPerformed []string `json:"checks_performed"`
}

// CheckCompliance прогоняет заявку через фиксированный набор правил.
func (a *Authority) CheckCompliance(details RequestDetails) Compliance {
	c := Compliance{
		Violations: []string{},
		Warnings:   []string{},
	}

	// 1. Стоимость
	c.ChecksPerformed = append(c.ChecksPerformed, "cost_threshold_check")
	switch {
	case details.Cost < 0:
		c.Violations = append(c.Violations, "cost cannot be negative")
	case details.Cost > HighValueWarning:
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("high-value request above %s requires additional documentation", domain.FormatMoney(HighValueWarning)))
	}

	// 2. Тип заявки
	c.ChecksPerformed = append(c.ChecksPerformed, "request_type_validation")
	valid := false
	for _, t := range validRequestTypes {
		if details.RequestType == t {
			valid = true
			break
		}
	}
	if !valid {
		c.Violations = append(c.Violations,
			fmt.Sprintf("invalid request type %q: must be one of %s", details.RequestType, strings.Join(validRequestTypes, ", ")))
	}

	// 3. Описание
	c.ChecksPerformed = append(c.ChecksPerformed, "description_validation")
	if len(strings.TrimSpace(details.Description)) < minDescriptionLength {
		c.Violations = append(c.Violations,
			fmt.Sprintf("description must be at least %d characters", minDescriptionLength))
	}

	c.Compliant = len(c.Violations) == 0
	return c
}

// CheckBudget - сверка с бюджетом из риск-политики.
func (a *Authority) CheckBudget(cost float64) BudgetCheck {
	return checkBudget(a.policy.Risk(), cost)
}

type Statistics struct {
	TotalRequests         int            `json:"total_requests"`
	Pending               int            `json:"pending"`
	Approved              int            `json:"approved"`
	Rejected              int            `json:"rejected"`
	AutoApproved          int            `json:"auto_approved"`
	ApprovalRate          float64        `json:"approval_rate"` // проценты
	ThresholdDistribution map[string]int `json:"threshold_distribution"`
}

func (a *Authority) GetApprovalStatistics() Statistics {
	s := Statistics{ThresholdDistribution: make(map[string]int)}
	for _, c := range a.policy.Thresholds() {
		s.ThresholdDistribution[c.Name] = 0
	}
	for _, r := range a.all() {
		s.TotalRequests++
		s.ThresholdDistribution[r.Threshold.Name]++
		switch r.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusApproved:
			s.Approved++
		case domain.StatusRejected:
			s.Rejected++
		}
		if r.AutoApproved {
			s.AutoApproved++
		}
	}
	if s.TotalRequests > 0 {
		s.ApprovalRate = float64(s.Approved) / float64(s.TotalRequests) * 100
	}
	return s
}
