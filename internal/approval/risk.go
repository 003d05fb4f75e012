package approval

import (
	"fmt"
	"strings"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// Полосы стоимости и веса риск-скоринга
var costBands = []struct {
	above  float64
	points int
}{
	{50000, 30},
	{10000, 15},
	{5000, 10},
}

var priorityPoints = map[domain.Priority]int{
	domain.PriorityUrgent: 20,
	domain.PriorityHigh:   10,
}

var emergencyKeywords = []string{"emergency", "critical", "failure", "breakdown", "urgent"}

const keywordPoints = 15

// RiskLevelFor переводит очки в уровень: >=40 CRITICAL, >=25 HIGH, >=15 MEDIUM.
func RiskLevelFor(score int) domain.RiskLevel {
	switch {
	case score >= 40:
		return domain.RiskCritical
	case score >= 25:
		return domain.RiskHigh
	case score >= 15:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Analyzer оценивает риск заявки и выносит решение для пути оркестратора.
type Analyzer struct {
	policy *PolicyStore
	logger *zap.Logger
}

func NewAnalyzer(policy *PolicyStore, logger *zap.Logger) *Analyzer {
	return &Analyzer{policy: policy, logger: logger.Named("analyzer")}
}

// AssessRisk накапливает очки: полоса стоимости (берется старшая), приоритет,
// и не более одного бонуса за "аварийные" слова в описании.
func (a *Analyzer) AssessRisk(cost float64, priority, description string) domain.RiskAssessment {
	var r domain.RiskAssessment

	// 1. Стоимость
	for _, band := range costBands {
		if cost > band.above {
			r.Score += band.points
			r.Factors = append(r.Factors, fmt.Sprintf("cost %s above %s", domain.FormatMoney(cost), domain.FormatMoney(band.above)))
			r.Recommendations = append(r.Recommendations, "Obtain multiple supplier quotes")
			break
		}
	}

	// 2. Приоритет
	if p, ok := domain.ParsePriority(priority); ok {
		if pts := priorityPoints[p]; pts > 0 {
			r.Score += pts
			r.Factors = append(r.Factors, fmt.Sprintf("%s priority", p))
			r.Recommendations = append(r.Recommendations, "Verify urgency with the requesting department")
		}
	}

	// 3. Ключевые слова
	lower := strings.ToLower(description)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			r.Score += keywordPoints
			r.Factors = append(r.Factors, fmt.Sprintf("emergency keyword %q in description", kw))
			r.Recommendations = append(r.Recommendations, "Attach the incident or breakdown report")
			break
		}
	}

	r.Level = RiskLevelFor(r.Score)
	if r.Level == domain.RiskCritical {
		r.Recommendations = append(r.Recommendations, "Escalate to a director for immediate review")
	}
	if r.Factors == nil {
		r.Factors = []string{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	return r
}

type BusinessRules struct {
	Checks map[string]bool `json:"checks"`
	Passed bool            `json:"all_passed"`
	Failed []string        `json:"failed"`
}

type BudgetCheck struct {
	Limit        float64 `json:"budget_limit"`
	Spent        float64 `json:"budget_spent"`
	Remaining    float64 `json:"remaining"`
	WithinBudget bool    `json:"within_budget"`
	Utilization  float64 `json:"utilization_percent"`
}

type Review struct {
	Threshold         domain.Threshold      `json:"threshold"`
	Risk              domain.RiskAssessment `json:"risk"`
	Rules             BusinessRules         `json:"business_rules"`
	AutoApproveLimit  float64               `json:"auto_approve_limit"`
	Decision          domain.ReviewDecision `json:"decision"`
	Reasoning         []string              `json:"reasoning"`
	RequiredDocuments []string              `json:"required_documents"`
	Budget            BudgetCheck           `json:"budget"`
}

// Review - полное ревью: ступень, риск, бизнес-правила и итоговое решение.
// Авто только при (стоимость в лимите приоритета) И (риск LOW) И (правила пройдены);
// эскалация при HIGH/CRITICAL или стоимости выше директорского лимита.
func (a *Analyzer) Review(details RequestDetails, threshold domain.Threshold) Review {
	pol := a.policy.Risk()
	risk := a.AssessRisk(details.Cost, details.Priority, details.Description)

	limit := pol.DefaultAutoApprove
	priority, validPriority := domain.ParsePriority(details.Priority)
	if l, ok := pol.AutoApproveLimits[priority]; validPriority && ok {
		limit = l
	}

	// 1. Бизнес-правила
	checks := map[string]bool{
		"cost_positive":       details.Cost > 0,
		"valid_priority":      validPriority,
		"description_present": strings.TrimSpace(details.Description) != "",
		"within_board_limit":  details.Cost <= pol.BoardLimit,
	}
	rules := BusinessRules{Checks: checks, Passed: true, Failed: []string{}}
	for _, name := range []string{"cost_positive", "valid_priority", "description_present", "within_board_limit"} {
		if !checks[name] {
			rules.Passed = false
			rules.Failed = append(rules.Failed, name)
		}
	}

	// 2. Решение
	rv := Review{
		Threshold:        threshold,
		Risk:             risk,
		Rules:            rules,
		AutoApproveLimit: limit,
		Budget:           checkBudget(pol, details.Cost),
	}
	withinLimit := details.Cost <= limit
	switch {
	case withinLimit && risk.Level == domain.RiskLow && rules.Passed:
		rv.Decision = domain.DecisionAutoApproved
		rv.Reasoning = append(rv.Reasoning, fmt.Sprintf("cost within %s auto-approve limit, low risk, all business rules passed", domain.FormatMoney(limit)))
	case risk.Level == domain.RiskHigh || risk.Level == domain.RiskCritical || details.Cost > pol.DirectorLimit:
		rv.Decision = domain.DecisionEscalated
		if details.Cost > pol.DirectorLimit {
			rv.Reasoning = append(rv.Reasoning, fmt.Sprintf("cost exceeds director limit %s", domain.FormatMoney(pol.DirectorLimit)))
		}
		if risk.Level == domain.RiskHigh || risk.Level == domain.RiskCritical {
			rv.Reasoning = append(rv.Reasoning, fmt.Sprintf("risk level %s (score %d)", risk.Level, risk.Score))
		}
	default:
		rv.Decision = domain.DecisionRequiresReview
		if !withinLimit {
			rv.Reasoning = append(rv.Reasoning, fmt.Sprintf("cost above %s auto-approve limit", domain.FormatMoney(limit)))
		}
		if risk.Level != domain.RiskLow {
			rv.Reasoning = append(rv.Reasoning, fmt.Sprintf("risk level %s", risk.Level))
		}
		if !rules.Passed {
			rv.Reasoning = append(rv.Reasoning, "failed business rules: "+strings.Join(rules.Failed, ", "))
		}
	}

	// 3. Документы
	rv.RequiredDocuments = []string{}
	if details.Cost > pol.JustificationAbove {
		rv.RequiredDocuments = append(rv.RequiredDocuments, "business justification")
	}
	if details.Cost > pol.MultipleQuotesAbove {
		rv.RequiredDocuments = append(rv.RequiredDocuments, "multiple supplier quotes")
	}
	if risk.Level == domain.RiskHigh || risk.Level == domain.RiskCritical {
		rv.RequiredDocuments = append(rv.RequiredDocuments, "risk mitigation plan")
	}

	if rv.Decision == domain.DecisionEscalated {
		a.logger.Warn("approval escalated",
			zap.Float64("cost", details.Cost),
			zap.Int("risk_score", risk.Score),
			zap.String("risk_level", string(risk.Level)))
	}
	return rv
}

func checkBudget(pol domain.RiskPolicy, cost float64) BudgetCheck {
	remaining := pol.BudgetLimit - pol.BudgetSpent
	b := BudgetCheck{
		Limit:        pol.BudgetLimit,
		Spent:        pol.BudgetSpent,
		Remaining:    remaining,
		WithinBudget: cost <= remaining,
	}
	if pol.BudgetLimit > 0 {
		b.Utilization = (pol.BudgetSpent + cost) / pol.BudgetLimit * 100
	}
	return b
}
