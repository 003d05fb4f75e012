package domain

// Priority - срочность заявки на выполнение.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority нормализует приоритет. Пустая строка трактуется как MEDIUM.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(upper(s)) {
	case "", PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityUrgent:
		return PriorityUrgent, true
	}
	return "", false
}

// ThresholdCategory - ступень политики согласования. Порядок в политике важен:
// побеждает первая категория с MaxCost >= cost.
type ThresholdCategory struct {
	Name             string  `json:"category" mapstructure:"name"`
	MaxCost          float64 `json:"max_cost" mapstructure:"max_cost"`
	AutoApprove      bool    `json:"auto_approve" mapstructure:"auto_approve"`
	RequiresManager  bool    `json:"requires_manager" mapstructure:"requires_manager"`
	RequiresDirector bool    `json:"requires_director" mapstructure:"requires_director"`
}

// ApprovalThresholdPolicy - упорядоченный список ступеней.
type ApprovalThresholdPolicy []ThresholdCategory

// RiskPolicy - параметры риск-ревью (ветка оркестратора).
type RiskPolicy struct {
	// Лимит автоодобрения по приоритету. Если приоритета нет в карте - DefaultAutoApprove.
	AutoApproveLimits  map[Priority]float64 `json:"auto_approve_limits"`
	DefaultAutoApprove float64              `json:"default_auto_approve"`

	// Верхняя ступень: выше нее всегда эскалация
	DirectorLimit float64 `json:"director_limit"`
	// Абсолютный потолок (board), выше него бизнес-правило не проходит
	BoardLimit float64 `json:"board_limit"`

	JustificationAbove  float64 `json:"justification_above"`
	MultipleQuotesAbove float64 `json:"multiple_quotes_above"`

	BudgetLimit float64 `json:"budget_limit"`
	BudgetSpent float64 `json:"budget_spent"`
}
