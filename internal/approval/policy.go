package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// PolicyProvider - источник политики для явной перезагрузки (файл каталога, БД и т.п.).
type PolicyProvider interface {
	ApprovalPolicy(ctx context.Context) (domain.ApprovalThresholdPolicy, domain.RiskPolicy, error)
}

// PolicyStore - in-memory кэш политики согласования. На горячем пути только читается;
// меняется исключительно через Refresh.
type PolicyStore struct {
	mu         sync.RWMutex
	thresholds domain.ApprovalThresholdPolicy
	risk       domain.RiskPolicy
	logger     *zap.Logger
}

func NewPolicyStore(thresholds domain.ApprovalThresholdPolicy, risk domain.RiskPolicy, logger *zap.Logger) *PolicyStore {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds()
	}
	return &PolicyStore{
		thresholds: append(domain.ApprovalThresholdPolicy(nil), thresholds...),
		risk:       withRiskDefaults(risk),
		logger:     logger.Named("approval-policy"),
	}
}

func (s *PolicyStore) Thresholds() domain.ApprovalThresholdPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(domain.ApprovalThresholdPolicy(nil), s.thresholds...)
}

func (s *PolicyStore) Risk() domain.RiskPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.risk
}

// Refresh атомарно подменяет политику. Пустой список ступеней отвергается,
// чтобы битый источник не обнулил согласование.
func (s *PolicyStore) Refresh(ctx context.Context, p PolicyProvider) error {
	thresholds, risk, err := p.ApprovalPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load approval policy: %w", err)
	}
	if len(thresholds) == 0 {
		return fmt.Errorf("approval policy has no threshold categories")
	}

	s.mu.Lock()
	s.thresholds = append(domain.ApprovalThresholdPolicy(nil), thresholds...)
	s.risk = withRiskDefaults(risk)
	s.mu.Unlock()

	s.logger.Info("approval policy refreshed", zap.Int("categories", len(thresholds)))
	return nil
}

// DefaultThresholds - встроенная политика: до $1000 авто, до $5000 менеджер, выше директор.
func DefaultThresholds() domain.ApprovalThresholdPolicy {
	return domain.ApprovalThresholdPolicy{
		{Name: "low_value", MaxCost: 1000, AutoApprove: true},
		{Name: "medium_value", MaxCost: 5000, RequiresManager: true},
		{Name: "high_value", MaxCost: 999999, RequiresDirector: true},
	}
}

func DefaultRiskPolicy() domain.RiskPolicy {
	return domain.RiskPolicy{
		AutoApproveLimits: map[domain.Priority]float64{
			domain.PriorityUrgent: 2000,
			domain.PriorityHigh:   1500,
			domain.PriorityMedium: 1000,
			domain.PriorityLow:    500,
		},
		DefaultAutoApprove:  1000,
		DirectorLimit:       25000,
		BoardLimit:          100000,
		JustificationAbove:  2000,
		MultipleQuotesAbove: 10000,
		BudgetLimit:         100000,
		BudgetSpent:         25000,
	}
}

// withRiskDefaults дозаполняет нулевые поля встроенными значениями.
func withRiskDefaults(p domain.RiskPolicy) domain.RiskPolicy {
	d := DefaultRiskPolicy()
	if len(p.AutoApproveLimits) == 0 {
		p.AutoApproveLimits = d.AutoApproveLimits
	}
	if p.DefaultAutoApprove == 0 {
		p.DefaultAutoApprove = d.DefaultAutoApprove
	}
	if p.DirectorLimit == 0 {
		p.DirectorLimit = d.DirectorLimit
	}
	if p.BoardLimit == 0 {
		p.BoardLimit = d.BoardLimit
	}
	if p.JustificationAbove == 0 {
		p.JustificationAbove = d.JustificationAbove
	}
	if p.MultipleQuotesAbove == 0 {
		p.MultipleQuotesAbove = d.MultipleQuotesAbove
	}
	if p.BudgetLimit == 0 {
		p.BudgetLimit = d.BudgetLimit
		p.BudgetSpent = d.BudgetSpent
	}
	return p
}
