package approval

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

// RequestDetails - вход для создания заявки и проверок.
type RequestDetails struct {
	Cost        float64           `json:"cost"`
	Description string            `json:"description"`
	RequestType string            `json:"request_type"`
	Priority    string            `json:"priority,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type requestEntry struct {
	mu  sync.Mutex
	req domain.ApprovalRequest
}

// Authority - жизненный цикл заявок на согласование.
// Переход PENDING -> APPROVED|REJECTED выполняется ровно один раз под замком заявки.
type Authority struct {
	policy   *PolicyStore
	analyzer *Analyzer

	mu       sync.RWMutex
	requests map[string]*requestEntry
	order    []string

	histMu  sync.Mutex
	history []domain.ApprovalRequest

	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Authority)

func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

func NewAuthority(policy *PolicyStore, logger *zap.Logger, opts ...Option) *Authority {
	a := &Authority{
		policy:   policy,
		analyzer: NewAnalyzer(policy, logger),
		requests: make(map[string]*requestEntry),
		now:      time.Now,
		logger:   logger.Named("approval"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authority) Policy() *PolicyStore { return a.policy }

// GetApprovalThreshold - первая ступень с MaxCost >= cost. Если стоимость выше всех
// потолков, возвращается синтетическая high_value с пометкой, а не ошибка.
func (a *Authority) GetApprovalThreshold(cost float64) domain.Threshold {
	for _, c := range a.policy.Thresholds() {
		if c.MaxCost >= cost {
			return domain.Threshold{ThresholdCategory: c}
		}
	}
	return domain.Threshold{
		ThresholdCategory: domain.ThresholdCategory{
			Name:             "high_value",
			MaxCost:          cost,
			RequiresManager:  true,
			RequiresDirector: true,
		},
		OverThreshold: true,
		Error:         fmt.Sprintf("cost %s exceeds all defined thresholds", domain.FormatMoney(cost)),
	}
}

func validateDetails(op string, d RequestDetails) error {
	switch {
	case math.IsNaN(d.Cost) || math.IsInf(d.Cost, 0):
		return domain.NewError(domain.KindInvalidInput, op, "", "cost must be a finite number").With("field", "cost")
	case d.Cost < 0:
		return domain.NewError(domain.KindInvalidInput, op, "", "cost must not be negative, got %v", d.Cost).With("field", "cost")
	case strings.TrimSpace(d.Description) == "":
		return domain.NewError(domain.KindMissingField, op, "", "description is required").With("field", "description")
	case strings.TrimSpace(d.RequestType) == "":
		return domain.NewError(domain.KindMissingField, op, "", "request_type is required").With("field", "request_type")
	}
	return nil
}

// CreateApprovalRequest создает заявку по ступени стоимости. Если ступень
// разрешает автоодобрение, заявка сразу APPROVED от SYSTEM_AUTO.
func (a *Authority) CreateApprovalRequest(details RequestDetails, requester string) (domain.ApprovalRequest, error) {
	const op = "approval.create"
	if err := validateDetails(op, details); err != nil {
		return domain.ApprovalRequest{}, err
	}
	th := a.GetApprovalThreshold(details.Cost)
	return a.create(details, requester, th, th.AutoApprove && !th.OverThreshold, nil, ""), nil
}

// CreateReviewedRequest - путь оркестратора: решение принимает риск-ревью.
func (a *Authority) CreateReviewedRequest(details RequestDetails, requester string) (domain.ApprovalRequest, Review, error) {
	const op = "approval.create_reviewed"
	if err := validateDetails(op, details); err != nil {
		return domain.ApprovalRequest{}, Review{}, err
	}

	th := a.GetApprovalThreshold(details.Cost)
	rv := a.analyzer.Review(details, th)
	auto := rv.Decision == domain.DecisionAutoApproved

	switch {
	case rv.Decision == domain.DecisionEscalated:
		th.RequiresDirector = true
		th.RequiresManager = true
	case !auto && !th.RequiresManager && !th.RequiresDirector:
		// Ступень разрешала авто, но ревью не пропустило - нужен хотя бы менеджер
		th.RequiresManager = true
	}

	risk := rv.Risk
	req := a.create(details, requester, th, auto, &risk, rv.Decision)
	return req, rv, nil
}

func (a *Authority) create(details RequestDetails, requester string, th domain.Threshold, auto bool, risk *domain.RiskAssessment, decision domain.ReviewDecision) domain.ApprovalRequest {
	now := a.now()
	priority, _ := domain.ParsePriority(details.Priority)

	req := domain.ApprovalRequest{
		Cost:        details.Cost,
		Description: details.Description,
		RequestType: details.RequestType,
		Priority:    priority,
		Requester:   requester,
		Threshold:   th,
		Status:      domain.StatusPending,
		Comments:    []domain.Comment{},
		Risk:        risk,
		Decision:    decision,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(details.Metadata) > 0 {
		req.Metadata = make(map[string]string, len(details.Metadata))
		for k, v := range details.Metadata {
			req.Metadata[k] = v
		}
	}
	if auto {
		req.Status = domain.StatusApproved
		req.Approver = domain.SystemApprover
		req.ApprovedAt = &now
		req.AutoApproved = true
		req.Comments = append(req.Comments, domain.Comment{
			Timestamp: now,
			Author:    "SYSTEM",
			Text:      fmt.Sprintf("Auto-approved: Cost %s is within %s threshold", domain.FormatMoney(details.Cost), th.Name),
		})
	}

	a.mu.Lock()
	id := a.newIDLocked()
	req.ID = id
	a.requests[id] = &requestEntry{req: req}
	a.order = append(a.order, id)
	a.mu.Unlock()

	if auto {
		a.record(req)
	}

	a.logger.Info("approval request created",
		zap.String("request_id", id),
		zap.Float64("cost", details.Cost),
		zap.String("category", th.Name),
		zap.String("status", string(req.Status)))
	return req.Clone()
}

// newIDLocked - короткий случайный токен. Вызывать под a.mu.
func (a *Authority) newIDLocked() string {
	for {
		id := uuid.New().String()[:8]
		if _, taken := a.requests[id]; !taken {
			return id
		}
	}
}

func (a *Authority) entry(op, id string) (*requestEntry, error) {
	a.mu.RLock()
	e, ok := a.requests[id]
	a.mu.RUnlock()
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, op, id, "approval request %s not found", id)
	}
	return e, nil
}

// hasAuthority - упрощенная проверка полномочий по подстроке в имени апрувера.
func hasAuthority(th domain.Threshold, approver string) bool {
	who := strings.ToLower(approver)
	switch {
	case th.RequiresDirector:
		return strings.Contains(who, "director")
	case th.RequiresManager:
		return strings.Contains(who, "manager") || strings.Contains(who, "director")
	}
	return true
}

// ProcessApproval фиксирует решение. Повторный вызов на разрешенной заявке - NotPending,
// состояние не меняется.
func (a *Authority) ProcessApproval(id, decision, approver, comment string) (domain.ApprovalRequest, error) {
	const op = "approval.process"
	e, err := a.entry(op, id)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. Только из PENDING
	next, ok := domain.ParseDecision(decision)
	if err := e.req.CanTransitionTo(domain.StatusApproved); err != nil {
		return domain.ApprovalRequest{}, domain.NewError(domain.KindNotPending, op, id,
			"approval request %s is already %s", id, e.req.Status).
			With("status", string(e.req.Status))
	}

	// 2. Валидация решения и апрувера
	if !ok {
		return domain.ApprovalRequest{}, domain.NewError(domain.KindInvalidInput, op, id,
			"decision must be APPROVED or REJECTED, got %q", decision).With("field", "decision")
	}
	if strings.TrimSpace(approver) == "" {
		return domain.ApprovalRequest{}, domain.NewError(domain.KindMissingField, op, id, "approver is required").
			With("field", "approver")
	}

	// 3. Полномочия
	if !hasAuthority(e.req.Threshold, approver) {
		required := "manager"
		if e.req.Threshold.RequiresDirector {
			required = "director"
		}
		return domain.ApprovalRequest{}, domain.NewError(domain.KindAuthorityMismatch, op, id,
			"approver %q lacks %s authority for %s request", approver, required, e.req.Threshold.Name).
			With("required_authority", required)
	}

	// 4. Переход
	now := a.now()
	if comment == "" {
		comment = fmt.Sprintf("Request %s", strings.ToLower(string(next)))
	}
	e.req.Status = next
	e.req.Approver = approver
	e.req.ApprovedAt = &now
	e.req.UpdatedAt = now
	e.req.Comments = append(e.req.Comments, domain.Comment{Timestamp: now, Author: approver, Text: comment})

	a.record(e.req)
	a.logger.Info("approval processed",
		zap.String("request_id", id),
		zap.String("decision", string(next)),
		zap.String("approver", approver))
	return e.req.Clone(), nil
}

// record кладет снимок разрешенной заявки в историю.
func (a *Authority) record(req domain.ApprovalRequest) {
	a.histMu.Lock()
	a.history = append(a.history, req.Clone())
	a.histMu.Unlock()
}

// ClaimResolved выдает разрешенную заявку оркестратору ровно один раз.
func (a *Authority) ClaimResolved(id string) (domain.ApprovalRequest, error) {
	const op = "approval.claim"
	e, err := a.entry(op, id)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.req.Status == domain.StatusPending:
		return e.req.Clone(), domain.NewError(domain.KindApprovalPending, op, id, "approval request %s is still pending", id)
	case e.req.Claimed:
		return e.req.Clone(), domain.NewError(domain.KindAlreadyClaimed, op, id, "approval request %s was already used", id)
	}
	e.req.Claimed = true
	e.req.UpdatedAt = a.now()
	return e.req.Clone(), nil
}

func (a *Authority) GetApprovalRequest(id string) (domain.ApprovalRequest, error) {
	e, err := a.entry("approval.get", id)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.req.Clone(), nil
}

// all - снимки всех заявок в порядке создания.
func (a *Authority) all() []domain.ApprovalRequest {
	a.mu.RLock()
	entries := make([]*requestEntry, 0, len(a.order))
	for _, id := range a.order {
		entries = append(entries, a.requests[id])
	}
	a.mu.RUnlock()

	out := make([]domain.ApprovalRequest, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.req.Clone())
		e.mu.Unlock()
	}
	return out
}

// GetPendingApprovals: "" - все, "manager" - только менеджерские, "director" - директорские.
func (a *Authority) GetPendingApprovals(authority string) ([]domain.ApprovalRequest, error) {
	filter := strings.ToLower(strings.TrimSpace(authority))
	if filter != "" && filter != "all" && filter != "manager" && filter != "director" {
		return nil, domain.NewError(domain.KindInvalidInput, "approval.pending", "",
			"unknown authority filter %q", authority).With("field", "authority")
	}

	out := []domain.ApprovalRequest{}
	for _, r := range a.all() {
		if r.Status != domain.StatusPending {
			continue
		}
		switch filter {
		case "manager":
			if !r.Threshold.RequiresManager || r.Threshold.RequiresDirector {
				continue
			}
		case "director":
			if !r.Threshold.RequiresDirector {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// GetApprovalHistory - неизменяемые снимки разрешенных заявок.
func (a *Authority) GetApprovalHistory() []domain.ApprovalRequest {
	a.histMu.Lock()
	defer a.histMu.Unlock()
	out := make([]domain.ApprovalRequest, len(a.history))
	for i, r := range a.history {
		out[i] = r.Clone()
	}
	return out
}

type SearchCriteria struct {
	Status    string   `json:"status,omitempty"`
	Requester string   `json:"requester,omitempty"`
	MinCost   *float64 `json:"min_cost,omitempty"`
	MaxCost   *float64 `json:"max_cost,omitempty"`
	Category  string   `json:"category,omitempty"`
}

func (a *Authority) SearchApprovals(c SearchCriteria) []domain.ApprovalRequest {
	out := []domain.ApprovalRequest{}
	for _, r := range a.all() {
		if c.Status != "" && !strings.EqualFold(string(r.Status), c.Status) {
			continue
		}
		if c.Requester != "" && !strings.EqualFold(r.Requester, c.Requester) {
			continue
		}
		if c.MinCost != nil && r.Cost < *c.MinCost {
			continue
		}
		if c.MaxCost != nil && r.Cost > *c.MaxCost {
			continue
		}
		if c.Category != "" && r.Threshold.Name != c.Category {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ReloadPolicy - явная перезагрузка ступеней и риск-политики.
// Уже созданные заявки сохраняют свою ступень.
func (a *Authority) ReloadPolicy(ctx context.Context, p PolicyProvider) error {
	return a.policy.Refresh(ctx, p)
}

// AssessRisk и Review доступны напрямую (инструменты агента).
func (a *Authority) AssessRisk(cost float64, priority, description string) domain.RiskAssessment {
	return a.analyzer.AssessRisk(cost, priority, description)
}

func (a *Authority) Review(details RequestDetails) Review {
	return a.analyzer.Review(details, a.GetApprovalThreshold(details.Cost))
}
