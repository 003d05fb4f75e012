package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agv-logistics-coordinator/internal/approval"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
	"go.uber.org/zap"
)

// Approvals - то, что консоль делает с заявками на согласование.
type Approvals interface {
	GetApprovalRequest(id string) (domain.ApprovalRequest, error)
	GetPendingApprovals(authority string) ([]domain.ApprovalRequest, error)
	GetApprovalStatistics() approval.Statistics
	ProcessApproval(id, decision, approver, comment string) (domain.ApprovalRequest, error)
	ReloadPolicy(ctx context.Context, p approval.PolicyProvider) error
}

// FulfillmentService - прием заявок операторов и решений по согласованию.
// Фоновые прогоны отвязаны от HTTP-запроса и ограничены timeout.
type FulfillmentService struct {
	backend   engine.FulfillmentBackend
	approvals Approvals
	policy    approval.PolicyProvider
	tracker   *Tracker
	timeout   time.Duration
	logger    *zap.Logger

	wg sync.WaitGroup
}

func NewFulfillmentService(
	backend engine.FulfillmentBackend,
	approvals Approvals,
	policy approval.PolicyProvider,
	tracker *Tracker,
	timeout time.Duration,
	logger *zap.Logger,
) *FulfillmentService {
	return &FulfillmentService{
		backend:   backend,
		approvals: approvals,
		policy:    policy,
		tracker:   tracker,
		timeout:   timeout,
		logger:    logger.Named("fulfillment-service"),
	}
}

func (s *FulfillmentService) Tracker() *Tracker { return s.tracker }

func (s *FulfillmentService) background(ctx context.Context) (context.Context, context.CancelFunc) {
	bg := engine.Detach(ctx)
	if s.timeout > 0 {
		return context.WithTimeout(bg, s.timeout)
	}
	return context.WithCancel(bg)
}

// Submit ставит заявку в фоновую обработку и сразу возвращает ее id.
func (s *FulfillmentService) Submit(ctx context.Context, req engine.FulfillmentRequest) string {
	if req.ID == "" {
		req.ID = "FUL-" + uuid.New().String()[:8]
	}
	s.tracker.Start(req)

	runCtx, cancel := s.background(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		out, err := s.backend.Fulfill(runCtx, req)
		s.tracker.Finish(out, err)
	}()
	return req.ID
}

// Run исполняет заявку синхронно (?wait=true).
func (s *FulfillmentService) Run(ctx context.Context, req engine.FulfillmentRequest) (*engine.Outcome, error) {
	out, err := s.backend.Fulfill(ctx, req)
	s.tracker.Finish(out, err)
	return out, err
}

func (s *FulfillmentService) Status(id string) (FulfillmentStatus, bool) {
	return s.tracker.Get(id)
}

// Decide фиксирует решение и продолжает приостановленную заявку в фоне.
// Заявки, созданные не оркестратором, просто меняют статус.
func (s *FulfillmentService) Decide(ctx context.Context, id, decision, approver, comment string) (domain.ApprovalRequest, error) {
	req, err := s.approvals.ProcessApproval(id, decision, approver, comment)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	fulfillmentID := req.Metadata["fulfillment_id"]
	if fulfillmentID == "" {
		return req, nil
	}
	s.tracker.Reopen(fulfillmentID)

	runCtx, cancel := s.background(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		out, err := s.backend.Resume(runCtx, id)
		if err != nil {
			s.logger.Warn("resume after decision failed",
				zap.String("approval_id", id),
				zap.String("fulfillment_id", fulfillmentID),
				zap.Error(err))
		}
		s.tracker.Finish(out, err)
	}()
	return req, nil
}

// ApplyDecision - вход для решений, пришедших из Redis.
func (s *FulfillmentService) ApplyDecision(ctx context.Context, d engine.ApprovalDecision) {
	if _, err := s.Decide(ctx, d.RequestID, d.Decision, d.Approver, d.Comment); err != nil {
		s.logger.Warn("external approval decision rejected",
			zap.String("approval_id", d.RequestID),
			zap.String("approver", d.Approver),
			zap.Error(err))
	}
}

func (s *FulfillmentService) Approval(id string) (domain.ApprovalRequest, error) {
	return s.approvals.GetApprovalRequest(id)
}

func (s *FulfillmentService) Pending(authority string) ([]domain.ApprovalRequest, error) {
	return s.approvals.GetPendingApprovals(authority)
}

func (s *FulfillmentService) Statistics() approval.Statistics {
	return s.approvals.GetApprovalStatistics()
}

func (s *FulfillmentService) ReloadPolicy(ctx context.Context) error {
	return s.approvals.ReloadPolicy(ctx, s.policy)
}

// Wait дожидается фоновых прогонов (graceful shutdown).
func (s *FulfillmentService) Wait() {
	s.wg.Wait()
}
