package approval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
)

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewPolicyStore(DefaultThresholds(), DefaultRiskPolicy(), zap.NewNop())
	return NewAuthority(store, zap.NewNop(), WithClock(func() time.Time { return now }))
}

func details(cost float64) RequestDetails {
	return RequestDetails{Cost: cost, Description: strings.Repeat("x", 10), RequestType: "inventory_request"}
}

func TestGetApprovalThreshold(t *testing.T) {
	a := newTestAuthority(t)

	tests := []struct {
		cost     float64
		category string
		auto     bool
		manager  bool
		director bool
		over     bool
	}{
		{0, "low_value", true, false, false, false},
		{1000, "low_value", true, false, false, false},
		{1000.01, "medium_value", false, true, false, false},
		{5000, "medium_value", false, true, false, false},
		{15000, "high_value", false, false, true, false},
		{2_000_000, "high_value", false, true, true, true},
	}
	for _, tt := range tests {
		th := a.GetApprovalThreshold(tt.cost)
		if th.Name != tt.category || th.AutoApprove != tt.auto || th.RequiresManager != tt.manager ||
			th.RequiresDirector != tt.director || th.OverThreshold != tt.over {
			t.Errorf("cost %v: got %+v", tt.cost, th)
		}
	}
}

func TestAutoApprove(t *testing.T) {
	a := newTestAuthority(t)

	req, err := a.CreateApprovalRequest(details(500), "planner")
	if err != nil {
		t.Fatalf("CreateApprovalRequest: %v", err)
	}
	if req.Status != domain.StatusApproved || req.Approver != domain.SystemApprover || !req.AutoApproved {
		t.Fatalf("got status=%s approver=%q auto=%v", req.Status, req.Approver, req.AutoApproved)
	}
	if len(req.Comments) != 1 || req.Comments[0].Text != "Auto-approved: Cost $500.00 is within low_value threshold" {
		t.Fatalf("comments: %+v", req.Comments)
	}
	if len(req.ID) != 8 {
		t.Errorf("id %q: want 8 chars", req.ID)
	}
	if h := a.GetApprovalHistory(); len(h) != 1 || h[0].ID != req.ID {
		t.Errorf("history: %+v", h)
	}
}

func TestDirectorEscalation(t *testing.T) {
	a := newTestAuthority(t)

	req, err := a.CreateApprovalRequest(details(15000), "planner")
	if err != nil {
		t.Fatalf("CreateApprovalRequest: %v", err)
	}
	if req.Status != domain.StatusPending || req.Threshold.Name != "high_value" || !req.Threshold.RequiresDirector {
		t.Fatalf("got %+v", req)
	}

	_, err = a.ProcessApproval(req.ID, "APPROVED", "bob", "")
	if !errors.Is(err, domain.ErrAuthorityMismatch) {
		t.Fatalf("bob: got %v, want AuthorityMismatch", err)
	}
	if got, _ := a.GetApprovalRequest(req.ID); got.Status != domain.StatusPending {
		t.Fatalf("status changed after mismatch: %s", got.Status)
	}

	done, err := a.ProcessApproval(req.ID, "APPROVED", "bob_director", "ok")
	if err != nil {
		t.Fatalf("bob_director: %v", err)
	}
	if done.Status != domain.StatusApproved || done.Approver != "bob_director" || done.ApprovedAt == nil {
		t.Fatalf("got %+v", done)
	}
}

func TestManagerAuthority(t *testing.T) {
	tests := []struct {
		approver string
		ok       bool
	}{
		{"alice_manager", true},
		{"Carol.DIRECTOR", true},
		{"bob", false},
	}
	for _, tt := range tests {
		a := newTestAuthority(t)
		req, err := a.CreateApprovalRequest(details(3000), "planner")
		if err != nil {
			t.Fatalf("CreateApprovalRequest: %v", err)
		}
		_, err = a.ProcessApproval(req.ID, "reject", tt.approver, "")
		if tt.ok && err != nil {
			t.Errorf("%s: %v", tt.approver, err)
		}
		if !tt.ok && !errors.Is(err, domain.ErrAuthorityMismatch) {
			t.Errorf("%s: got %v, want AuthorityMismatch", tt.approver, err)
		}
	}
}

func TestProcessApprovalExactlyOnce(t *testing.T) {
	a := newTestAuthority(t)
	req, _ := a.CreateApprovalRequest(details(3000), "planner")

	first, err := a.ProcessApproval(req.ID, "REJECTED", "alice_manager", "no budget")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err = a.ProcessApproval(req.ID, "APPROVED", "alice_manager", "")
	if !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("second: got %v, want NotPending", err)
	}

	got, _ := a.GetApprovalRequest(req.ID)
	if got.Status != domain.StatusRejected || len(got.Comments) != len(first.Comments) {
		t.Fatalf("resolved state altered: %+v", got)
	}
	if h := a.GetApprovalHistory(); len(h) != 1 {
		t.Fatalf("history len %d, want 1", len(h))
	}
}

func TestProcessApprovalConcurrent(t *testing.T) {
	a := newTestAuthority(t)
	req, _ := a.CreateApprovalRequest(details(3000), "planner")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.ProcessApproval(req.ID, "APPROVED", "manager", ""); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("%d successful transitions, want 1", ok)
	}
}

func TestProcessApprovalErrors(t *testing.T) {
	a := newTestAuthority(t)
	req, _ := a.CreateApprovalRequest(details(3000), "planner")

	tests := []struct {
		name     string
		id       string
		decision string
		approver string
		want     error
	}{
		{"unknown id", "nope", "APPROVED", "manager", domain.ErrNotFound},
		{"bad decision", req.ID, "MAYBE", "manager", domain.ErrInvalidInput},
		{"empty approver", req.ID, "APPROVED", " ", domain.ErrMissingField},
	}
	for _, tt := range tests {
		if _, err := a.ProcessApproval(tt.id, tt.decision, tt.approver, ""); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	a := newTestAuthority(t)

	tests := []struct {
		name string
		d    RequestDetails
		want error
	}{
		{"negative cost", RequestDetails{Cost: -1, Description: "d", RequestType: "maintenance"}, domain.ErrInvalidInput},
		{"no description", RequestDetails{Cost: 1, RequestType: "maintenance"}, domain.ErrMissingField},
		{"no type", RequestDetails{Cost: 1, Description: "d"}, domain.ErrMissingField},
	}
	for _, tt := range tests {
		if _, err := a.CreateApprovalRequest(tt.d, "x"); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestAssessRiskCutoffs(t *testing.T) {
	a := newTestAuthority(t)

	tests := []struct {
		cost        float64
		priority    string
		description string
		score       int
		level       domain.RiskLevel
	}{
		{500, "MEDIUM", "routine restock", 0, domain.RiskLow},
		{6000, "MEDIUM", "routine restock", 10, domain.RiskLow},
		{6000, "HIGH", "routine restock", 20, domain.RiskMedium},
		{15000, "HIGH", "routine restock", 25, domain.RiskHigh},
		{800, "URGENT", "Emergency breakdown on line B", 35, domain.RiskHigh},
		{60000, "URGENT", "critical failure", 65, domain.RiskCritical},
	}
	for _, tt := range tests {
		r := a.AssessRisk(tt.cost, tt.priority, tt.description)
		if r.Score != tt.score || r.Level != tt.level {
			t.Errorf("%v/%s/%q: got %d %s, want %d %s", tt.cost, tt.priority, tt.description, r.Score, r.Level, tt.score, tt.level)
		}
	}
}

func TestCreateReviewedRequest(t *testing.T) {
	tests := []struct {
		name     string
		d        RequestDetails
		decision domain.ReviewDecision
		status   domain.ApprovalStatus
		director bool
		manager  bool
	}{
		{"auto", RequestDetails{Cost: 500, Priority: "MEDIUM", Description: "routine restock", RequestType: "inventory_request"},
			domain.DecisionAutoApproved, domain.StatusApproved, false, false},
		{"high priority limit", RequestDetails{Cost: 1200, Priority: "HIGH", Description: "routine restock", RequestType: "inventory_request"},
			domain.DecisionAutoApproved, domain.StatusApproved, false, true},
		{"above priority limit", RequestDetails{Cost: 700, Priority: "LOW", Description: "routine restock", RequestType: "inventory_request"},
			domain.DecisionRequiresReview, domain.StatusPending, false, true},
		{"high risk", RequestDetails{Cost: 800, Priority: "URGENT", Description: "emergency repair", RequestType: "inventory_request"},
			domain.DecisionEscalated, domain.StatusPending, true, true},
		{"over director limit", RequestDetails{Cost: 30000, Priority: "MEDIUM", Description: "routine restock", RequestType: "procurement"},
			domain.DecisionEscalated, domain.StatusPending, true, true},
	}
	for _, tt := range tests {
		a := newTestAuthority(t)
		req, rv, err := a.CreateReviewedRequest(tt.d, "fulfillment")
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if rv.Decision != tt.decision || req.Decision != tt.decision {
			t.Errorf("%s: decision %s, want %s (reasoning %v)", tt.name, rv.Decision, tt.decision, rv.Reasoning)
		}
		if req.Status != tt.status {
			t.Errorf("%s: status %s, want %s", tt.name, req.Status, tt.status)
		}
		if req.Threshold.RequiresDirector != tt.director || req.Threshold.RequiresManager != tt.manager {
			t.Errorf("%s: threshold %+v", tt.name, req.Threshold)
		}
		if req.Risk == nil {
			t.Errorf("%s: risk not recorded", tt.name)
		}
	}
}

func TestClaimResolved(t *testing.T) {
	a := newTestAuthority(t)

	pending, _ := a.CreateApprovalRequest(details(3000), "planner")
	if _, err := a.ClaimResolved(pending.ID); !errors.Is(err, domain.ErrApprovalPending) {
		t.Fatalf("pending claim: got %v", err)
	}
	if _, err := a.ProcessApproval(pending.ID, "APPROVED", "manager", ""); err != nil {
		t.Fatalf("ProcessApproval: %v", err)
	}
	got, err := a.ClaimResolved(pending.ID)
	if err != nil || !got.Claimed {
		t.Fatalf("first claim: %+v %v", got, err)
	}
	if _, err := a.ClaimResolved(pending.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v", err)
	}
}

func TestGetPendingApprovals(t *testing.T) {
	a := newTestAuthority(t)
	a.CreateApprovalRequest(details(500), "p")   // auto
	a.CreateApprovalRequest(details(3000), "p")  // manager
	a.CreateApprovalRequest(details(20000), "p") // director

	tests := []struct {
		filter string
		want   int
	}{
		{"", 2},
		{"manager", 1},
		{"Director", 1},
	}
	for _, tt := range tests {
		got, err := a.GetPendingApprovals(tt.filter)
		if err != nil {
			t.Fatalf("%q: %v", tt.filter, err)
		}
		if len(got) != tt.want {
			t.Errorf("%q: got %d, want %d", tt.filter, len(got), tt.want)
		}
	}
	if _, err := a.GetPendingApprovals("ceo"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown filter: got %v", err)
	}
}

func TestCheckCompliance(t *testing.T) {
	a := newTestAuthority(t)

	c := a.CheckCompliance(RequestDetails{Cost: -5, Description: "short", RequestType: "gift"})
	if c.Compliant || len(c.Violations) != 3 || len(c.ChecksPerformed) != 3 {
		t.Fatalf("got %+v", c)
	}

	c = a.CheckCompliance(RequestDetails{Cost: 12000, Description: "replacement hydraulic pumps", RequestType: "procurement"})
	if !c.Compliant || len(c.Warnings) != 1 {
		t.Fatalf("got %+v", c)
	}
}

func TestStatisticsAndSearch(t *testing.T) {
	a := newTestAuthority(t)
	a.CreateApprovalRequest(details(500), "alice")
	r2, _ := a.CreateApprovalRequest(details(3000), "bob")
	a.CreateApprovalRequest(details(20000), "bob")
	a.ProcessApproval(r2.ID, "REJECTED", "manager", "")

	s := a.GetApprovalStatistics()
	if s.TotalRequests != 3 || s.Approved != 1 || s.Rejected != 1 || s.Pending != 1 || s.AutoApproved != 1 {
		t.Fatalf("got %+v", s)
	}
	if s.ThresholdDistribution["medium_value"] != 1 || s.ThresholdDistribution["high_value"] != 1 {
		t.Errorf("distribution %+v", s.ThresholdDistribution)
	}

	minCost := 1000.0
	if got := a.SearchApprovals(SearchCriteria{Requester: "BOB", MinCost: &minCost}); len(got) != 2 {
		t.Errorf("search by requester: %d", len(got))
	}
	if got := a.SearchApprovals(SearchCriteria{Status: "pending"}); len(got) != 1 {
		t.Errorf("search by status: %d", len(got))
	}
}

type staticPolicy struct {
	thresholds domain.ApprovalThresholdPolicy
}

func (s staticPolicy) ApprovalPolicy(context.Context) (domain.ApprovalThresholdPolicy, domain.RiskPolicy, error) {
	return s.thresholds, domain.RiskPolicy{}, nil
}

func TestReloadPolicy(t *testing.T) {
	a := newTestAuthority(t)

	err := a.ReloadPolicy(context.Background(), staticPolicy{thresholds: domain.ApprovalThresholdPolicy{
		{Name: "petty", MaxCost: 100, AutoApprove: true},
		{Name: "rest", MaxCost: 1e9, RequiresDirector: true},
	}})
	if err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}
	if th := a.GetApprovalThreshold(500); th.Name != "rest" {
		t.Errorf("after reload: %+v", th)
	}
	if err := a.ReloadPolicy(context.Background(), staticPolicy{}); err == nil {
		t.Error("empty policy accepted")
	}
	if th := a.GetApprovalThreshold(50); th.Name != "petty" {
		t.Errorf("empty reload replaced policy: %+v", th)
	}
}
