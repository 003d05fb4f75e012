package domain

import (
	"errors"
	"time"
)

// Статусы State Machine
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// ParseDecision принимает APPROVED/REJECTED в любом регистре, а также approve/reject.
func ParseDecision(s string) (ApprovalStatus, bool) {
	switch upper(s) {
	case "APPROVED", "APPROVE":
		return StatusApproved, true
	case "REJECTED", "REJECT":
		return StatusRejected, true
	}
	return "", false
}

var (
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// SystemApprover - синтетический апрувер для автоодобрения.
const SystemApprover = "SYSTEM_AUTO"

// Решения риск-ревью
type ReviewDecision string

const (
	DecisionAutoApproved   ReviewDecision = "auto_approved"
	DecisionRequiresReview ReviewDecision = "requires_review"
	DecisionEscalated      ReviewDecision = "escalated"
)

type Comment struct {
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
}

// Threshold - категория, в которую попала стоимость.
type Threshold struct {
	ThresholdCategory
	OverThreshold bool   `json:"over_threshold,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ApprovalRequest struct {
	ID          string         `json:"request_id"`
	Cost        float64        `json:"cost"`
	Description string         `json:"description"`
	RequestType string         `json:"request_type"`
	Priority    Priority       `json:"priority,omitempty"`
	Requester   string         `json:"requester"`
	Threshold   Threshold      `json:"threshold"`
	Status      ApprovalStatus `json:"status"`

	Approver     string     `json:"approver,omitempty"`
	ApprovedAt   *time.Time `json:"approval_timestamp,omitempty"`
	Comments     []Comment  `json:"comments"`
	AutoApproved bool       `json:"auto_approved"`

	// Заполняются только на пути риск-ревью
	Risk     *RiskAssessment `json:"risk,omitempty"`
	Decision ReviewDecision  `json:"decision,omitempty"`

	// Контекст приостановленного процесса (fulfillment), переживает ожидание апрува
	Metadata map[string]string `json:"metadata,omitempty"`
	Claimed  bool              `json:"claimed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// Clone - глубокая копия для выдачи наружу и записи в историю.
func (a ApprovalRequest) Clone() ApprovalRequest {
	out := a
	out.Comments = append([]Comment(nil), a.Comments...)
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	if a.Risk != nil {
		r := *a.Risk
		r.Factors = append([]string(nil), a.Risk.Factors...)
		r.Recommendations = append([]string(nil), a.Risk.Recommendations...)
		out.Risk = &r
	}
	if a.ApprovedAt != nil {
		t := *a.ApprovedAt
		out.ApprovedAt = &t
	}
	return out
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type RiskAssessment struct {
	Score           int       `json:"risk_score"`
	Level           RiskLevel `json:"risk_level"`
	Factors         []string  `json:"risk_factors"`
	Recommendations []string  `json:"recommendations"`
}
