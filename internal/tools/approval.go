package tools

import (
	"context"

	"github.com/xela07ax/agv-logistics-coordinator/internal/approval"
)

func requestDetails(a Args) approval.RequestDetails {
	return approval.RequestDetails{
		Cost:        a.Float("cost"),
		Description: a.String("description"),
		RequestType: a.String("request_type"),
		Priority:    a.String("priority"),
	}
}

// ApprovalTools - согласование затрат.
func ApprovalTools(au *approval.Authority) []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        "get_approval_threshold",
			Description: "Threshold category and required authority for a cost.",
			InputSchema: []ParamSpec{required("cost", TypeNumber, "Cost in USD")},
			Handler: func(_ context.Context, a Args) (any, error) {
				return au.GetApprovalThreshold(a.Float("cost")), nil
			},
		},
		{
			Name:        "create_approval_request",
			Description: "Create an approval request. Costs in the auto-approve category are approved immediately.",
			InputSchema: []ParamSpec{
				required("cost", TypeNumber, "Cost in USD"),
				required("description", TypeString, "What is being requested and why"),
				required("request_type", TypeString, "inventory_request, fleet_dispatch, maintenance or procurement"),
				optional("priority", TypeString, "LOW, MEDIUM, HIGH or URGENT"),
				optional("requester", TypeString, "Requesting person or agent"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return au.CreateApprovalRequest(requestDetails(a), a.StringOr("requester", defaultRequester))
			},
		},
		{
			Name:        "process_approval",
			Description: "Approve or reject a pending request. The approver must hold the required authority.",
			InputSchema: []ParamSpec{
				required("request_id", TypeString, "Approval request id"),
				required("decision", TypeString, "APPROVED or REJECTED"),
				required("approver", TypeString, "Approver name containing the role, e.g. alice_manager"),
				optional("comment", TypeString, "Decision comment"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return au.ProcessApproval(a.String("request_id"), a.String("decision"), a.String("approver"), a.String("comment"))
			},
		},
		{
			Name:        "get_pending_approvals",
			Description: "Pending requests, optionally only those needing manager or director authority.",
			InputSchema: []ParamSpec{optional("authority", TypeString, "all, manager or director")},
			Handler: func(_ context.Context, a Args) (any, error) {
				return au.GetPendingApprovals(a.String("authority"))
			},
		},
		{
			Name:        "check_compliance",
			Description: "Run compliance rules (cost, description, request type) without creating a request.",
			InputSchema: []ParamSpec{
				required("cost", TypeNumber, "Cost in USD"),
				optional("description", TypeString, "Request description"),
				optional("request_type", TypeString, "Request type"),
				optional("priority", TypeString, "Priority"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return au.CheckCompliance(requestDetails(a)), nil
			},
		},
		{
			Name:        "get_approval_statistics",
			Description: "Counts by status, approval rate and distribution over thresholds.",
			Handler: func(context.Context, Args) (any, error) {
				return au.GetApprovalStatistics(), nil
			},
		},
		{
			Name:        "assess_risk",
			Description: "Risk score and level from cost, priority and emergency keywords.",
			InputSchema: []ParamSpec{
				required("cost", TypeNumber, "Cost in USD"),
				optional("priority", TypeString, "Priority"),
				optional("description", TypeString, "Request description"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return au.AssessRisk(a.Float("cost"), a.String("priority"), a.String("description")), nil
			},
		},
		{
			Name:        "search_approvals",
			Description: "Filter approval requests by status, requester, cost range or threshold category.",
			InputSchema: []ParamSpec{
				optional("status", TypeString, "PENDING, APPROVED or REJECTED"),
				optional("requester", TypeString, "Requester name, case-insensitive"),
				optional("min_cost", TypeNumber, "Lower cost bound"),
				optional("max_cost", TypeNumber, "Upper cost bound"),
				optional("category", TypeString, "Threshold category name"),
			},
			Handler: func(_ context.Context, a Args) (any, error) {
				return au.SearchApprovals(approval.SearchCriteria{
					Status:    a.String("status"),
					Requester: a.String("requester"),
					MinCost:   a.FloatPtr("min_cost"),
					MaxCost:   a.FloatPtr("max_cost"),
					Category:  a.String("category"),
				}), nil
			},
		},
	}
}
