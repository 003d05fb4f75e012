package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/service"
)

type ApprovalHandler struct {
	service *service.FulfillmentService
}

func NewApprovalHandler(s *service.FulfillmentService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

// List - очередь ожидающих решения, ?authority=all|manager|director.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Pending(r.URL.Query().Get("authority"))
	if err != nil {
		writeFailure(w, err, nil)
		return
	}
	writeData(w, list)
}

func (h *ApprovalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.service.Statistics())
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Approval(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, nil)
		return
	}
	writeData(w, req)
}

type DecideRequest struct {
	Decision string `json:"decision"` // approve, reject, APPROVED, REJECTED
	Approver string `json:"approver"`
	Comment  string `json:"comment"`
}

// Decide фиксирует решение; заявка, ждавшая его, продолжается в фоне.
// POST /v1/approvals/{id}/decide
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body DecideRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	req, err := h.service.Decide(r.Context(), id, body.Decision, body.Approver, body.Comment)
	if err != nil {
		writeFailure(w, err, nil)
		return
	}
	writeData(w, req)
}

// ReloadPolicy перечитывает ступени и риск-политику из каталога.
// POST /v1/approvals/policy/reload
func (h *ApprovalHandler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReloadPolicy(r.Context()); err != nil {
		writeFailure(w, err, nil)
		return
	}
	writeData(w, map[string]any{"reloaded": true})
}
