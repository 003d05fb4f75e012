package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/service"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
)

type FulfillmentHandler struct {
	service *service.FulfillmentService
}

func NewFulfillmentHandler(s *service.FulfillmentService) *FulfillmentHandler {
	return &FulfillmentHandler{service: s}
}

type SubmitRequest struct {
	PartNumber        string      `json:"part_number"`
	QuantityRequested json.Number `json:"quantity_requested"`
	Destination       string      `json:"destination"`
	Priority          string      `json:"priority"`
	Description       string      `json:"description"`
}

// Submit принимает заявку на доставку.
// POST /v1/fulfillments, ?wait=true - дождаться итога в этом же запросе.
func (h *FulfillmentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	// 1. Обязательные поля проверяем до оркестратора
	var missing []string
	if strings.TrimSpace(body.PartNumber) == "" {
		missing = append(missing, "part_number")
	}
	if body.QuantityRequested == "" {
		missing = append(missing, "quantity_requested")
	}
	if strings.TrimSpace(body.Destination) == "" {
		missing = append(missing, "destination")
	}
	if len(missing) > 0 {
		writeBadRequest(w, "missing required fields: "+strings.Join(missing, ", "))
		return
	}
	qty, err := body.QuantityRequested.Int64()
	if err != nil {
		writeBadRequest(w, "quantity_requested must be an integer")
		return
	}

	req := engine.FulfillmentRequest{
		PartNumber:  body.PartNumber,
		Quantity:    int(qty),
		Destination: body.Destination,
		Priority:    body.Priority,
		Description: body.Description,
		Requester:   actor(r.Context()),
	}

	// 2. Синхронный режим
	if r.URL.Query().Get("wait") == "true" {
		out, err := h.service.Run(r.Context(), req)
		if err != nil {
			writeFailure(w, err, out)
			return
		}
		writeData(w, out)
		return
	}

	// 3. Асинхронный режим: статус по GET /v1/fulfillments/{id} или в /stream
	id := h.service.Submit(r.Context(), req)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":        true,
		"fulfillment_id": id,
	})
}

// Get возвращает отслеживаемый статус заявки.
// GET /v1/fulfillments/{id}
func (h *FulfillmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := h.service.Status(id)
	if !ok {
		writeFailure(w, domain.NewError(domain.KindNotFound, "fulfillment.get", id, "fulfillment %s is not tracked", id), nil)
		return
	}
	writeData(w, st)
}
