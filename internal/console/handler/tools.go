package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
	"github.com/xela07ax/agv-logistics-coordinator/internal/tools"
)

// ToolHandler открывает реестр инструментов агентам по HTTP.
type ToolHandler struct {
	reg *tools.Registry
}

func NewToolHandler(reg *tools.Registry) *ToolHandler {
	return &ToolHandler{reg: reg}
}

func (h *ToolHandler) List(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.reg.List())
}

// Invoke - POST /v1/tools/{name}, тело - объект аргументов.
// Отказ инструмента отдается как 200 {success:false}: это ответ, а не сбой транспорта.
func (h *ToolHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	var args map[string]any
	if err := decodeBody(r, &args, true); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	ctx := tools.WithChannel(r.Context(), audit.ChannelHTTP)
	writeJSON(w, http.StatusOK, h.reg.Invoke(ctx, chi.URLParam(r, "name"), args))
}
