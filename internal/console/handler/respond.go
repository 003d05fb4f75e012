package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"github.com/xela07ax/agv-logistics-coordinator/internal/tools"
)

// AgentIDHeader - кто вызывает API: агент-планировщик или оператор.
const AgentIDHeader = "X-Agent-ID"

// ActorMiddleware переносит X-Agent-ID в контекст: им подписываются аудит и заявки.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(AgentIDHeader); id != "" {
			r = r.WithContext(tools.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func actor(ctx context.Context) string {
	return tools.ActorFromContext(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, tools.Result{Success: true, Data: data})
}

// writeFailure: доменный отказ - 200 со структурой ошибки, остальное - 500.
func writeFailure(w http.ResponseWriter, err error, data any) {
	var de *domain.Error
	if !errors.As(err, &de) {
		writeJSON(w, http.StatusInternalServerError, tools.Result{Error: err.Error(), Kind: domain.KindInternal})
		return
	}
	writeJSON(w, http.StatusOK, tools.Result{Data: data, Error: de.Error(), Kind: de.Kind, Details: de.Details})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, tools.Result{Error: msg})
}

// decodeBody читает JSON-объект. Пустое тело допустимо только при allowEmpty.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return err
	}
	return nil
}
