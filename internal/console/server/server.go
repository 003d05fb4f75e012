package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/handler"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Входящий лимит для /v1, nil - без лимита
	rateLimit func(http.Handler) http.Handler

	// Обработчики бизнес-доменов
	fulfillmentHandler *handler.FulfillmentHandler // /v1/fulfillments
	approvalHandler    *handler.ApprovalHandler    // /v1/approvals (HITL)
	toolHandler        *handler.ToolHandler        // /v1/tools
	stream             http.HandlerFunc            // /v1/fulfillments/stream
}

// NewConsoleServer собирает HTTP-периметр координатора
func NewConsoleServer(
	logger *zap.Logger,
	rateLimit func(http.Handler) http.Handler,
	fulfillmentH *handler.FulfillmentHandler,
	approvalH *handler.ApprovalHandler,
	toolH *handler.ToolHandler,
	stream http.HandlerFunc,
) *ConsoleServer {
	s := &ConsoleServer{
		router:             chi.NewRouter(),
		logger:             logger.Named("console-api"),
		rateLimit:          rateLimit,
		fulfillmentHandler: fulfillmentH,
		approvalHandler:    approvalH,
		toolHandler:        toolH,
		stream:             stream,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. Служебные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. API ---
	r.Route("/v1", func(r chi.Router) {
		if s.rateLimit != nil {
			r.Use(s.rateLimit)
		}
		r.Use(handler.ActorMiddleware)

		r.Route("/fulfillments", func(r chi.Router) {
			r.Post("/", s.fulfillmentHandler.Submit)
			if s.stream != nil {
				r.Get("/stream", s.stream) // WebSocket с событиями всех заявок
			}
			r.Get("/{id}", s.fulfillmentHandler.Get)
		})

		// Human-in-the-loop (Approvals)
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь запросов на решение
			r.Get("/stats", s.approvalHandler.Stats)
			r.Post("/policy/reload", s.approvalHandler.ReloadPolicy)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/decide", s.approvalHandler.Decide) // Approve/Reject + продолжение заявки
			})
		})

		// Инструменты агента
		r.Get("/tools", s.toolHandler.List)
		r.Post("/tools/{name}", s.toolHandler.Invoke)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
