package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/commercekit/fulfillment/internal/inventory/domain"
	"github.com/commercekit/fulfillment/internal/order/application"
	"github.com/commercekit/fulfillment/internal/order/domain"
	"github.com/commercekit/fulfillment/pkg/auth"
)

type Handler struct {
	log    *slog.Logger
	svc    *application.Service
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, svc *application.Service) *Handler {
	return &Handler{
		log:    log,
		svc:    svc,
		tracer: otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes(authn auth.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "orders"})
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authn))
		r.Post("/orders", h.create)
		r.Get("/orders", h.list)
		r.Get("/orders/{id}", h.get)
		r.Post("/orders/{id}/complete", h.complete)
		r.Post("/orders/{id}/cancel", h.cancel)
	})
	return r
}

type createOrderReq struct {
	Items []domain.Item   `json:"items"`
	Total decimal.Decimal `json:"total"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	principal, _ := auth.FromContext(ctx)

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	o, err := h.svc.Create(ctx, principal.SubjectID, req.Items, req.Total)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	o, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), principal)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	orders, err := h.svc.List(r.Context(), principal)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CompleteOrder")
	defer span.End()

	principal, _ := auth.FromContext(ctx)
	o, err := h.svc.Complete(ctx, chi.URLParam(r, "id"), principal)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	principal, _ := auth.FromContext(ctx)
	o, err := h.svc.Cancel(ctx, chi.URLParam(r, "id"), principal)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Insufficient
// stock keeps the failing SKU in the body so the client can offer retry or
// cancellation.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	var insufficient *invdomain.InsufficientStockError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "insufficient_stock",
			"sku":   insufficient.SKU,
		})
	case errors.Is(err, domain.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not your order")
	case errors.Is(err, domain.ErrTerminalState):
		writeError(w, http.StatusConflict, "order already in a terminal state")
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
