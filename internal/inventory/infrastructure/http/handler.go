package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/fulfillment/internal/inventory/application"
	"github.com/commercekit/fulfillment/internal/inventory/domain"
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
		tracer: otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Routes(authn auth.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "inventory"})
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authn))
		r.Get("/inventory", h.search)
		r.Get("/inventory/{sku}", h.get)
		r.Post("/inventory/{sku}/decrement", h.decrement)
		r.Post("/inventory/{sku}/increment", h.increment)
	})
	return r
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SearchInventory")
	defer span.End()

	records, err := h.svc.Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		h.log.Error("search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "sku"))
	if errors.Is(err, application.ErrNotFound) {
		writeError(w, http.StatusNotFound, "sku not found")
		return
	}
	if err != nil {
		h.log.Error("get failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type adjustReq struct {
	OrderID string `json:"order_id"`
	Qty     int    `json:"qty"`
}

func (h *Handler) decrement(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TryDecrement")
	defer span.End()

	principal, _ := auth.FromContext(ctx)
	if !principal.IsAdmin {
		writeError(w, http.StatusForbidden, "stock mutation requires service credentials")
		return
	}

	sku := chi.URLParam(r, "sku")
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" || req.Qty <= 0 {
		writeError(w, http.StatusBadRequest, "order_id and positive qty required")
		return
	}

	remaining, err := h.svc.TryDecrement(ctx, req.OrderID, sku, req.Qty)
	var insufficient *domain.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "insufficient_stock",
			"sku":   insufficient.SKU,
		})
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "sku not found")
	case err != nil:
		h.log.Error("decrement failed", "sku", sku, "order_id", req.OrderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"sku": sku, "quantity": remaining})
	}
}

func (h *Handler) increment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Increment")
	defer span.End()

	principal, _ := auth.FromContext(ctx)
	if !principal.IsAdmin {
		writeError(w, http.StatusForbidden, "stock mutation requires service credentials")
		return
	}

	sku := chi.URLParam(r, "sku")
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id required")
		return
	}

	if err := h.svc.Increment(ctx, req.OrderID, sku); err != nil {
		h.log.Error("increment failed", "sku", sku, "order_id", req.OrderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sku": sku, "status": "compensated"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
