package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/fulfillment/internal/payment/application"
)

// Handler receives provider webhook notifications. Only capture-completed
// events matter here; everything else is acknowledged and ignored so the
// provider stops redelivering it.
type Handler struct {
	log    *slog.Logger
	svc    *application.Service
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, svc *application.Service) *Handler {
	return &Handler{
		log:    log,
		svc:    svc,
		tracer: otel.Tracer("payment-webhook"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"payments"}`))
	})
	r.Post("/webhook", h.webhook)
	return r
}

type webhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID      string          `json:"id"`
		OrderID string          `json:"custom_id"`
		Amount  decimal.Decimal `json:"amount"`
	} `json:"resource"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PaymentWebhook")
	defer span.End()

	var ev webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if ev.EventType != "PAYMENT.CAPTURE.COMPLETED" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if ev.Resource.ID == "" || ev.Resource.OrderID == "" {
		http.Error(w, "missing payment or order id", http.StatusBadRequest)
		return
	}

	if _, err := h.svc.HandleCapture(ctx, ev.Resource.ID, ev.Resource.OrderID, ev.Resource.Amount); err != nil {
		h.log.Error("webhook processing failed", "payment_id", ev.Resource.ID, "err", err)
		// Non-2xx makes the provider redeliver; HandleCapture is safe to
		// replay.
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
