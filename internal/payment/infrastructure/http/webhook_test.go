package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/commercekit/fulfillment/internal/payment/application"
	"github.com/commercekit/fulfillment/internal/payment/domain"
	"github.com/commercekit/fulfillment/internal/payment/provider"
)

type memRepo struct {
	saved []domain.Payment
}

func (r *memRepo) SaveWithOutbox(ctx context.Context, p domain.Payment, routingKey string, payload []byte, headers map[string]string, traceparent string) error {
	r.saved = append(r.saved, p)
	return nil
}

func newWebhookServer(t *testing.T) (*httptest.Server, *memRepo) {
	t.Helper()
	repo := &memRepo{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := application.NewService(log, repo, provider.NewSandbox(decimal.Zero))
	srv := httptest.NewServer(NewHandler(log, svc).Routes())
	t.Cleanup(srv.Close)
	return srv, repo
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/webhook", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestWebhook_CaptureCompleted(t *testing.T) {
	srv, repo := newWebhookServer(t)

	resp := post(t, srv.URL, `{
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {"id": "p-1", "custom_id": "o-1", "amount": "19.98"}
	}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved = %+v", repo.saved)
	}
	if repo.saved[0].OrderID != "o-1" || repo.saved[0].PaymentID != "p-1" {
		t.Errorf("payment = %+v", repo.saved[0])
	}
}

func TestWebhook_IgnoresOtherEventTypes(t *testing.T) {
	srv, repo := newWebhookServer(t)

	resp := post(t, srv.URL, `{"event_type": "CHECKOUT.ORDER.APPROVED", "resource": {"id": "p-1"}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ignored events must still 200, got %d", resp.StatusCode)
	}
	if len(repo.saved) != 0 {
		t.Errorf("nothing should be recorded, saved = %+v", repo.saved)
	}
}

func TestWebhook_BadRequests(t *testing.T) {
	srv, _ := newWebhookServer(t)

	for _, body := range []string{
		`not json`,
		`{"event_type": "PAYMENT.CAPTURE.COMPLETED", "resource": {"custom_id": "o-1"}}`,
		`{"event_type": "PAYMENT.CAPTURE.COMPLETED", "resource": {"id": "p-1"}}`,
	} {
		resp := post(t, srv.URL, body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, resp.StatusCode)
		}
	}
}
