package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/commercekit/fulfillment/internal/inventory/domain"
)

// Client calls the inventory ledger's HTTP API with a service credential.
// 5xx responses are retried a bounded number of times; a 409 is the ledger's
// InsufficientStock answer and is returned as such, never retried.
type Client struct {
	log     *slog.Logger
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(log *slog.Logger, baseURL, serviceToken string) *Client {
	return &Client{
		log:     log,
		baseURL: baseURL,
		token:   serviceToken,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type adjustReq struct {
	OrderID string `json:"order_id"`
	Qty     int    `json:"qty"`
}

type decrementResp struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Error    string `json:"error"`
}

func (c *Client) TryDecrement(ctx context.Context, orderID, sku string, qty int) (int, error) {
	var remaining int
	op := func() error {
		status, body, err := c.post(ctx, fmt.Sprintf("/inventory/%s/decrement", sku), adjustReq{OrderID: orderID, Qty: qty})
		if err != nil {
			return err
		}
		var resp decrementResp
		if err := json.Unmarshal(body, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("ledger response: %w", err))
		}
		switch {
		case status == http.StatusOK:
			remaining = resp.Quantity
			return nil
		case status == http.StatusConflict:
			return backoff.Permanent(&domain.InsufficientStockError{SKU: sku, Requested: qty})
		case status >= 500:
			return fmt.Errorf("ledger unavailable: %d", status)
		default:
			return backoff.Permanent(fmt.Errorf("ledger decrement %s: status %d: %s", sku, status, resp.Error))
		}
	}
	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		return 0, err
	}
	return remaining, nil
}

func (c *Client) Increment(ctx context.Context, orderID, sku string) error {
	op := func() error {
		// Qty is omitted: the ledger restores the amount its own marker
		// recorded for this order.
		status, _, err := c.post(ctx, fmt.Sprintf("/inventory/%s/increment", sku), adjustReq{OrderID: orderID})
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("ledger unavailable: %d", status)
		}
		if status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("ledger increment %s: status %d", sku, status))
		}
		return nil
	}
	return backoff.Retry(op, c.policy(ctx))
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}

func (c *Client) post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}
