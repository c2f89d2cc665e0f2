// Package apiclient is the Go client of the order API used by the admin
// console and the bench runner.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/pkg/idempotency"
	"github.com/nazeru/medstore-orders-go/pkg/problem"
)

// Error is a non-2xx answer. Problem is set when the body was problem+json.
type Error struct {
	StatusCode int
	Problem    *problem.Detail
	Body       string
}

func (e *Error) Error() string {
	if e.Problem != nil {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Problem.Detail)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// WithToken returns a copy that authenticates as another caller.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

type Item struct {
	ProductID         string `json:"productId"`
	Quantity          int    `json:"quantity"`
	ExpectedUnitPrice *int64 `json:"expectedUnitPrice,omitempty"`
}

type CheckoutRequest struct {
	Customer      domain.Customer `json:"customer"`
	Items         []Item          `json:"items"`
	PaymentMethod string          `json:"paymentMethod"`
}

type CheckoutResponse struct {
	Status string        `json:"status"`
	Order  *domain.Order `json:"order"`
}

// Checkout places an order. An empty key gets a fresh one.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest, idemKey string) (CheckoutResponse, error) {
	if idemKey == "" {
		idemKey = uuid.NewString()
	}
	var out CheckoutResponse
	err := c.do(ctx, http.MethodPost, "/api/orders", req, &out, idempotency.Header, idemKey)
	return out, err
}

func (c *Client) Order(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+id, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) SubmitProof(ctx context.Context, id, transactionID, proofRef string) (*domain.Order, error) {
	body := map[string]string{"transactionId": transactionID, "paymentProofRef": proofRef}
	return c.order(ctx, http.MethodPost, "/api/orders/"+id+"/payment-proof", body)
}

func (c *Client) Transition(ctx context.Context, id string, to domain.Status) (*domain.Order, error) {
	return c.order(ctx, http.MethodPatch, "/api/admin/orders/"+id+"/status", map[string]string{"status": string(to)})
}

func (c *Client) Approve(ctx context.Context, id string) (*domain.Order, error) {
	return c.order(ctx, http.MethodPost, "/api/admin/orders/"+id+"/payment/approve", nil)
}

func (c *Client) Reject(ctx context.Context, id, reason string) (*domain.Order, error) {
	return c.order(ctx, http.MethodPost, "/api/admin/orders/"+id+"/payment/reject", map[string]string{"reason": reason})
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) order(ctx context.Context, method, path string, body any) (*domain.Order, error) {
	var o domain.Order
	if err := c.do(ctx, method, path, body, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, header ...string) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, Body: string(data)}
		var d problem.Detail
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/problem+json") && json.Unmarshal(data, &d) == nil {
			apiErr.Problem = &d
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
