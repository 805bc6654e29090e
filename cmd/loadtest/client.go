package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const idempotencyHeader = "Idempotency-Key"

// apiError — неуспешный ответ API.
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Kind, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// apiClient ходит в HTTP API storefront от имени одного пользователя.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration, connections int) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = connections
	transport.MaxConnsPerHost = connections

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

type cartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type createOrderBody struct {
	AddressID string     `json:"address_id"`
	Items     []cartLine `json:"items"`
	Notes     string     `json:"notes,omitempty"`
}

type orderRef struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}

type intentRef struct {
	OrderID         string `json:"order_id"`
	GatewayOrderRef string `json:"razorpay_order_id"`
	Amount          int64  `json:"amount"`
}

type callbackBody struct {
	GatewayOrderRef   string `json:"razorpay_order_id"`
	GatewayPaymentRef string `json:"razorpay_payment_id"`
	Signature         string `json:"razorpay_signature"`
}

type verifyRef struct {
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
}

func (c *apiClient) createOrder(ctx context.Context, body createOrderBody, key string) (orderRef, int, error) {
	var out orderRef
	status, err := c.post(ctx, "/api/orders", key, body, &out)
	return out, status, err
}

func (c *apiClient) createPaymentIntent(ctx context.Context, orderID string) (intentRef, int, error) {
	var out intentRef
	status, err := c.post(ctx, "/api/payments/create-order", "", map[string]string{"order_id": orderID}, &out)
	return out, status, err
}

func (c *apiClient) verifyPayment(ctx context.Context, body callbackBody) (verifyRef, int, error) {
	var out verifyRef
	status, err := c.post(ctx, "/api/payments/verify", "", body, &out)
	return out, status, err
}

func (c *apiClient) cancelOrder(ctx context.Context, orderID, reason string) (int, error) {
	return c.post(ctx, "/api/orders/"+orderID+"/cancel", "", map[string]string{"reason": reason}, nil)
}

// post отправляет JSON и разбирает конверт ответа. Возвращает HTTP-код,
// 0 означает, что ответа не было.
func (c *apiClient) post(ctx context.Context, path, idempotencyKey string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent()+" loadtest")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response envelope: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Kind: env.Error, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response data: %w", err)
		}
	}
	return resp.StatusCode, nil
}
