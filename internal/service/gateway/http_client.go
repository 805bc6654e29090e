package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	defaultBaseURL     = "https://api.razorpay.com"
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 4 << 10
)

// HTTPConfig описывает подключение к REST API шлюза.
type HTTPConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// HTTPClient реализует domain.PaymentGateway поверх REST API в стиле Razorpay:
// basic auth по паре ключей, JSON в обе стороны, суммы в минорных единицах.
type HTTPClient struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
	logger    *log.Entry
}

// NewHTTPClient создаёт клиента шлюза.
func NewHTTPClient(cfg HTTPConfig, logger *log.Entry) *HTTPClient {
	if logger == nil {
		logger = log.New().WithField("component", "payment-gateway")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPClient{
		baseURL:   baseURL,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type paymentResponse struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	Method  string `json:"method"`
	Bank    string `json:"bank"`
	Wallet  string `json:"wallet"`
	Card    *struct {
		Network string `json:"network"`
		Last4   string `json:"last4"`
	} `json:"card"`
}

// CreateOrder создаёт намерение оплаты у шлюза.
func (c *HTTPClient) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	body, err := json.Marshal(createOrderRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("marshal gateway order: %w", err)
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return domain.GatewayOrder{}, err
	}
	if resp.ID == "" {
		return domain.GatewayOrder{}, fmt.Errorf("%w: empty order id in response", domain.ErrGatewayUnavailable)
	}

	return domain.GatewayOrder{
		Ref:         resp.ID,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
		Status:      resp.Status,
	}, nil
}

// FetchPayment возвращает метаданные платежа.
func (c *HTTPClient) FetchPayment(ctx context.Context, paymentRef string) (domain.GatewayPayment, error) {
	path := "/v1/payments/" + url.PathEscape(paymentRef) + "?expand[]=card"

	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return domain.GatewayPayment{}, err
	}

	payment := domain.GatewayPayment{
		Ref:         resp.ID,
		OrderRef:    resp.OrderID,
		Status:      resp.Status,
		AmountMinor: resp.Amount,
		Details: domain.PaymentDetails{
			Method: resp.Method,
			Bank:   resp.Bank,
			Wallet: resp.Wallet,
		},
	}
	if resp.Card != nil {
		payment.Details.CardNetwork = resp.Card.Network
		payment.Details.CardLast4 = resp.Card.Last4
	}
	return payment, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.WithFields(log.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("gateway request failed")
		return fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrGatewayUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

var _ domain.PaymentGateway = (*HTTPClient)(nil)
