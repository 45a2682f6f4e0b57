package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"societyapp/config"
	"societyapp/utils"
)

const maxReceiptReferenceLength = 40

// GatewayOrder заказ, открытый на стороне платежного шлюза
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Gateway открывает заказы и проверяет подписи шлюза
type Gateway interface {
	OpenOrder(ctx context.Context, amountMinorUnits int64, reference string) (*GatewayOrder, error)
	VerifySignature(orderID, paymentID, signature string) (bool, error)
	Currency() string
}

// RazorpayGateway клиент Razorpay Orders API
type RazorpayGateway struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	currency  string

	HTTPClient *http.Client
	metrics    *utils.Metrics
}

// NewRazorpayGateway создает клиент шлюза из конфигурации
func NewRazorpayGateway(cfg *config.Config, metrics *utils.Metrics) *RazorpayGateway {
	timeout := cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	currency := strings.TrimSpace(cfg.Gateway.Currency)
	if currency == "" {
		currency = "INR"
	}
	return &RazorpayGateway{
		KeyID:     strings.TrimSpace(cfg.Gateway.KeyID),
		KeySecret: strings.TrimSpace(cfg.Gateway.KeySecret),
		BaseURL:   strings.TrimRight(cfg.Gateway.BaseURL, "/"),
		currency:  currency,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
	}
}

type createOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

// OpenOrder создает заказ на сумму в минимальных единицах (пайсах)
func (g *RazorpayGateway) OpenOrder(ctx context.Context, amountMinorUnits int64, reference string) (*GatewayOrder, error) {
	if amountMinorUnits <= 0 {
		return nil, validationError("order amount must be positive")
	}
	if g.KeyID == "" || g.KeySecret == "" {
		return nil, fmt.Errorf("%w: gateway credentials are not configured", ErrGateway)
	}

	start := time.Now()
	defer g.metrics.ObserveGateway("open_order", start)

	if len(reference) > maxReceiptReferenceLength {
		reference = reference[:maxReceiptReferenceLength]
	}
	payload, err := json.Marshal(createOrderRequest{
		Amount:         amountMinorUnits,
		Currency:       g.currency,
		Receipt:        reference,
		PaymentCapture: 1,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	req.SetBasicAuth(g.KeyID, g.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: order request failed: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: order request failed: status=%d body=%s", ErrGateway, resp.StatusCode, string(body))
	}

	var order GatewayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: malformed order response: %v", ErrGateway, err)
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, fmt.Errorf("%w: order response without id", ErrGateway)
	}
	return &order, nil
}

// VerifySignature сверяет подпись hex(HMAC-SHA256(secret, orderID|paymentID)).
// Несовпадение возвращает false без ошибки; ошибка означает отсутствие секрета.
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	if g.KeySecret == "" {
		return false, ErrGatewaySecretMissing
	}
	return utils.VerifyHMACHex([]byte(g.KeySecret), signaturePayload(orderID, paymentID), signature), nil
}

// Currency возвращает валюту, в которой открываются заказы
func (g *RazorpayGateway) Currency() string {
	return g.currency
}

// ComputeSignature вычисляет подпись так же, как шлюз
func ComputeSignature(secret, orderID, paymentID string) string {
	return utils.SignHMACHex([]byte(secret), signaturePayload(orderID, paymentID))
}

func signaturePayload(orderID, paymentID string) string {
	return orderID + "|" + paymentID
}
