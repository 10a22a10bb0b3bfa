package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
)

// Provider registers shipments with the shipping partner.
type Provider interface {
	CreateShipment(ctx context.Context, order domain.Order) (domain.Shipment, error)
}

// Config configures HTTPProvider.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	BackOff    func() backoff.BackOff
}

// HTTPProvider calls the partner's REST API: POST {base}/v1/shipments.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	maxRetries uint64
	http       *http.Client
	backOff    func() backoff.BackOff
}

// StatusError is a non-2xx partner response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shipping: http %d: %s", e.Status, e.Body)
}

// NewHTTPProvider constructs an HTTPProvider.
func NewHTTPProvider(cfg Config) (*HTTPProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("shipping: base url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	newBackOff := cfg.BackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return &HTTPProvider{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		maxRetries: uint64(max(cfg.MaxRetries, 0)),
		http:       client,
		backOff:    newBackOff,
	}, nil
}

type shipmentRequest struct {
	Reference   string         `json:"reference"`
	OrderNumber string         `json:"order_number"`
	Partner     string         `json:"partner,omitempty"`
	TrackingID  string         `json:"tracking_id,omitempty"`
	Destination domain.Address `json:"destination"`
	Items       []shipmentItem `json:"items"`
	Declared    string         `json:"declared_value"`
	Currency    string         `json:"currency"`
}

type shipmentItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type shipmentResponse struct {
	ShipmentID string `json:"shipment_id"`
	TrackingID string `json:"tracking_id"`
}

// CreateShipment registers order with the partner, retrying transport failures and 5xx responses.
func (p *HTTPProvider) CreateShipment(ctx context.Context, order domain.Order) (domain.Shipment, error) {
	body, err := json.Marshal(shipmentRequest{
		Reference:   order.ID,
		OrderNumber: order.OrderNumber,
		Partner:     lo.FromPtr(order.ShippingPartner),
		TrackingID:  lo.FromPtr(order.TrackingID),
		Destination: order.ShippingAddress,
		Items: lo.Map(order.Items, func(item domain.OrderItem, _ int) shipmentItem {
			return shipmentItem{SKU: domain.StockKey(item.ProductID, item.VariantID), Quantity: item.Quantity}
		}),
		Declared: order.Total.StringFixed(2),
		Currency: order.Currency,
	})
	if err != nil {
		return domain.Shipment{}, fmt.Errorf("shipping: encode request: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), p.maxRetries), ctx)
	return backoff.RetryWithData(func() (domain.Shipment, error) {
		return p.post(ctx, order.ID, body)
	}, policy)
}

func (p *HTTPProvider) post(ctx context.Context, reference string, body []byte) (domain.Shipment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/shipments", bytes.NewReader(body))
	if err != nil {
		return domain.Shipment{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", reference)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Shipment{}, backoff.Permanent(ctx.Err())
		}
		return domain.Shipment{}, fmt.Errorf("shipping: create shipment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.Shipment{}, statusErr
		}
		return domain.Shipment{}, backoff.Permanent(statusErr)
	}

	var out shipmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Shipment{}, backoff.Permanent(fmt.Errorf("shipping: decode response: %w", err))
	}
	if out.ShipmentID == "" {
		return domain.Shipment{}, backoff.Permanent(errors.New("shipping: shipment id missing from response"))
	}
	return domain.Shipment{ShipmentID: out.ShipmentID, TrackingID: out.TrackingID}, nil
}
