package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	razorpay "github.com/razorpay/razorpay-go"
	rzperrors "github.com/razorpay/razorpay-go/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayConfig configures RazorpayClient.
type RazorpayConfig struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	// BackOff overrides the retry schedule. Each call receives a fresh policy.
	BackOff func() backoff.BackOff
	Orders  razorpayOrderAPI
}

// RazorpayClient creates remote orders through the Razorpay Orders API.
type RazorpayClient struct {
	orders     razorpayOrderAPI
	maxRetries uint64
	backOff    func() backoff.BackOff
}

// NewRazorpayClient constructs a RazorpayClient over the razorpay-go SDK.
func NewRazorpayClient(cfg RazorpayConfig) (*RazorpayClient, error) {
	orders := cfg.Orders
	if orders == nil {
		if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
			return nil, errors.New("razorpay: key id and secret are required")
		}
		rz := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
		if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
			rz.Order.Request.BaseURL = base
		}
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			timeout := cfg.Timeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			httpClient = &http.Client{Timeout: timeout}
		}
		rz.Order.Request.HTTPClient = httpClient
		orders = rz.Order
	}

	newBackOff := cfg.BackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 15 * time.Second
			return b
		}
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &RazorpayClient{
		orders:     orders,
		maxRetries: uint64(retries),
		backOff:    newBackOff,
	}, nil
}

// CreateRemoteOrder opens an auto-capture order for amount, keyed by receipt. An order already
// opened for the same receipt is reused, so a retry after a lost response never opens a second
// remote order. Bad requests are not retried.
func (c *RazorpayClient) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, code, receipt string) (string, error) {
	minor, err := MinorUnits(amount, code)
	if err != nil {
		return "", err
	}
	data := map[string]interface{}{
		"amount":          minor,
		"currency":        strings.ToUpper(strings.TrimSpace(code)),
		"payment_capture": 1,
	}
	receipt = strings.TrimSpace(receipt)
	if receipt != "" {
		data["receipt"] = receipt
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.backOff(), c.maxRetries), ctx)
	return backoff.RetryWithData(func() (string, error) {
		if err := ctx.Err(); err != nil {
			return "", backoff.Permanent(err)
		}
		if receipt != "" {
			existing, err := c.findByReceipt(receipt)
			if err != nil {
				return "", classifyRazorpayError("find order", err)
			}
			if existing != "" {
				return existing, nil
			}
		}
		resp, err := c.orders.Create(data, nil)
		if err != nil {
			return "", classifyRazorpayError("create order", err)
		}
		id, _ := resp["id"].(string)
		if id == "" {
			return "", backoff.Permanent(errors.New("razorpay: order id missing from response"))
		}
		return id, nil
	}, policy)
}

// findByReceipt returns the id of an open order carrying receipt, or "" when none exists.
func (c *RazorpayClient) findByReceipt(receipt string) (string, error) {
	resp, err := c.orders.All(map[string]interface{}{"receipt": receipt}, nil)
	if err != nil {
		return "", err
	}
	items, _ := resp["items"].([]interface{})
	for _, item := range items {
		order, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if r, _ := order["receipt"].(string); r != receipt {
			continue
		}
		if status, _ := order["status"].(string); status == "paid" {
			continue
		}
		if id, _ := order["id"].(string); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func classifyRazorpayError(action string, err error) error {
	wrapped := fmt.Errorf("razorpay: %s: %w", action, err)
	var badRequest *rzperrors.BadRequestError
	if errors.As(err, &badRequest) {
		return backoff.Permanent(wrapped)
	}
	return wrapped
}

// MinorUnits converts amount to the currency's smallest unit, e.g. 600.00 INR -> 60000.
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("payments: invalid currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}
