package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
)

var (
	// ErrUnsupportedMethod is returned when no gateway is registered for a payment method.
	ErrUnsupportedMethod = errors.New("payments: unsupported payment method")
	// ErrGatewayUnavailable wraps remote gateway failures. The payment may be retried.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrOrderIDMismatch is returned when the caller's gateway order id differs from the stored one.
	ErrOrderIDMismatch = errors.New("payments: gateway order id mismatch")
	// ErrSignatureMismatch is returned when a callback signature does not verify.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrOTPInvalid is returned when a wallet OTP does not match the issued challenge.
	ErrOTPInvalid = errors.New("payments: otp invalid")
	// ErrOTPExpired is returned when a wallet challenge or its verification has lapsed.
	ErrOTPExpired = errors.New("payments: otp expired")
	// ErrOTPNotVerified is returned when a wallet debit is attempted before OTP verification.
	ErrOTPNotVerified = errors.New("payments: otp not verified")
)

// InitiateRequest opens a payment with a gateway.
type InitiateRequest struct {
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
}

// Initiation is the gateway's answer to InitiateRequest.
type Initiation struct {
	Status         domain.PaymentStatus
	GatewayOrderID *string
}

// ConfirmRequest carries the evidence a customer presents to complete a payment.
type ConfirmRequest struct {
	Payment          domain.Payment
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Now              time.Time
}

// VerifiedOutcome is a successful confirmation. Hosted confirmations carry the gateway references.
type VerifiedOutcome struct {
	GatewayPaymentID *string
	GatewaySignature *string
}

// Gateway is implemented once per payment method.
type Gateway interface {
	Method() domain.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (Initiation, error)
	Confirm(ctx context.Context, req ConfirmRequest) (VerifiedOutcome, error)
}

// Manager dispatches to the gateway registered for a payment method.
type Manager struct {
	gateways map[domain.PaymentMethod]Gateway
}

// NewManager registers gateways by their method. Registering the same method twice is an error.
func NewManager(gateways ...Gateway) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	m := &Manager{gateways: make(map[domain.PaymentMethod]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway")
		}
		method := gw.Method()
		if _, exists := m.gateways[method]; exists {
			return nil, fmt.Errorf("payments: duplicate gateway for %q", method)
		}
		m.gateways[method] = gw
	}
	return m, nil
}

// Gateway returns the adapter for method.
func (m *Manager) Gateway(method domain.PaymentMethod) (Gateway, error) {
	if m != nil {
		if gw, ok := m.gateways[method]; ok {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
}

// Initiate delegates to the adapter for method.
func (m *Manager) Initiate(ctx context.Context, method domain.PaymentMethod, req InitiateRequest) (Initiation, error) {
	gw, err := m.Gateway(method)
	if err != nil {
		return Initiation{}, err
	}
	return gw.Initiate(ctx, req)
}

// Confirm delegates to the adapter for the payment's method.
func (m *Manager) Confirm(ctx context.Context, req ConfirmRequest) (VerifiedOutcome, error) {
	gw, err := m.Gateway(req.Payment.Method)
	if err != nil {
		return VerifiedOutcome{}, err
	}
	return gw.Confirm(ctx, req)
}
