package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
)

// RemoteOrderClient opens an order with the hosted gateway and returns its id.
type RemoteOrderClient interface {
	CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error)
}

// HostedGateway settles payments through a redirect/widget checkout whose callback is signed with
// the merchant secret.
type HostedGateway struct {
	client RemoteOrderClient
	secret string
}

// NewHostedGateway constructs a HostedGateway.
func NewHostedGateway(client RemoteOrderClient, secret string) (*HostedGateway, error) {
	if client == nil {
		return nil, errors.New("payments: hosted gateway client is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("payments: hosted gateway secret is required")
	}
	return &HostedGateway{client: client, secret: secret}, nil
}

func (g *HostedGateway) Method() domain.PaymentMethod { return domain.PaymentMethodHostedGateway }

// Initiate opens a remote order. Any client failure is reported as ErrGatewayUnavailable.
func (g *HostedGateway) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	orderID, err := g.client.CreateRemoteOrder(ctx, req.Amount, req.Currency, req.PaymentID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Initiation{}, err
		}
		return Initiation{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if strings.TrimSpace(orderID) == "" {
		return Initiation{}, fmt.Errorf("%w: empty remote order id", ErrGatewayUnavailable)
	}
	return Initiation{Status: domain.PaymentStatusPendingVerification, GatewayOrderID: &orderID}, nil
}

// Confirm checks the stored gateway order id first so a valid signature for another order can
// never complete this payment, then verifies the callback signature.
func (g *HostedGateway) Confirm(_ context.Context, req ConfirmRequest) (VerifiedOutcome, error) {
	stored := ""
	if req.Payment.GatewayOrderID != nil {
		stored = *req.Payment.GatewayOrderID
	}
	if stored == "" || req.GatewayOrderID != stored {
		return VerifiedOutcome{}, ErrOrderIDMismatch
	}
	if req.GatewayPaymentID == "" || !VerifySignature(g.secret, stored, req.GatewayPaymentID, req.Signature) {
		return VerifiedOutcome{}, ErrSignatureMismatch
	}
	paymentID := req.GatewayPaymentID
	signature := strings.ToLower(strings.TrimSpace(req.Signature))
	return VerifiedOutcome{GatewayPaymentID: &paymentID, GatewaySignature: &signature}, nil
}
