package payments

import (
	"context"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
)

// CODGateway settles cash on delivery. Payments stay created until the customer confirms.
type CODGateway struct{}

// NewCODGateway constructs a CODGateway.
func NewCODGateway() *CODGateway { return &CODGateway{} }

func (*CODGateway) Method() domain.PaymentMethod { return domain.PaymentMethodCOD }

func (*CODGateway) Initiate(context.Context, InitiateRequest) (Initiation, error) {
	return Initiation{Status: domain.PaymentStatusCreated}, nil
}

func (*CODGateway) Confirm(context.Context, ConfirmRequest) (VerifiedOutcome, error) {
	return VerifiedOutcome{}, nil
}
