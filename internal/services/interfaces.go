package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/payments"
)

// PaymentService drives the payment state machine from checkout to a materialized order.
type PaymentService interface {
	CreatePaymentFromCart(ctx context.Context, cmd CreatePaymentCommand) (domain.Payment, error)
	RetryGatewayOrder(ctx context.Context, cmd RetryGatewayOrderCommand) (domain.Payment, error)
	VerifyHostedGatewayPayment(ctx context.Context, cmd VerifyHostedCommand) (domain.Order, error)
	ConfirmCOD(ctx context.Context, cmd ConfirmCODCommand) (domain.Order, error)
	VerifyWalletMobile(ctx context.Context, cmd VerifyWalletMobileCommand) (WalletChallenge, error)
	VerifyWalletOTP(ctx context.Context, cmd VerifyWalletOTPCommand) (WalletChallenge, error)
	DebitWallet(ctx context.Context, cmd DebitWalletCommand) (domain.Order, error)
	CancelPayment(ctx context.Context, cmd CancelPaymentCommand) (domain.Payment, error)
	GetPayment(ctx context.Context, userID, paymentID string) (domain.Payment, error)
	ReconcilePayment(ctx context.Context, paymentID string) (domain.Order, error)
}

// OrderMaterializer creates the order for a successful payment exactly once.
type OrderMaterializer interface {
	Materialize(ctx context.Context, paymentID string) (domain.Order, error)
}

// FulfillmentService applies admin transitions to orders.
type FulfillmentService interface {
	Accept(ctx context.Context, cmd AcceptOrderCommand) (domain.Order, error)
	AssignShipping(ctx context.Context, cmd AssignShippingCommand) (domain.Order, error)
	MarkDelivered(ctx context.Context, cmd MarkDeliveredCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// CounterService allocates human readable order numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SnapshotBuilder freezes a live cart for a payment.
type SnapshotBuilder interface {
	Build(ctx context.Context, req SnapshotRequest) (domain.CartSnapshot, error)
}

// GatewayRouter dispatches to the adapter for a payment method.
type GatewayRouter interface {
	Initiate(ctx context.Context, method domain.PaymentMethod, req payments.InitiateRequest) (payments.Initiation, error)
	Confirm(ctx context.Context, req payments.ConfirmRequest) (payments.VerifiedOutcome, error)
}

// WalletChallenger issues and checks wallet OTP challenges.
type WalletChallenger interface {
	IssueChallenge(ctx context.Context, mobile string, now time.Time) (payments.Challenge, error)
	CheckOTP(payment domain.Payment, otp string, now time.Time) error
}

// AttemptLimiter bounds verification attempts per key.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// CreatePaymentCommand starts checkout for a cart.
type CreatePaymentCommand struct {
	UserID          string
	CartID          string
	Method          domain.PaymentMethod
	ShippingAddress domain.Address
	BillingAddress  domain.Address
}

// VerifyHostedCommand carries the signed hosted gateway callback.
type VerifyHostedCommand struct {
	UserID           string
	PaymentID        string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// ConfirmCODCommand confirms a cash on delivery payment.
type ConfirmCODCommand struct {
	UserID    string
	PaymentID string
	Notes     string
}

// VerifyWalletMobileCommand binds a wallet mobile and sends an OTP.
type VerifyWalletMobileCommand struct {
	UserID    string
	PaymentID string
	Mobile    string
}

// VerifyWalletOTPCommand submits the OTP.
type VerifyWalletOTPCommand struct {
	UserID    string
	PaymentID string
	OTP       string
}

// DebitWalletCommand debits a verified wallet.
type DebitWalletCommand struct {
	UserID    string
	PaymentID string
}

// RetryGatewayOrderCommand reopens the remote order of a hosted payment left created by a gateway
// outage.
type RetryGatewayOrderCommand struct {
	UserID    string
	PaymentID string
}

// CancelPaymentCommand abandons a non-terminal payment.
type CancelPaymentCommand struct {
	UserID    string
	PaymentID string
	Reason    string
}

// WalletChallenge reports the state of the wallet sub-flow.
type WalletChallenge struct {
	PaymentID  string
	OTPSent    bool
	ExpiresAt  time.Time
	CanProceed bool
}

// SnapshotRequest identifies the cart and addresses to freeze.
type SnapshotRequest struct {
	UserID          string
	CartID          string
	ShippingAddress domain.Address
	BillingAddress  domain.Address
}

// AcceptOrderCommand moves a pending order to accepted.
type AcceptOrderCommand struct {
	OrderID string
	ActorID string
	Notes   string
}

// AssignShippingCommand records the shipping partner and tracking id.
type AssignShippingCommand struct {
	OrderID         string
	ActorID         string
	ShippingPartner string
	TrackingID      string
	Notes           string
}

// MarkDeliveredCommand closes an order as delivered.
type MarkDeliveredCommand struct {
	OrderID string
	ActorID string
	Notes   string
}

// CancelOrderCommand cancels a pending or accepted order.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}
