package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the gateway adapter that settles a payment.
type PaymentMethod string

const (
	// PaymentMethodHostedGateway settles through a redirect/widget gateway with a signed callback.
	PaymentMethodHostedGateway PaymentMethod = "hosted_gateway"
	// PaymentMethodCOD settles in cash on delivery after explicit confirmation.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodWallet debits a mobile-linked stored-value account after OTP verification.
	PaymentMethodWallet PaymentMethod = "wallet"
)

// PaymentStatus enumerates the payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusCreated             PaymentStatus = "created"
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
	PaymentStatusAwaitingOTP         PaymentStatus = "awaiting_otp"
	PaymentStatusSuccessful          PaymentStatus = "successful"
	PaymentStatusFailed              PaymentStatus = "failed"
	PaymentStatusCancelled           PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSuccessful, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderStatus enumerates the admin-driven fulfillment lifecycle.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusAccepted         OrderStatus = "accepted"
	OrderStatusShippingAssigned OrderStatus = "shipping_assigned"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCancelled        OrderStatus = "cancelled"
)

// OrderPaymentStatus mirrors the payment outcome onto the order at creation time.
type OrderPaymentStatus string

const (
	OrderPaymentStatusPaid       OrderPaymentStatus = "paid"
	OrderPaymentStatusCODPending OrderPaymentStatus = "cod_pending"
)

// Address is a structured postal address captured with a payment.
type Address struct {
	Recipient  string `json:"recipient" validate:"required,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,e164"`
}

// Cart is the live, mutable cart owned by the cart collaborator.
type Cart struct {
	ID             string
	UserID         string
	Currency       string
	Items          []CartItem
	Tax            decimal.Decimal
	ShippingCharge decimal.Decimal
	Discount       decimal.Decimal
	UpdatedAt      time.Time
}

// CartItem is a single mutable line in the live cart.
type CartItem struct {
	ProductID        string
	VariantID        *string
	Quantity         int
	UnitPrice        decimal.Decimal
	VariantSurcharge decimal.Decimal
}

// CartTotals captures the computed totals of a live cart.
type CartTotals struct {
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	ShippingCharge decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
}

// Totals computes cart totals rounded to two decimal places.
func (c Cart) Totals() CartTotals {
	subtotal := decimal.Zero
	for _, item := range c.Items {
		subtotal = subtotal.Add(RoundMoney(item.UnitPrice.Add(item.VariantSurcharge).Mul(decimal.NewFromInt(int64(item.Quantity)))))
	}
	tax := RoundMoney(c.Tax)
	shipping := RoundMoney(c.ShippingCharge)
	discount := RoundMoney(c.Discount)
	return CartTotals{
		Subtotal:       subtotal,
		Tax:            tax,
		ShippingCharge: shipping,
		Discount:       discount,
		Total:          subtotal.Add(tax).Add(shipping).Sub(discount),
	}
}

// Payment is the durable record of a checkout attempt.
type Payment struct {
	ID                  string
	UserID              string
	Method              PaymentMethod
	Status              PaymentStatus
	Amount              decimal.Decimal
	Currency            string
	GatewayOrderID      *string
	GatewayPaymentID    *string
	GatewaySignature    *string
	Snapshot            CartSnapshot
	OrderID             *string
	WalletMobile        *string
	WalletOTPHash       *string
	WalletOTPExpiresAt  *time.Time
	WalletOTPVerifiedAt *time.Time
	FailureReason       *string
	Notes               *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
}

// Materialized reports whether an order has been created for the payment.
func (p Payment) Materialized() bool {
	return p.OrderID != nil && *p.OrderID != ""
}

// Order is created exactly once from a successful payment.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             string
	PaymentID          string
	Items              []OrderItem
	Status             OrderStatus
	PaymentStatus      OrderPaymentStatus
	ShippingPartner    *string
	TrackingID         *string
	ShipmentID         *string
	Total              decimal.Decimal
	Currency           string
	ShippingAddress    Address
	BillingAddress     Address
	Notes              []OrderNote
	AcceptedAt         *time.Time
	ShippingAssignedAt *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderItem is an order line copied verbatim from the cart snapshot.
type OrderItem struct {
	ProductID           string
	VariantID           *string
	Quantity            int
	UnitPriceAtPurchase decimal.Decimal
	VariantSurcharge    decimal.Decimal
	LineTotal           decimal.Decimal
}

// OrderNote records an admin note attached to a fulfillment transition.
type OrderNote struct {
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note"`
	ActorID   string      `json:"actor_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// WalletAccount is a mobile-linked stored-value balance.
type WalletAccount struct {
	Mobile    string
	UserID    string
	Balance   decimal.Decimal
	Currency  string
	UpdatedAt time.Time
}

// Shipment is the result of registering an order with the shipping partner.
type Shipment struct {
	ShipmentID string
	TrackingID string
}

// HealthStatus captures the overall state of a dependency or the service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the outcome of probing a single dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for readiness.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// RoundMoney rounds an amount to two decimal places.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
