package handlers

import (
	"time"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/observability"
)

type paymentPayload struct {
	PaymentID      string            `json:"payment_id"`
	Method         string            `json:"method"`
	Status         string            `json:"status"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	GatewayOrderID string            `json:"gateway_order_id,omitempty"`
	OrderID        string            `json:"order_id,omitempty"`
	WalletMobile   string            `json:"wallet_mobile,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Items          []lineItemPayload `json:"items"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	CompletedAt    string            `json:"completed_at,omitempty"`
}

type lineItemPayload struct {
	ProductID        string `json:"product_id"`
	VariantID        string `json:"variant_id,omitempty"`
	Quantity         int    `json:"quantity"`
	UnitPrice        string `json:"unit_price"`
	VariantSurcharge string `json:"variant_surcharge"`
	LineTotal        string `json:"line_total"`
}

type orderNotePayload struct {
	Status    string `json:"status"`
	Note      string `json:"note"`
	ActorID   string `json:"actor_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

type orderPayload struct {
	OrderID            string             `json:"order_id"`
	OrderNumber        string             `json:"order_number"`
	PaymentID          string             `json:"payment_id"`
	UserID             string             `json:"user_id"`
	Status             string             `json:"status"`
	PaymentStatus      string             `json:"payment_status"`
	Total              string             `json:"total"`
	Currency           string             `json:"currency"`
	Items              []lineItemPayload  `json:"items"`
	ShippingAddress    domain.Address     `json:"shipping_address"`
	BillingAddress     domain.Address     `json:"billing_address"`
	ShippingPartner    string             `json:"shipping_partner,omitempty"`
	TrackingID         string             `json:"tracking_id,omitempty"`
	ShipmentID         string             `json:"shipment_id,omitempty"`
	Notes              []orderNotePayload `json:"notes"`
	AcceptedAt         string             `json:"accepted_at,omitempty"`
	ShippingAssignedAt string             `json:"shipping_assigned_at,omitempty"`
	DeliveredAt        string             `json:"delivered_at,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

func buildPaymentPayload(p domain.Payment) paymentPayload {
	items := make([]lineItemPayload, 0, len(p.Snapshot.Items))
	for _, line := range p.Snapshot.Items {
		items = append(items, lineItemPayload{
			ProductID:        line.ProductID,
			VariantID:        derefString(line.VariantID),
			Quantity:         line.Quantity,
			UnitPrice:        line.UnitPrice.StringFixed(2),
			VariantSurcharge: line.VariantSurcharge.StringFixed(2),
			LineTotal:        line.LineTotal().StringFixed(2),
		})
	}
	payload := paymentPayload{
		PaymentID:      p.ID,
		Method:         string(p.Method),
		Status:         string(p.Status),
		Amount:         p.Amount.StringFixed(2),
		Currency:       p.Currency,
		GatewayOrderID: derefString(p.GatewayOrderID),
		OrderID:        derefString(p.OrderID),
		FailureReason:  derefString(p.FailureReason),
		Items:          items,
		CreatedAt:      formatTime(p.CreatedAt),
		UpdatedAt:      formatTime(p.UpdatedAt),
		CompletedAt:    formatTimePtr(p.CompletedAt),
	}
	if p.WalletMobile != nil {
		payload.WalletMobile = observability.MaskMobile(*p.WalletMobile)
	}
	return payload
}

func buildOrderPayload(o domain.Order) orderPayload {
	items := make([]lineItemPayload, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemPayload{
			ProductID:        item.ProductID,
			VariantID:        derefString(item.VariantID),
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPriceAtPurchase.StringFixed(2),
			VariantSurcharge: item.VariantSurcharge.StringFixed(2),
			LineTotal:        item.LineTotal.StringFixed(2),
		})
	}
	notes := make([]orderNotePayload, 0, len(o.Notes))
	for _, note := range o.Notes {
		notes = append(notes, orderNotePayload{
			Status:    string(note.Status),
			Note:      note.Note,
			ActorID:   note.ActorID,
			CreatedAt: formatTime(note.CreatedAt),
		})
	}
	return orderPayload{
		OrderID:            o.ID,
		OrderNumber:        o.OrderNumber,
		PaymentID:          o.PaymentID,
		UserID:             o.UserID,
		Status:             string(o.Status),
		PaymentStatus:      string(o.PaymentStatus),
		Total:              o.Total.StringFixed(2),
		Currency:           o.Currency,
		Items:              items,
		ShippingAddress:    o.ShippingAddress,
		BillingAddress:     o.BillingAddress,
		ShippingPartner:    derefString(o.ShippingPartner),
		TrackingID:         derefString(o.TrackingID),
		ShipmentID:         derefString(o.ShipmentID),
		Notes:              notes,
		AcceptedAt:         formatTimePtr(o.AcceptedAt),
		ShippingAssignedAt: formatTimePtr(o.ShippingAssignedAt),
		DeliveredAt:        formatTimePtr(o.DeliveredAt),
		CancelledAt:        formatTimePtr(o.CancelledAt),
		CreatedAt:          formatTime(o.CreatedAt),
		UpdatedAt:          formatTime(o.UpdatedAt),
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
