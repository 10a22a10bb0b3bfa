package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"golang.org/x/text/currency"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

var addressValidator = validator.New(validator.WithRequiredStructEnabled())

// SnapshotBuilderDeps bundles collaborators for the cart snapshot builder.
type SnapshotBuilderDeps struct {
	Carts     repositories.CartRepository
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
}

type snapshotBuilder struct {
	carts     repositories.CartRepository
	inventory repositories.InventoryRepository
	now       func() time.Time
}

// NewSnapshotBuilder constructs a SnapshotBuilder over the cart and inventory collaborators.
func NewSnapshotBuilder(deps SnapshotBuilderDeps) (SnapshotBuilder, error) {
	if deps.Carts == nil {
		return nil, errors.New("snapshot builder: cart repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("snapshot builder: inventory repository is required")
	}
	return &snapshotBuilder{
		carts:     deps.Carts,
		inventory: deps.Inventory,
		now:       utcClock(deps.Clock),
	}, nil
}

// Build freezes the caller's cart. It reads but never mutates cart or stock.
func (b *snapshotBuilder) Build(ctx context.Context, req SnapshotRequest) (domain.CartSnapshot, error) {
	userID := strings.TrimSpace(req.UserID)
	cartID := strings.TrimSpace(req.CartID)
	if userID == "" || cartID == "" {
		return domain.CartSnapshot{}, fmt.Errorf("%w: user and cart are required", ErrInvalidInput)
	}

	shipping := normalizeAddress(req.ShippingAddress)
	billing := normalizeAddress(req.BillingAddress)
	if err := validateAddress("shipping_address", shipping); err != nil {
		return domain.CartSnapshot{}, err
	}
	if err := validateAddress("billing_address", billing); err != nil {
		return domain.CartSnapshot{}, err
	}

	cart, err := b.carts.GetCart(ctx, cartID)
	if err != nil {
		return domain.CartSnapshot{}, mapRepositoryError(err, ErrPaymentNotFound)
	}
	if cart.UserID != userID {
		return domain.CartSnapshot{}, fmt.Errorf("%w: cart %s", ErrPaymentNotFound, cartID)
	}
	if len(cart.Items) == 0 {
		return domain.CartSnapshot{}, ErrCartEmpty
	}

	unit, err := currency.ParseISO(strings.TrimSpace(cart.Currency))
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("%w: cart currency %q", ErrInvalidInput, cart.Currency)
	}

	totals := cart.Totals()
	snapshot := domain.CartSnapshot{
		CartID:   cart.ID,
		UserID:   cart.UserID,
		Currency: unit.String(),
		Items: lo.Map(cart.Items, func(item domain.CartItem, _ int) domain.SnapshotLine {
			return domain.SnapshotLine{
				ProductID:        item.ProductID,
				VariantID:        cloneString(item.VariantID),
				Quantity:         item.Quantity,
				UnitPrice:        domain.RoundMoney(item.UnitPrice),
				VariantSurcharge: domain.RoundMoney(item.VariantSurcharge),
			}
		}),
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		ShippingCharge:  totals.ShippingCharge,
		Discount:        totals.Discount,
		Total:           totals.Total,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		CapturedAt:      b.now(),
	}
	if err := snapshot.Validate(); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	for _, demand := range stockDemands(snapshot) {
		ok, err := b.inventory.CheckStock(ctx, demand.productID, demand.variantID, demand.quantity)
		if err != nil {
			return domain.CartSnapshot{}, err
		}
		if !ok {
			return domain.CartSnapshot{}, fmt.Errorf("%w: %s", ErrInsufficientStock, demand.key)
		}
	}
	return snapshot, nil
}

func normalizeAddress(addr domain.Address) domain.Address {
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.Line2 = strings.TrimSpace(addr.Line2)
	addr.City = strings.TrimSpace(addr.City)
	addr.State = strings.TrimSpace(addr.State)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
	addr.Phone = strings.TrimSpace(addr.Phone)
	return addr
}

func validateAddress(name string, addr domain.Address) error {
	err := addressValidator.Struct(addr)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fields := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
			return strings.ToLower(fe.Field()) + ":" + fe.Tag()
		})
		return fmt.Errorf("%w: %s %s", ErrAddressInvalid, name, strings.Join(fields, ","))
	}
	return fmt.Errorf("%w: %s: %v", ErrAddressInvalid, name, err)
}

type stockDemand struct {
	key       string
	productID string
	variantID *string
	quantity  int
}

// stockDemands merges snapshot lines per stock row, ordered by key so that concurrent
// materializations lock rows in the same order.
func stockDemands(snapshot domain.CartSnapshot) []stockDemand {
	index := make(map[string]int, len(snapshot.Items))
	demands := make([]stockDemand, 0, len(snapshot.Items))
	for _, line := range snapshot.Items {
		key := line.StockKey()
		if i, ok := index[key]; ok {
			demands[i].quantity += line.Quantity
			continue
		}
		index[key] = len(demands)
		demands = append(demands, stockDemand{
			key:       key,
			productID: line.ProductID,
			variantID: cloneString(line.VariantID),
			quantity:  line.Quantity,
		})
	}
	sort.Slice(demands, func(i, j int) bool { return demands[i].key < demands[j].key })
	return demands
}

func cloneString(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	out := *v
	return &out
}
