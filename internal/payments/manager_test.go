package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
)

type stubRemoteOrders struct {
	createFn func(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error)
}

func (s stubRemoteOrders) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error) {
	return s.createFn(ctx, amount, currency, receipt)
}

func TestManagerDispatchesByMethod(t *testing.T) {
	hosted, err := NewHostedGateway(stubRemoteOrders{createFn: func(_ context.Context, amount decimal.Decimal, currency, receipt string) (string, error) {
		if receipt != "pay_1" || currency != "INR" || !amount.Equal(decimal.RequireFromString("600.00")) {
			t.Fatalf("unexpected remote order args %s %s %s", amount, currency, receipt)
		}
		return "order_abc", nil
	}}, "secret")
	if err != nil {
		t.Fatalf("new hosted gateway: %v", err)
	}
	mgr, err := NewManager(hosted, NewCODGateway())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	init, err := mgr.Initiate(context.Background(), domain.PaymentMethodHostedGateway, InitiateRequest{
		PaymentID: "pay_1", Amount: decimal.RequireFromString("600.00"), Currency: "INR",
	})
	if err != nil {
		t.Fatalf("initiate hosted: %v", err)
	}
	if init.Status != domain.PaymentStatusPendingVerification || init.GatewayOrderID == nil || *init.GatewayOrderID != "order_abc" {
		t.Fatalf("unexpected initiation %+v", init)
	}

	init, err = mgr.Initiate(context.Background(), domain.PaymentMethodCOD, InitiateRequest{PaymentID: "pay_2"})
	if err != nil {
		t.Fatalf("initiate cod: %v", err)
	}
	if init.Status != domain.PaymentStatusCreated || init.GatewayOrderID != nil {
		t.Fatalf("unexpected cod initiation %+v", init)
	}

	if _, err := mgr.Initiate(context.Background(), domain.PaymentMethodWallet, InitiateRequest{}); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestNewManagerRejectsDuplicates(t *testing.T) {
	if _, err := NewManager(NewCODGateway(), NewCODGateway()); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, err := NewManager(); err == nil {
		t.Fatal("expected error without gateways")
	}
}

var errRemoteDown = errors.New("remote orders unavailable")

func TestHostedInitiateWrapsClientFailures(t *testing.T) {
	hosted, _ := NewHostedGateway(stubRemoteOrders{createFn: func(context.Context, decimal.Decimal, string, string) (string, error) {
		return "", errRemoteDown
	}}, "secret")

	_, err := hosted.Initiate(context.Background(), InitiateRequest{PaymentID: "pay_1", Currency: "INR"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if !errors.Is(err, errRemoteDown) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}

func TestHostedConfirmTieBreak(t *testing.T) {
	hosted, _ := NewHostedGateway(stubRemoteOrders{}, "merchant-secret")
	stored := "order_current"
	payment := domain.Payment{Method: domain.PaymentMethodHostedGateway, GatewayOrderID: &stored}

	// Valid signature, but for a different (older) gateway order.
	staleSig := Sign("merchant-secret", "order_stale", "pay_gw_1")
	_, err := hosted.Confirm(context.Background(), ConfirmRequest{
		Payment: payment, GatewayOrderID: "order_stale", GatewayPaymentID: "pay_gw_1", Signature: staleSig,
	})
	if !errors.Is(err, ErrOrderIDMismatch) {
		t.Fatalf("expected ErrOrderIDMismatch, got %v", err)
	}

	_, err = hosted.Confirm(context.Background(), ConfirmRequest{
		Payment: payment, GatewayOrderID: stored, GatewayPaymentID: "pay_gw_1", Signature: staleSig,
	})
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}

	good := Sign("merchant-secret", stored, "pay_gw_1")
	outcome, err := hosted.Confirm(context.Background(), ConfirmRequest{
		Payment: payment, GatewayOrderID: stored, GatewayPaymentID: "pay_gw_1", Signature: good,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if *outcome.GatewayPaymentID != "pay_gw_1" || *outcome.GatewaySignature != good {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestHostedConfirmRequiresStoredOrderID(t *testing.T) {
	hosted, _ := NewHostedGateway(stubRemoteOrders{}, "merchant-secret")
	_, err := hosted.Confirm(context.Background(), ConfirmRequest{
		Payment:        domain.Payment{Method: domain.PaymentMethodHostedGateway},
		GatewayOrderID: "",
	})
	if !errors.Is(err, ErrOrderIDMismatch) {
		t.Fatalf("expected ErrOrderIDMismatch, got %v", err)
	}
}

func TestSignatureIsCaseInsensitiveHex(t *testing.T) {
	sig := Sign("s3cr3t", "order_1", "pay_1")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifySignature("s3cr3t", "order_1", "pay_1", " "+strings.ToUpper(sig)+" ") {
		t.Fatal("expected upper-case signature to verify")
	}
	if VerifySignature("other", "order_1", "pay_1", sig) {
		t.Fatal("expected wrong secret to fail")
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]int64{"INR": 60000, "JPY": 600, "USD": 60000}
	for code, want := range cases {
		got, err := MinorUnits(decimal.RequireFromString("600.00"), code)
		if err != nil {
			t.Fatalf("%s: %v", code, err)
		}
		if got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
	if _, err := MinorUnits(decimal.NewFromInt(1), "XXXX"); err == nil {
		t.Fatal("expected invalid currency error")
	}
}

func TestCODConfirmAlwaysVerifies(t *testing.T) {
	if _, err := NewCODGateway().Confirm(context.Background(), ConfirmRequest{Now: time.Now()}); err != nil {
		t.Fatalf("cod confirm: %v", err)
	}
}
