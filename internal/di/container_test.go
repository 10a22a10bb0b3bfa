package di

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout-engine/internal/platform/config"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

type stubRegistry struct {
	closed bool
}

type stubPayments struct{ repositories.PaymentRepository }
type stubOrders struct{ repositories.OrderRepository }
type stubCarts struct{ repositories.CartRepository }
type stubInventory struct{ repositories.InventoryRepository }
type stubWallets struct{ repositories.WalletRepository }
type stubCounters struct{ repositories.CounterRepository }
type stubHealth struct{ repositories.HealthRepository }

func (r *stubRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *stubRegistry) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (r *stubRegistry) Payments() repositories.PaymentRepository { return stubPayments{} }
func (r *stubRegistry) Orders() repositories.OrderRepository { return stubOrders{} }
func (r *stubRegistry) Carts() repositories.CartRepository { return stubCarts{} }
func (r *stubRegistry) Inventory() repositories.InventoryRepository { return stubInventory{} }
func (r *stubRegistry) Wallets() repositories.WalletRepository { return stubWallets{} }
func (r *stubRegistry) Counters() repositories.CounterRepository { return stubCounters{} }
func (r *stubRegistry) Health() repositories.HealthRepository { return stubHealth{} }

type stubRemoteOrders struct{}

func (stubRemoteOrders) CreateRemoteOrder(context.Context, decimal.Decimal, string, string) (string, error) {
	return "order_remote_1", nil
}

func testConfig() config.Config {
	return config.Config{
		Gateway:    config.GatewayConfig{BaseURL: "https://gateway.invalid", KeyID: "rzp_test", KeySecret: "secret", Timeout: time.Second},
		Wallet:     config.WalletConfig{OTPTTL: 5 * time.Minute, OTPLength: 6},
		RateLimits: config.RateLimitConfig{VerifyAttempts: 5, VerifyWindow: 15 * time.Minute},
	}
}

func TestNewContainer_WiresServices(t *testing.T) {
	reg := &stubRegistry{}
	container, err := NewContainer(context.Background(), testConfig(), reg, Dependencies{RemoteOrders: stubRemoteOrders{}})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	svc := container.Services
	if svc.Payments == nil || svc.Fulfillment == nil || svc.Materializer == nil || svc.Snapshots == nil || svc.Counters == nil {
		t.Fatalf("expected all services to be wired: %+v", svc)
	}
	if container.Metrics == nil {
		t.Fatalf("expected metrics")
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry to be closed")
	}
}

func TestNewContainer_BuildsGatewayClientFromConfig(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), &stubRegistry{}, Dependencies{}); err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	cfg := testConfig()
	cfg.Gateway.KeySecret = ""
	if _, err := NewContainer(context.Background(), cfg, &stubRegistry{}, Dependencies{}); err == nil {
		t.Fatalf("expected missing gateway credentials to fail")
	}
}

func TestNewContainer_RequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil, Dependencies{}); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}
