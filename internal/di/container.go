package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout-engine/internal/payments"
	"github.com/hanko-field/checkout-engine/internal/platform/config"
	"github.com/hanko-field/checkout-engine/internal/platform/observability"
	"github.com/hanko-field/checkout-engine/internal/platform/ratelimit"
	"github.com/hanko-field/checkout-engine/internal/repositories"
	"github.com/hanko-field/checkout-engine/internal/services"
	"github.com/hanko-field/checkout-engine/internal/shipping"
)

const tracerName = "github.com/hanko-field/checkout-engine/internal/services"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Payments     services.PaymentService
	Fulfillment  services.FulfillmentService
	Materializer services.OrderMaterializer
	Snapshots    services.SnapshotBuilder
	Counters     services.CounterService
}

// Container wires repositories, gateways, and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *observability.CheckoutMetrics
}

// Dependencies carries collaborators built outside the container, usually from external clients.
// Nil fields fall back to local implementations.
type Dependencies struct {
	Logger        *zap.Logger
	RemoteOrders  payments.RemoteOrderClient
	OTPSender     payments.OTPSender
	Shipments     shipping.Provider
	Events        services.EventPublisher
	Limiter       services.AttemptLimiter
	Clock         func() time.Time
	GatewaySecret string
}

// NewContainer constructs the runtime dependencies over the provided repository registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	metrics, err := observability.NewCheckoutMetrics()
	if err != nil {
		return nil, fmt.Errorf("build checkout metrics: %w", err)
	}

	svc, err := buildServices(ctx, cfg, reg, deps, metrics)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Metrics:      metrics,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies, metrics *observability.CheckoutMetrics) (Services, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	gateways, wallet, err := buildGateways(cfg, deps, logger)
	if err != nil {
		return Services{}, err
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimits.VerifyAttempts, cfg.RateLimits.VerifyWindow, clock)
	}

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}

	snapshots, err := services.NewSnapshotBuilder(services.SnapshotBuilderDeps{
		Carts:     reg.Carts(),
		Inventory: reg.Inventory(),
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build snapshot builder: %w", err)
	}

	materializer, err := services.NewOrderMaterializer(services.OrderMaterializerDeps{
		Payments:   reg.Payments(),
		Orders:     reg.Orders(),
		Carts:      reg.Carts(),
		Inventory:  reg.Inventory(),
		Counters:   counters,
		UnitOfWork: reg,
		Events:     deps.Events,
		Metrics:    metrics,
		Tracer:     otel.Tracer(tracerName),
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("materializer")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order materializer: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:     reg.Payments(),
		Wallets:      reg.Wallets(),
		Snapshots:    snapshots,
		Gateways:     gateways,
		Wallet:       wallet,
		Materializer: materializer,
		Limiter:      limiter,
		UnitOfWork:   reg,
		Events:       deps.Events,
		Metrics:      metrics,
		Clock:        clock,
		Logger:       observability.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:     reg.Orders(),
		Shipments:  deps.Shipments,
		UnitOfWork: reg,
		Events:     deps.Events,
		Metrics:    metrics,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("fulfillment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}

	return Services{
		Payments:     paymentSvc,
		Fulfillment:  fulfillment,
		Materializer: materializer,
		Snapshots:    snapshots,
		Counters:     counters,
	}, nil
}

func buildGateways(cfg config.Config, deps Dependencies, logger *zap.Logger) (*payments.Manager, *payments.WalletGateway, error) {
	remote := deps.RemoteOrders
	if remote == nil {
		client, err := payments.NewRazorpayClient(payments.RazorpayConfig{
			BaseURL:    cfg.Gateway.BaseURL,
			KeyID:      cfg.Gateway.KeyID,
			KeySecret:  cfg.Gateway.KeySecret,
			Timeout:    cfg.Gateway.Timeout,
			MaxRetries: cfg.Gateway.MaxRetries,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build gateway client: %w", err)
		}
		remote = client
	}

	secret := strings.TrimSpace(deps.GatewaySecret)
	if secret == "" {
		secret = cfg.Gateway.KeySecret
	}
	hosted, err := payments.NewHostedGateway(remote, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("build hosted gateway: %w", err)
	}

	sender := deps.OTPSender
	if sender == nil {
		sender = payments.NewLogOTPSender(logger.Named("otp"))
	}
	hashKey := strings.TrimSpace(cfg.Wallet.OTPHashKey)
	if hashKey == "" {
		hashKey = secret
	}
	wallet, err := payments.NewWalletGateway(payments.WalletGatewayConfig{
		Sender:  sender,
		HashKey: hashKey,
		TTL:     cfg.Wallet.OTPTTL,
		Length:  cfg.Wallet.OTPLength,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build wallet gateway: %w", err)
	}

	manager, err := payments.NewManager(hosted, payments.NewCODGateway(), wallet)
	if err != nil {
		return nil, nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, wallet, nil
}
