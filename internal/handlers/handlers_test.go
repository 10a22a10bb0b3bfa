package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/auth"
	"github.com/hanko-field/checkout-engine/internal/services"
)

type stubPaymentService struct {
	createFn    func(context.Context, services.CreatePaymentCommand) (domain.Payment, error)
	retryFn     func(context.Context, services.RetryGatewayOrderCommand) (domain.Payment, error)
	hostedFn    func(context.Context, services.VerifyHostedCommand) (domain.Order, error)
	codFn       func(context.Context, services.ConfirmCODCommand) (domain.Order, error)
	mobileFn    func(context.Context, services.VerifyWalletMobileCommand) (services.WalletChallenge, error)
	otpFn       func(context.Context, services.VerifyWalletOTPCommand) (services.WalletChallenge, error)
	debitFn     func(context.Context, services.DebitWalletCommand) (domain.Order, error)
	cancelFn    func(context.Context, services.CancelPaymentCommand) (domain.Payment, error)
	getFn       func(context.Context, string, string) (domain.Payment, error)
	reconcileFn func(context.Context, string) (domain.Order, error)
}

func (s *stubPaymentService) CreatePaymentFromCart(ctx context.Context, cmd services.CreatePaymentCommand) (domain.Payment, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubPaymentService) RetryGatewayOrder(ctx context.Context, cmd services.RetryGatewayOrderCommand) (domain.Payment, error) {
	return s.retryFn(ctx, cmd)
}

func (s *stubPaymentService) VerifyHostedGatewayPayment(ctx context.Context, cmd services.VerifyHostedCommand) (domain.Order, error) {
	return s.hostedFn(ctx, cmd)
}

func (s *stubPaymentService) ConfirmCOD(ctx context.Context, cmd services.ConfirmCODCommand) (domain.Order, error) {
	return s.codFn(ctx, cmd)
}

func (s *stubPaymentService) VerifyWalletMobile(ctx context.Context, cmd services.VerifyWalletMobileCommand) (services.WalletChallenge, error) {
	return s.mobileFn(ctx, cmd)
}

func (s *stubPaymentService) VerifyWalletOTP(ctx context.Context, cmd services.VerifyWalletOTPCommand) (services.WalletChallenge, error) {
	return s.otpFn(ctx, cmd)
}

func (s *stubPaymentService) DebitWallet(ctx context.Context, cmd services.DebitWalletCommand) (domain.Order, error) {
	return s.debitFn(ctx, cmd)
}

func (s *stubPaymentService) CancelPayment(ctx context.Context, cmd services.CancelPaymentCommand) (domain.Payment, error) {
	return s.cancelFn(ctx, cmd)
}

func (s *stubPaymentService) GetPayment(ctx context.Context, userID, paymentID string) (domain.Payment, error) {
	return s.getFn(ctx, userID, paymentID)
}

func (s *stubPaymentService) ReconcilePayment(ctx context.Context, paymentID string) (domain.Order, error) {
	return s.reconcileFn(ctx, paymentID)
}

type stubFulfillmentService struct {
	acceptFn   func(context.Context, services.AcceptOrderCommand) (domain.Order, error)
	assignFn   func(context.Context, services.AssignShippingCommand) (domain.Order, error)
	deliverFn  func(context.Context, services.MarkDeliveredCommand) (domain.Order, error)
	cancelFn   func(context.Context, services.CancelOrderCommand) (domain.Order, error)
	getOrderFn func(context.Context, string) (domain.Order, error)
}

func (s *stubFulfillmentService) Accept(ctx context.Context, cmd services.AcceptOrderCommand) (domain.Order, error) {
	return s.acceptFn(ctx, cmd)
}

func (s *stubFulfillmentService) AssignShipping(ctx context.Context, cmd services.AssignShippingCommand) (domain.Order, error) {
	return s.assignFn(ctx, cmd)
}

func (s *stubFulfillmentService) MarkDelivered(ctx context.Context, cmd services.MarkDeliveredCommand) (domain.Order, error) {
	return s.deliverFn(ctx, cmd)
}

func (s *stubFulfillmentService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	return s.cancelFn(ctx, cmd)
}

func (s *stubFulfillmentService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.getOrderFn(ctx, orderID)
}

func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func mount(identity *auth.Identity, path string, routes RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Use(withIdentity(identity))
	r.Route(path, func(group chi.Router) {
		routes(group)
	})
	return r
}
