package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/auth"
	"github.com/hanko-field/checkout-engine/internal/services"
)

var customer = &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}

func sampleOrder() domain.Order {
	variant := "500mg"
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "HF-2025-000001",
		PaymentID:     "pay_1",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.OrderPaymentStatusPaid,
		Total:         decimal.RequireFromString("623.78"),
		Currency:      "INR",
		Items: []domain.OrderItem{{
			ProductID:           "prod-1",
			VariantID:           &variant,
			Quantity:            2,
			UnitPriceAtPurchase: decimal.RequireFromString("100"),
			VariantSurcharge:    decimal.RequireFromString("5.5"),
			LineTotal:           decimal.RequireFromString("211"),
		}},
		CreatedAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestCheckoutHandlers_CreatePayment(t *testing.T) {
	var got services.CreatePaymentCommand
	gatewayOrder := "order_remote_1"
	svc := &stubPaymentService{
		createFn: func(_ context.Context, cmd services.CreatePaymentCommand) (domain.Payment, error) {
			got = cmd
			return domain.Payment{
				ID:             "pay_1",
				Status:         domain.PaymentStatusPendingVerification,
				Amount:         decimal.RequireFromString("623.7"),
				Currency:       "INR",
				GatewayOrderID: &gatewayOrder,
			}, nil
		},
	}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc).Routes)

	body := `{"cart_id":"cart-1","method":"HOSTED_GATEWAY","shipping_address":{"recipient":"A","line1":"1 Road","city":"Pune","postal_code":"411001","country":"IN"},"billing_address":{"recipient":"A","line1":"1 Road","city":"Pune","postal_code":"411001","country":"IN"}}`
	rr := do(t, handler, http.MethodPost, "/checkout/create-payment-from-cart", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-1" || got.CartID != "cart-1" || got.Method != domain.PaymentMethodHostedGateway {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.ShippingAddress.City != "Pune" {
		t.Fatalf("expected address to be decoded, got %+v", got.ShippingAddress)
	}
	payload := decodeJSON(t, rr)
	if payload["payment_id"] != "pay_1" || payload["gateway_order_id"] != "order_remote_1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["amount"] != "623.70" {
		t.Fatalf("expected fixed two decimal amount, got %v", payload["amount"])
	}
}

func TestCheckoutHandlers_RetryGateway(t *testing.T) {
	gatewayOrder := "order_recovered"
	outage := true
	svc := &stubPaymentService{
		retryFn: func(_ context.Context, cmd services.RetryGatewayOrderCommand) (domain.Payment, error) {
			if cmd.UserID != "user-1" || cmd.PaymentID != "pay_1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			if outage {
				return domain.Payment{}, &services.TransactionError{Op: "retry_gateway_order", Code: "gateway_unavailable", PaymentID: "pay_1", Err: services.ErrGatewayUnavailable}
			}
			return domain.Payment{
				ID:             "pay_1",
				Status:         domain.PaymentStatusPendingVerification,
				Amount:         decimal.RequireFromString("623.78"),
				Currency:       "INR",
				GatewayOrderID: &gatewayOrder,
			}, nil
		},
	}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc).Routes)

	rr := do(t, handler, http.MethodPost, "/checkout/retry-gateway", `{"payment_id":" pay_1 "}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during outage, got %d: %s", rr.Code, rr.Body.String())
	}
	if payload := decodeJSON(t, rr); payload["error"] != "gateway_unavailable" || payload["payment_id"] != "pay_1" {
		t.Fatalf("unexpected error payload %v", payload)
	}

	outage = false
	rr = do(t, handler, http.MethodPost, "/checkout/retry-gateway", `{"payment_id":"pay_1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["gateway_order_id"] != "order_recovered" || payload["status"] != "pending_verification" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestCheckoutHandlers_RejectsUnknownFields(t *testing.T) {
	svc := &stubPaymentService{}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc).Routes)

	rr := do(t, handler, http.MethodPost, "/checkout/confirm-cod", `{"payment_id":"pay_1","amount":"1.00"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeJSON(t, rr)["error"]; code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %v", code)
	}

	rr = do(t, handler, http.MethodPost, "/checkout/confirm-cod", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
}

func TestCheckoutHandlers_RequiresIdentity(t *testing.T) {
	handler := mount(nil, "/checkout", NewCheckoutHandlers(nil, &stubPaymentService{}).Routes)
	rr := do(t, handler, http.MethodPost, "/checkout/wallet/debit", `{"payment_id":"pay_1"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCheckoutHandlers_ConfirmHostedReturnsOrder(t *testing.T) {
	svc := &stubPaymentService{
		hostedFn: func(_ context.Context, cmd services.VerifyHostedCommand) (domain.Order, error) {
			if cmd.Signature != "sig" || cmd.GatewayOrderID != "order_remote_1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return sampleOrder(), nil
		},
	}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc).Routes)
	rr := do(t, handler, http.MethodPost, "/checkout/confirm-hosted-gateway",
		`{"payment_id":"pay_1","gateway_order_id":"order_remote_1","gateway_payment_id":"pay_remote_1","signature":"sig"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	order, ok := decodeJSON(t, rr)["order"].(map[string]any)
	if !ok {
		t.Fatalf("expected order object")
	}
	if order["order_number"] != "HF-2025-000001" || order["total"] != "623.78" {
		t.Fatalf("unexpected order %v", order)
	}
	items := order["items"].([]any)
	line := items[0].(map[string]any)
	if line["unit_price"] != "100.00" || line["variant_id"] != "500mg" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestCheckoutHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrSignatureMismatch, http.StatusBadRequest, "signature_mismatch"},
		{services.ErrOrderIDMismatch, http.StatusBadRequest, "order_id_mismatch"},
		{services.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
		{services.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{services.ErrWalletInsufficientFunds, http.StatusPaymentRequired, "wallet_insufficient_funds"},
		{services.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
		{services.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{services.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubPaymentService{
				hostedFn: func(context.Context, services.VerifyHostedCommand) (domain.Order, error) {
					return domain.Order{}, &services.TransactionError{Op: "test", Code: services.ErrorCode(tc.err), PaymentID: "pay_1", Err: tc.err}
				},
			}
			handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc).Routes)
			rr := do(t, handler, http.MethodPost, "/checkout/confirm-hosted-gateway",
				`{"payment_id":"pay_1","gateway_order_id":"o","gateway_payment_id":"p","signature":"s"}`)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			payload := decodeJSON(t, rr)
			if payload["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, payload["error"])
			}
			if payload["payment_id"] != "pay_1" {
				t.Fatalf("expected payment id in envelope, got %v", payload)
			}
		})
	}
}

func TestCheckoutHandlers_WalletFlow(t *testing.T) {
	expires := time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC)
	svc := &stubPaymentService{
		mobileFn: func(_ context.Context, cmd services.VerifyWalletMobileCommand) (services.WalletChallenge, error) {
			if cmd.Mobile != "+919876543210" {
				t.Fatalf("unexpected mobile %q", cmd.Mobile)
			}
			return services.WalletChallenge{PaymentID: cmd.PaymentID, OTPSent: true, ExpiresAt: expires}, nil
		},
		otpFn: func(_ context.Context, cmd services.VerifyWalletOTPCommand) (services.WalletChallenge, error) {
			return services.WalletChallenge{PaymentID: cmd.PaymentID, CanProceed: cmd.OTP == "123456"}, nil
		},
		debitFn: func(context.Context, services.DebitWalletCommand) (domain.Order, error) {
			return sampleOrder(), nil
		},
	}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc).Routes)

	rr := do(t, handler, http.MethodPost, "/checkout/wallet/verify-mobile", `{"payment_id":"pay_1","mobile":" +919876543210 "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify-mobile: %d %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["otp_sent"] != true || payload["expires_at"] != "2025-03-14T09:05:00Z" {
		t.Fatalf("unexpected verify-mobile payload %v", payload)
	}

	rr = do(t, handler, http.MethodPost, "/checkout/wallet/verify-otp", `{"payment_id":"pay_1","otp":"123456"}`)
	if rr.Code != http.StatusOK || decodeJSON(t, rr)["can_proceed"] != true {
		t.Fatalf("verify-otp: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, handler, http.MethodPost, "/checkout/wallet/debit", `{"payment_id":"pay_1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("debit: %d %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlers_GetAndCancelPayment(t *testing.T) {
	mobile := "+919876543210"
	payment := domain.Payment{
		ID:           "pay_1",
		UserID:       "user-1",
		Method:       domain.PaymentMethodWallet,
		Status:       domain.PaymentStatusCancelled,
		Amount:       decimal.RequireFromString("10"),
		Currency:     "INR",
		WalletMobile: &mobile,
	}
	svc := &stubPaymentService{
		getFn: func(_ context.Context, userID, paymentID string) (domain.Payment, error) {
			if userID != "user-1" || paymentID != "pay_1" {
				return domain.Payment{}, services.ErrPaymentNotFound
			}
			return payment, nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelPaymentCommand) (domain.Payment, error) {
			if cmd.Reason != "changed mind" {
				t.Fatalf("unexpected reason %q", cmd.Reason)
			}
			return payment, nil
		},
	}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc).Routes)

	rr := do(t, handler, http.MethodGet, "/checkout/payments/pay_1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decodeJSON(t, rr)["payment"].(map[string]any)
	if got["wallet_mobile"] != "*********3210" {
		t.Fatalf("expected masked mobile, got %v", got["wallet_mobile"])
	}
	if got["amount"] != "10.00" {
		t.Fatalf("unexpected amount %v", got["amount"])
	}

	rr = do(t, handler, http.MethodGet, "/checkout/payments/pay_other", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = do(t, handler, http.MethodPost, "/checkout/cancel", `{"payment_id":"pay_1","reason":"changed mind"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlers_RateLimit(t *testing.T) {
	svc := &stubPaymentService{
		debitFn: func(context.Context, services.DebitWalletCommand) (domain.Order, error) {
			return sampleOrder(), nil
		},
	}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc, WithCheckoutRateLimit(2, time.Minute)).Routes)
	for i := 0; i < 2; i++ {
		if rr := do(t, handler, http.MethodPost, "/checkout/wallet/debit", `{"payment_id":"pay_1"}`); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := do(t, handler, http.MethodPost, "/checkout/wallet/debit", `{"payment_id":"pay_1"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestCheckoutHandlers_IdempotencyMiddlewareOnlyGuardsCreate(t *testing.T) {
	calls := 0
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			next.ServeHTTP(w, r)
		})
	}
	svc := &stubPaymentService{
		createFn: func(context.Context, services.CreatePaymentCommand) (domain.Payment, error) {
			return domain.Payment{ID: "pay_1", Status: domain.PaymentStatusCreated}, nil
		},
		debitFn: func(context.Context, services.DebitWalletCommand) (domain.Order, error) {
			return sampleOrder(), nil
		},
	}
	handler := mount(customer, "/checkout", NewCheckoutHandlers(nil, svc, WithCheckoutIdempotency(mw)).Routes)

	do(t, handler, http.MethodPost, "/checkout/wallet/debit", `{"payment_id":"pay_1"}`)
	if calls != 0 {
		t.Fatalf("expected idempotency middleware to skip debit")
	}
	do(t, handler, http.MethodPost, "/checkout/create-payment-from-cart", `{"cart_id":"cart-1","method":"cod"}`)
	if calls != 1 {
		t.Fatalf("expected idempotency middleware on create, got %d calls", calls)
	}
}

func TestSimpleRateLimiter_WindowResets(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })
	if !limiter.Allow("a") {
		t.Fatalf("first call should pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("second call should be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("other keys are independent")
	}
	now = now.Add(61 * time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("window should have reset")
	}
	if newSimpleRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("non-positive limit disables the limiter")
	}
}
