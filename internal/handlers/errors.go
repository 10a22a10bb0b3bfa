package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/hanko-field/checkout-engine/internal/platform/httpx"
	"github.com/hanko-field/checkout-engine/internal/services"
)

var errorStatuses = map[string]int{
	"cart_empty":                http.StatusBadRequest,
	"address_invalid":           http.StatusBadRequest,
	"invalid_input":             http.StatusBadRequest,
	"unsupported_method":        http.StatusBadRequest,
	"signature_mismatch":        http.StatusBadRequest,
	"order_id_mismatch":         http.StatusBadRequest,
	"otp_invalid":               http.StatusBadRequest,
	"otp_expired":               http.StatusBadRequest,
	"gateway_unavailable":       http.StatusServiceUnavailable,
	"insufficient_stock":        http.StatusConflict,
	"wallet_insufficient_funds": http.StatusPaymentRequired,
	"wallet_account_not_found":  http.StatusNotFound,
	"invalid_state_transition":  http.StatusConflict,
	"payment_not_found":         http.StatusNotFound,
	"order_not_found":           http.StatusNotFound,
	"too_many_attempts":         http.StatusTooManyRequests,
}

// writeServiceError translates a service error into the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request cancelled or timed out", http.StatusGatewayTimeout))
		return
	}

	code := services.ErrorCode(err)
	status, ok := errorStatuses[code]
	message := err.Error()
	if !ok {
		code = "internal"
		status = http.StatusInternalServerError
		message = "internal server error"
	}

	httpErr := httpx.NewError(code, message, status)
	var txErr *services.TransactionError
	if errors.As(err, &txErr) {
		httpErr = httpErr.WithResource(txErr.PaymentID, txErr.OrderID)
	}
	httpx.WriteError(ctx, w, httpErr)
}
