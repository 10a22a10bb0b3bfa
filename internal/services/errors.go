package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCartEmpty indicates the cart has no lines to check out.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrAddressInvalid indicates a shipping or billing address failed validation.
	ErrAddressInvalid = errors.New("checkout: address invalid")
	// ErrInvalidInput indicates a malformed command.
	ErrInvalidInput = errors.New("checkout: invalid input")
	// ErrUnsupportedMethod indicates an unknown payment method.
	ErrUnsupportedMethod = errors.New("checkout: unsupported payment method")
	// ErrSignatureMismatch indicates the gateway callback signature did not verify.
	ErrSignatureMismatch = errors.New("checkout: signature mismatch")
	// ErrOrderIDMismatch indicates the caller echoed a gateway order id other than the stored one.
	ErrOrderIDMismatch = errors.New("checkout: gateway order id mismatch")
	// ErrOTPInvalid indicates the wallet OTP was wrong.
	ErrOTPInvalid = errors.New("checkout: otp invalid")
	// ErrOTPExpired indicates the wallet OTP lapsed; the flow restarts at verify-mobile.
	ErrOTPExpired = errors.New("checkout: otp expired")
	// ErrGatewayUnavailable indicates the gateway could not be reached; the same payment can be retried.
	ErrGatewayUnavailable = errors.New("checkout: gateway unavailable")
	// ErrInsufficientStock indicates at least one line cannot be fulfilled.
	ErrInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrWalletInsufficientFunds indicates the wallet balance does not cover the payment.
	ErrWalletInsufficientFunds = errors.New("checkout: wallet insufficient funds")
	// ErrWalletAccountNotFound indicates no wallet is linked to the mobile.
	ErrWalletAccountNotFound = errors.New("checkout: wallet account not found")
	// ErrInvalidStateTransition indicates the operation is not allowed in the current status.
	ErrInvalidStateTransition = errors.New("checkout: invalid state transition")
	// ErrPaymentNotFound indicates the payment (or the cart behind it) does not exist for the caller.
	ErrPaymentNotFound = errors.New("checkout: payment not found")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("checkout: order not found")
	// ErrTooManyAttempts indicates verification attempts for the payment are rate limited.
	ErrTooManyAttempts = errors.New("checkout: too many attempts")
	// ErrConcurrencyConflict is raised when a concurrent materialization won the race. It is
	// resolved inside the materializer and never returned to callers.
	ErrConcurrencyConflict = errors.New("checkout: concurrency conflict")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrCartEmpty, "cart_empty"},
	{ErrAddressInvalid, "address_invalid"},
	{ErrInvalidInput, "invalid_input"},
	{ErrUnsupportedMethod, "unsupported_method"},
	{ErrSignatureMismatch, "signature_mismatch"},
	{ErrOrderIDMismatch, "order_id_mismatch"},
	{ErrOTPInvalid, "otp_invalid"},
	{ErrOTPExpired, "otp_expired"},
	{ErrGatewayUnavailable, "gateway_unavailable"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrWalletInsufficientFunds, "wallet_insufficient_funds"},
	{ErrWalletAccountNotFound, "wallet_account_not_found"},
	{ErrInvalidStateTransition, "invalid_state_transition"},
	{ErrPaymentNotFound, "payment_not_found"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrTooManyAttempts, "too_many_attempts"},
	{ErrConcurrencyConflict, "concurrency_conflict"},
}

// TransactionError carries the payment and order a checkout failure relates to, plus a machine
// readable reason code.
type TransactionError struct {
	Op        string
	Code      string
	PaymentID string
	OrderID   string
	Err       error
}

func (e *TransactionError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Op)
	if e.PaymentID != "" {
		fmt.Fprintf(&b, " payment=%s", e.PaymentID)
	}
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransactionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode returns the reason code of the first known sentinel in err's chain, or "internal".
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}

// wrapError attaches ids to err. An existing TransactionError keeps its op and gains missing ids.
func wrapError(op, paymentID, orderID string, err error) error {
	if err == nil {
		return nil
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		if txErr.PaymentID == "" {
			txErr.PaymentID = paymentID
		}
		if txErr.OrderID == "" {
			txErr.OrderID = orderID
		}
		return err
	}
	return &TransactionError{
		Op:        op,
		Code:      ErrorCode(err),
		PaymentID: paymentID,
		OrderID:   orderID,
		Err:       err,
	}
}
