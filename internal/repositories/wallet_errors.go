package repositories

import "fmt"

// WalletErrorCode enumerates wallet repository failures.
type WalletErrorCode string

const (
	WalletErrorAccountNotFound   WalletErrorCode = "wallet_account_not_found"
	WalletErrorInsufficientFunds WalletErrorCode = "wallet_insufficient_funds"
	WalletErrorInvalidAmount     WalletErrorCode = "wallet_invalid_amount"
)

// WalletError reports a wallet balance failure for a mobile number.
type WalletError struct {
	Code   WalletErrorCode
	Mobile string
}

func (e *WalletError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, maskMobile(e.Mobile))
}

// NewWalletError constructs a typed wallet error.
func NewWalletError(code WalletErrorCode, mobile string) *WalletError {
	return &WalletError{Code: code, Mobile: mobile}
}

func maskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return "****"
	}
	return "****" + mobile[len(mobile)-4:]
}
