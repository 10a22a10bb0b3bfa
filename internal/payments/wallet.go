package payments

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
)

const (
	defaultOTPLength = 6
	defaultOTPTTL    = 5 * time.Minute
)

// OTPSender delivers a one-time code to the wallet holder's mobile.
type OTPSender interface {
	SendOTP(ctx context.Context, mobile, code string, expiresAt time.Time) error
}

// Challenge is an issued OTP. Only its keyed hash is persisted.
type Challenge struct {
	Hash      string
	ExpiresAt time.Time
}

// WalletGatewayConfig configures WalletGateway.
type WalletGatewayConfig struct {
	Sender OTPSender
	// HashKey keys the HMAC stored in place of the code.
	HashKey string
	TTL     time.Duration
	Length  int
	Random  io.Reader
}

// WalletGateway settles payments by debiting a mobile-linked wallet after OTP verification.
type WalletGateway struct {
	sender  OTPSender
	hashKey []byte
	ttl     time.Duration
	length  int
	random  io.Reader
}

// NewWalletGateway constructs a WalletGateway.
func NewWalletGateway(cfg WalletGatewayConfig) (*WalletGateway, error) {
	if cfg.Sender == nil {
		return nil, errors.New("payments: wallet otp sender is required")
	}
	if strings.TrimSpace(cfg.HashKey) == "" {
		return nil, errors.New("payments: wallet otp hash key is required")
	}
	g := &WalletGateway{
		sender:  cfg.Sender,
		hashKey: []byte(cfg.HashKey),
		ttl:     cfg.TTL,
		length:  cfg.Length,
		random:  cfg.Random,
	}
	if g.ttl <= 0 {
		g.ttl = defaultOTPTTL
	}
	if g.length <= 0 {
		g.length = defaultOTPLength
	}
	if g.random == nil {
		g.random = rand.Reader
	}
	return g, nil
}

func (*WalletGateway) Method() domain.PaymentMethod { return domain.PaymentMethodWallet }

// Initiate leaves the payment created until the mobile is verified.
func (*WalletGateway) Initiate(context.Context, InitiateRequest) (Initiation, error) {
	return Initiation{Status: domain.PaymentStatusCreated}, nil
}

// Confirm allows the debit only after a verified OTP whose window is still open.
func (*WalletGateway) Confirm(_ context.Context, req ConfirmRequest) (VerifiedOutcome, error) {
	p := req.Payment
	if p.WalletOTPVerifiedAt == nil {
		return VerifiedOutcome{}, ErrOTPNotVerified
	}
	if p.WalletOTPExpiresAt == nil || !req.Now.Before(*p.WalletOTPExpiresAt) {
		return VerifiedOutcome{}, ErrOTPExpired
	}
	return VerifiedOutcome{}, nil
}

// IssueChallenge generates a numeric code, sends it to mobile and returns its hash and expiry.
func (g *WalletGateway) IssueChallenge(ctx context.Context, mobile string, now time.Time) (Challenge, error) {
	code, err := g.generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("payments: generate otp: %w", err)
	}
	expires := now.Add(g.ttl)
	if err := g.sender.SendOTP(ctx, mobile, code, expires); err != nil {
		return Challenge{}, fmt.Errorf("%w: send otp: %w", ErrGatewayUnavailable, err)
	}
	return Challenge{Hash: g.HashOTP(code), ExpiresAt: expires}, nil
}

// CheckOTP validates otp against the challenge stored on the payment.
func (g *WalletGateway) CheckOTP(p domain.Payment, otp string, now time.Time) error {
	if p.WalletOTPHash == nil || p.WalletOTPExpiresAt == nil {
		return ErrOTPNotVerified
	}
	if !now.Before(*p.WalletOTPExpiresAt) {
		return ErrOTPExpired
	}
	otp = strings.TrimSpace(otp)
	if len(otp) != g.length {
		return ErrOTPInvalid
	}
	if subtle.ConstantTimeCompare([]byte(g.HashOTP(otp)), []byte(*p.WalletOTPHash)) != 1 {
		return ErrOTPInvalid
	}
	return nil
}

// HashOTP returns the hex HMAC-SHA256 of a code under the gateway's hash key.
func (g *WalletGateway) HashOTP(code string) string {
	mac := hmac.New(sha256.New, g.hashKey)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *WalletGateway) generateCode() (string, error) {
	var b strings.Builder
	b.Grow(g.length)
	ten := big.NewInt(10)
	for range g.length {
		digit, err := rand.Int(g.random, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + digit.Int64()))
	}
	return b.String(), nil
}

// LogOTPSender writes codes to the log. It is meant for local development only.
type LogOTPSender struct {
	logger *zap.Logger
}

// NewLogOTPSender constructs a LogOTPSender.
func NewLogOTPSender(logger *zap.Logger) *LogOTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOTPSender{logger: logger}
}

func (s *LogOTPSender) SendOTP(_ context.Context, mobile, code string, expiresAt time.Time) error {
	s.logger.Info("wallet otp issued",
		zap.String("mobile", mobile),
		zap.String("otp", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}
