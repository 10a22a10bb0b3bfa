package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/payments"
	"github.com/hanko-field/checkout-engine/internal/platform/observability"
	"github.com/hanko-field/checkout-engine/internal/platform/ratelimit"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusCreated: {
		domain.PaymentStatusPendingVerification,
		domain.PaymentStatusAwaitingOTP,
		domain.PaymentStatusSuccessful,
		domain.PaymentStatusCancelled,
	},
	domain.PaymentStatusPendingVerification: {
		domain.PaymentStatusSuccessful,
		domain.PaymentStatusFailed,
		domain.PaymentStatusCancelled,
	},
	domain.PaymentStatusAwaitingOTP: {
		domain.PaymentStatusAwaitingOTP,
		domain.PaymentStatusSuccessful,
		domain.PaymentStatusFailed,
		domain.PaymentStatusCancelled,
	},
}

var gatewayErrors = []struct {
	from error
	to   error
}{
	{payments.ErrOrderIDMismatch, ErrOrderIDMismatch},
	{payments.ErrSignatureMismatch, ErrSignatureMismatch},
	{payments.ErrOTPInvalid, ErrOTPInvalid},
	{payments.ErrOTPExpired, ErrOTPExpired},
	{payments.ErrOTPNotVerified, ErrInvalidStateTransition},
	{payments.ErrGatewayUnavailable, ErrGatewayUnavailable},
	{payments.ErrUnsupportedMethod, ErrUnsupportedMethod},
}

var mobileValidator = validator.New()

// PaymentServiceDeps bundles collaborators for the payment state machine.
type PaymentServiceDeps struct {
	Payments     repositories.PaymentRepository
	Wallets      repositories.WalletRepository
	Snapshots    SnapshotBuilder
	Gateways     GatewayRouter
	Wallet       WalletChallenger
	Materializer OrderMaterializer
	Limiter      AttemptLimiter
	UnitOfWork   repositories.UnitOfWork
	Events       EventPublisher
	Metrics      *observability.CheckoutMetrics
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments     repositories.PaymentRepository
	wallets      repositories.WalletRepository
	snapshots    SnapshotBuilder
	gateways     GatewayRouter
	wallet       WalletChallenger
	materializer OrderMaterializer
	limiter      AttemptLimiter
	uow          repositories.UnitOfWork
	events       eventSink
	metrics      *observability.CheckoutMetrics
	now          func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewPaymentService constructs the payment state machine.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Wallets == nil {
		return nil, errors.New("payment service: wallet repository is required")
	}
	if deps.Snapshots == nil {
		return nil, errors.New("payment service: snapshot builder is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway router is required")
	}
	if deps.Wallet == nil {
		return nil, errors.New("payment service: wallet challenger is required")
	}
	if deps.Materializer == nil {
		return nil, errors.New("payment service: order materializer is required")
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(0, 0, nil)
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &paymentService{
		payments:     deps.Payments,
		wallets:      deps.Wallets,
		snapshots:    deps.Snapshots,
		gateways:     deps.Gateways,
		wallet:       deps.Wallet,
		materializer: deps.Materializer,
		limiter:      limiter,
		uow:          uow,
		events:       eventSink{publisher: deps.Events, logger: logger},
		metrics:      deps.Metrics,
		now:          utcClock(deps.Clock),
		newID:        idGen,
		logger:       logger,
	}, nil
}

func (s *paymentService) CreatePaymentFromCart(ctx context.Context, cmd CreatePaymentCommand) (domain.Payment, error) {
	const op = "create_payment"
	if !knownMethod(cmd.Method) {
		return domain.Payment{}, wrapError(op, "", "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, cmd.Method))
	}

	snapshot, err := s.snapshots.Build(ctx, SnapshotRequest{
		UserID:          cmd.UserID,
		CartID:          cmd.CartID,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
	})
	if err != nil {
		return domain.Payment{}, wrapError(op, "", "", err)
	}

	now := s.now()
	payment := domain.Payment{
		ID:        "pay_" + s.newID(),
		UserID:    snapshot.UserID,
		Method:    cmd.Method,
		Status:    domain.PaymentStatusCreated,
		Amount:    snapshot.Total,
		Currency:  snapshot.Currency,
		Snapshot:  snapshot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Insert(ctx, payment); err != nil {
		return domain.Payment{}, wrapError(op, payment.ID, "", mapRepositoryError(err, ErrPaymentNotFound))
	}

	initiated, err := s.initiate(ctx, op, payment)
	if err != nil {
		return domain.Payment{}, err
	}
	s.logger(ctx, "checkout.payment.created", map[string]any{
		"paymentID": initiated.ID,
		"method":    string(initiated.Method),
		"status":    string(initiated.Status),
	})
	return initiated, nil
}

func (s *paymentService) RetryGatewayOrder(ctx context.Context, cmd RetryGatewayOrderCommand) (domain.Payment, error) {
	const op = "retry_gateway_order"
	payment, err := s.ownedPayment(ctx, cmd.UserID, cmd.PaymentID)
	if err != nil {
		return domain.Payment{}, wrapError(op, cmd.PaymentID, "", err)
	}
	if payment.Method != domain.PaymentMethodHostedGateway {
		return domain.Payment{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: payment method is %s", ErrInvalidStateTransition, payment.Method))
	}
	if payment.Status == domain.PaymentStatusPendingVerification && payment.GatewayOrderID != nil {
		return payment, nil
	}
	if payment.Status != domain.PaymentStatusCreated {
		return domain.Payment{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, payment.Status))
	}
	if err := s.allowAttempt(ctx, ratelimit.Key("initiate", payment.ID)); err != nil {
		return domain.Payment{}, wrapError(op, payment.ID, "", err)
	}

	initiated, err := s.initiate(ctx, op, payment)
	if err != nil {
		return domain.Payment{}, err
	}
	s.logger(ctx, "checkout.payment.reinitiated", map[string]any{
		"paymentID": initiated.ID,
		"status":    string(initiated.Status),
	})
	return initiated, nil
}

func (s *paymentService) VerifyHostedGatewayPayment(ctx context.Context, cmd VerifyHostedCommand) (domain.Order, error) {
	const op = "verify_hosted"
	payment, err := s.ownedPayment(ctx, cmd.UserID, cmd.PaymentID)
	if err != nil {
		return domain.Order{}, wrapError(op, cmd.PaymentID, "", err)
	}
	if payment.Method != domain.PaymentMethodHostedGateway {
		return domain.Order{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: payment method is %s", ErrInvalidStateTransition, payment.Method))
	}
	if payment.Status == domain.PaymentStatusSuccessful {
		return s.materialize(ctx, op, payment.ID)
	}
	if payment.Status != domain.PaymentStatusPendingVerification {
		return domain.Order{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, payment.Status))
	}
	if err := s.allowAttempt(ctx, ratelimit.Key("verify", payment.ID)); err != nil {
		return domain.Order{}, wrapError(op, payment.ID, "", err)
	}

	outcome, err := s.gateways.Confirm(ctx, payments.ConfirmRequest{
		Payment:          payment,
		GatewayOrderID:   strings.TrimSpace(cmd.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(cmd.GatewayPaymentID),
		Signature:        cmd.Signature,
		Now:              s.now(),
	})
	if err != nil {
		mapped := mapGatewayError(err)
		if errors.Is(mapped, ErrOrderIDMismatch) || errors.Is(mapped, ErrSignatureMismatch) {
			s.metrics.VerificationFailed(ctx, string(payment.Method), ErrorCode(mapped))
			if failErr := s.failPayment(ctx, payment.ID, domain.PaymentStatusPendingVerification, ErrorCode(mapped)); failErr != nil {
				s.logger(ctx, "checkout.payment.fail.persist_failed", map[string]any{
					"paymentID": payment.ID,
					"error":     failErr.Error(),
				})
			}
		}
		return domain.Order{}, wrapError(op, payment.ID, "", mapped)
	}

	err = s.completePayment(ctx, payment.ID, func(txCtx context.Context, locked *domain.Payment) error {
		if locked.Status != domain.PaymentStatusPendingVerification {
			return fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, locked.Status)
		}
		locked.GatewayPaymentID = outcome.GatewayPaymentID
		locked.GatewaySignature = outcome.GatewaySignature
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapError(op, payment.ID, "", err)
	}
	return s.materialize(ctx, op, payment.ID)
}

func (s *paymentService) ConfirmCOD(ctx context.Context, cmd ConfirmCODCommand) (domain.Order, error) {
	const op = "confirm_cod"
	payment, err := s.ownedPayment(ctx, cmd.UserID, cmd.PaymentID)
	if err != nil {
		return domain.Order{}, wrapError(op, cmd.PaymentID, "", err)
	}
	if payment.Method != domain.PaymentMethodCOD {
		return domain.Order{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: payment method is %s", ErrInvalidStateTransition, payment.Method))
	}
	if payment.Status == domain.PaymentStatusSuccessful {
		return s.materialize(ctx, op, payment.ID)
	}
	if payment.Status.IsTerminal() {
		return domain.Order{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, payment.Status))
	}

	if _, err := s.gateways.Confirm(ctx, payments.ConfirmRequest{Payment: payment, Now: s.now()}); err != nil {
		return domain.Order{}, wrapError(op, payment.ID, "", mapGatewayError(err))
	}

	notes := sanitizeNote(cmd.Notes)
	err = s.completePayment(ctx, payment.ID, func(txCtx context.Context, locked *domain.Payment) error {
		if locked.Status.IsTerminal() {
			return fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, locked.Status)
		}
		if notes != "" {
			locked.Notes = &notes
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapError(op, payment.ID, "", err)
	}
	return s.materialize(ctx, op, payment.ID)
}

func (s *paymentService) VerifyWalletMobile(ctx context.Context, cmd VerifyWalletMobileCommand) (WalletChallenge, error) {
	const op = "wallet_verify_mobile"
	payment, err := s.ownedPayment(ctx, cmd.UserID, cmd.PaymentID)
	if err != nil {
		return WalletChallenge{}, wrapError(op, cmd.PaymentID, "", err)
	}
	if err := requireWalletStatus(payment, domain.PaymentStatusCreated, domain.PaymentStatusAwaitingOTP); err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", err)
	}

	mobile := strings.TrimSpace(cmd.Mobile)
	if err := mobileValidator.Var(mobile, "required,e164"); err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: mobile must be E.164", ErrInvalidInput))
	}
	if err := s.allowAttempt(ctx, ratelimit.Key("otp-issue", payment.ID)); err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", err)
	}

	account, err := s.wallets.FindByMobile(ctx, mobile)
	if err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", mapWalletError(err))
	}
	if account.UserID != payment.UserID {
		s.logger(ctx, "checkout.wallet.owner_mismatch", map[string]any{"paymentID": payment.ID})
		return WalletChallenge{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: wallet is linked to another user", ErrWalletAccountNotFound))
	}
	if !strings.EqualFold(account.Currency, payment.Currency) {
		return WalletChallenge{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: wallet currency %s does not match payment currency %s",
			ErrInvalidInput, account.Currency, payment.Currency))
	}

	challenge, err := s.wallet.IssueChallenge(ctx, mobile, s.now())
	if err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", mapGatewayError(err))
	}

	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.payments.LockByID(txCtx, payment.ID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		if err := requireWalletStatus(locked, domain.PaymentStatusCreated, domain.PaymentStatusAwaitingOTP); err != nil {
			return err
		}
		if err := transitionPayment(&locked, domain.PaymentStatusAwaitingOTP); err != nil {
			return err
		}
		expires := challenge.ExpiresAt
		hash := challenge.Hash
		locked.WalletMobile = &mobile
		locked.WalletOTPHash = &hash
		locked.WalletOTPExpiresAt = &expires
		locked.WalletOTPVerifiedAt = nil
		locked.UpdatedAt = s.now()
		return mapRepositoryError(s.payments.Update(txCtx, locked), ErrPaymentNotFound)
	})
	if err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", err)
	}

	s.resetAttempts(ctx, ratelimit.Key("otp", payment.ID))
	s.logger(ctx, "checkout.wallet.otp.sent", map[string]any{
		"paymentID": payment.ID,
		"expiresAt": challenge.ExpiresAt,
	})
	return WalletChallenge{PaymentID: payment.ID, OTPSent: true, ExpiresAt: challenge.ExpiresAt}, nil
}

func (s *paymentService) VerifyWalletOTP(ctx context.Context, cmd VerifyWalletOTPCommand) (WalletChallenge, error) {
	const op = "wallet_verify_otp"
	payment, err := s.ownedPayment(ctx, cmd.UserID, cmd.PaymentID)
	if err != nil {
		return WalletChallenge{}, wrapError(op, cmd.PaymentID, "", err)
	}
	if err := requireWalletStatus(payment, domain.PaymentStatusAwaitingOTP); err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", err)
	}
	if err := s.allowAttempt(ctx, ratelimit.Key("otp", payment.ID)); err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", err)
	}

	now := s.now()
	if err := s.wallet.CheckOTP(payment, cmd.OTP, now); err != nil {
		mapped := mapGatewayError(err)
		if errors.Is(mapped, ErrOTPInvalid) {
			s.metrics.VerificationFailed(ctx, string(payment.Method), ErrorCode(mapped))
		}
		return WalletChallenge{}, wrapError(op, payment.ID, "", mapped)
	}

	var expiresAt time.Time
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.payments.LockByID(txCtx, payment.ID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		if err := requireWalletStatus(locked, domain.PaymentStatusAwaitingOTP); err != nil {
			return err
		}
		if locked.WalletOTPHash == nil || payment.WalletOTPHash == nil || *locked.WalletOTPHash != *payment.WalletOTPHash {
			return fmt.Errorf("%w: otp challenge was reissued", ErrOTPInvalid)
		}
		verified := now
		locked.WalletOTPVerifiedAt = &verified
		locked.UpdatedAt = now
		if locked.WalletOTPExpiresAt != nil {
			expiresAt = *locked.WalletOTPExpiresAt
		}
		return mapRepositoryError(s.payments.Update(txCtx, locked), ErrPaymentNotFound)
	})
	if err != nil {
		return WalletChallenge{}, wrapError(op, payment.ID, "", err)
	}

	s.resetAttempts(ctx, ratelimit.Key("otp", payment.ID))
	return WalletChallenge{PaymentID: payment.ID, OTPSent: true, ExpiresAt: expiresAt, CanProceed: true}, nil
}

func (s *paymentService) DebitWallet(ctx context.Context, cmd DebitWalletCommand) (domain.Order, error) {
	const op = "wallet_debit"
	payment, err := s.ownedPayment(ctx, cmd.UserID, cmd.PaymentID)
	if err != nil {
		return domain.Order{}, wrapError(op, cmd.PaymentID, "", err)
	}
	if payment.Method == domain.PaymentMethodWallet && payment.Status == domain.PaymentStatusSuccessful {
		return s.materialize(ctx, op, payment.ID)
	}
	if err := requireWalletStatus(payment, domain.PaymentStatusAwaitingOTP); err != nil {
		return domain.Order{}, wrapError(op, payment.ID, "", err)
	}
	if _, err := s.gateways.Confirm(ctx, payments.ConfirmRequest{Payment: payment, Now: s.now()}); err != nil {
		return domain.Order{}, wrapError(op, payment.ID, "", mapGatewayError(err))
	}

	err = s.completePayment(ctx, payment.ID, func(txCtx context.Context, locked *domain.Payment) error {
		if err := requireWalletStatus(*locked, domain.PaymentStatusAwaitingOTP); err != nil {
			return err
		}
		if _, err := s.gateways.Confirm(txCtx, payments.ConfirmRequest{Payment: *locked, Now: s.now()}); err != nil {
			return mapGatewayError(err)
		}
		if locked.WalletMobile == nil {
			return fmt.Errorf("%w: wallet mobile not verified", ErrInvalidStateTransition)
		}
		if _, err := s.wallets.Debit(txCtx, *locked.WalletMobile, locked.Amount); err != nil {
			return mapWalletError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapError(op, payment.ID, "", err)
	}
	return s.materialize(ctx, op, payment.ID)
}

func (s *paymentService) CancelPayment(ctx context.Context, cmd CancelPaymentCommand) (domain.Payment, error) {
	const op = "cancel_payment"
	payment, err := s.ownedPayment(ctx, cmd.UserID, cmd.PaymentID)
	if err != nil {
		return domain.Payment{}, wrapError(op, cmd.PaymentID, "", err)
	}
	if payment.Status.IsTerminal() {
		return domain.Payment{}, wrapError(op, payment.ID, "", fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, payment.Status))
	}

	reason := sanitizeNote(cmd.Reason)
	var (
		cancelled domain.Payment
		previous  domain.PaymentStatus
	)
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.payments.LockByID(txCtx, payment.ID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		previous = locked.Status
		if err := transitionPayment(&locked, domain.PaymentStatusCancelled); err != nil {
			return err
		}
		locked.WalletOTPHash = nil
		locked.WalletOTPExpiresAt = nil
		locked.WalletOTPVerifiedAt = nil
		if reason != "" {
			locked.FailureReason = &reason
		}
		locked.UpdatedAt = s.now()
		if err := s.payments.Update(txCtx, locked); err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		cancelled = locked
		return nil
	})
	if err != nil {
		return domain.Payment{}, wrapError(op, payment.ID, "", err)
	}

	s.events.publish(ctx, CheckoutEvent{
		Type:           EventPaymentCancelled,
		PaymentID:      cancelled.ID,
		UserID:         cancelled.UserID,
		Method:         string(cancelled.Method),
		PreviousStatus: string(previous),
		Status:         string(cancelled.Status),
		Reason:         reason,
		OccurredAt:     cancelled.UpdatedAt,
	})
	return cancelled, nil
}

func (s *paymentService) GetPayment(ctx context.Context, userID, paymentID string) (domain.Payment, error) {
	payment, err := s.ownedPayment(ctx, userID, paymentID)
	if err != nil {
		return domain.Payment{}, wrapError("get_payment", paymentID, "", err)
	}
	return payment, nil
}

func (s *paymentService) ReconcilePayment(ctx context.Context, paymentID string) (domain.Order, error) {
	const op = "reconcile_payment"
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.Order{}, wrapError(op, "", "", fmt.Errorf("%w: payment id is required", ErrInvalidInput))
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return domain.Order{}, wrapError(op, paymentID, "", mapRepositoryError(err, ErrPaymentNotFound))
	}
	if payment.Status != domain.PaymentStatusSuccessful {
		return domain.Order{}, wrapError(op, paymentID, "", fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, payment.Status))
	}
	return s.materialize(ctx, op, paymentID)
}

func (s *paymentService) ownedPayment(ctx context.Context, userID, paymentID string) (domain.Payment, error) {
	userID = strings.TrimSpace(userID)
	paymentID = strings.TrimSpace(paymentID)
	if userID == "" || paymentID == "" {
		return domain.Payment{}, fmt.Errorf("%w: user and payment id are required", ErrInvalidInput)
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, mapRepositoryError(err, ErrPaymentNotFound)
	}
	if payment.UserID != userID {
		return domain.Payment{}, ErrPaymentNotFound
	}
	return payment, nil
}

// completePayment moves a locked payment to successful after check approves it. A payment found
// already successful is left untouched.
func (s *paymentService) completePayment(ctx context.Context, paymentID string, check func(context.Context, *domain.Payment) error) error {
	var (
		completed domain.Payment
		previous  domain.PaymentStatus
		changed   bool
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.payments.LockByID(txCtx, paymentID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		if locked.Status == domain.PaymentStatusSuccessful {
			return nil
		}
		previous = locked.Status
		if err := check(txCtx, &locked); err != nil {
			return err
		}
		if err := transitionPayment(&locked, domain.PaymentStatusSuccessful); err != nil {
			return err
		}
		now := s.now()
		locked.CompletedAt = &now
		locked.UpdatedAt = now
		if err := s.payments.Update(txCtx, locked); err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		completed = locked
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}

	s.logger(ctx, "checkout.payment.successful", map[string]any{
		"paymentID": completed.ID,
		"method":    string(completed.Method),
	})
	s.events.publish(ctx, CheckoutEvent{
		Type:           EventPaymentSucceeded,
		PaymentID:      completed.ID,
		UserID:         completed.UserID,
		Method:         string(completed.Method),
		PreviousStatus: string(previous),
		Status:         string(completed.Status),
		OccurredAt:     completed.UpdatedAt,
		Metadata: map[string]any{
			"amount":   completed.Amount.StringFixed(2),
			"currency": completed.Currency,
		},
	})
	return nil
}

// failPayment records a rejected verification. Only a payment still in expected is changed, so a
// forged callback can never undo a concurrent success.
func (s *paymentService) failPayment(ctx context.Context, paymentID string, expected domain.PaymentStatus, reason string) error {
	var failed domain.Payment
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.payments.LockByID(txCtx, paymentID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		if locked.Status != expected {
			return nil
		}
		if err := transitionPayment(&locked, domain.PaymentStatusFailed); err != nil {
			return err
		}
		locked.FailureReason = &reason
		locked.UpdatedAt = s.now()
		if err := s.payments.Update(txCtx, locked); err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		failed = locked
		return nil
	})
	if err != nil || failed.ID == "" {
		return err
	}
	s.events.publish(ctx, CheckoutEvent{
		Type:           EventPaymentFailed,
		PaymentID:      failed.ID,
		UserID:         failed.UserID,
		Method:         string(failed.Method),
		PreviousStatus: string(expected),
		Status:         string(failed.Status),
		Reason:         reason,
		OccurredAt:     failed.UpdatedAt,
	})
	return nil
}

// initiate asks the method's gateway to open the payment and records the outcome on the created
// payment. A payment the gateway leaves created without a remote reference is returned unchanged.
// On failure the payment stays created and can be retried with RetryGatewayOrder.
func (s *paymentService) initiate(ctx context.Context, op string, payment domain.Payment) (domain.Payment, error) {
	initiation, err := s.gateways.Initiate(ctx, payment.Method, payments.InitiateRequest{
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment.initiate.failed", map[string]any{
			"paymentID": payment.ID,
			"method":    string(payment.Method),
			"error":     err.Error(),
		})
		return domain.Payment{}, wrapError(op, payment.ID, "", mapGatewayError(err))
	}
	if initiation.Status == "" || (initiation.Status == payment.Status && initiation.GatewayOrderID == nil) {
		return payment, nil
	}

	var updated domain.Payment
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.payments.LockByID(txCtx, payment.ID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		if locked.Status == initiation.Status && locked.GatewayOrderID != nil {
			updated = locked
			return nil
		}
		if locked.Status != domain.PaymentStatusCreated {
			return fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, locked.Status)
		}
		if initiation.Status != locked.Status {
			if err := transitionPayment(&locked, initiation.Status); err != nil {
				return err
			}
		}
		locked.GatewayOrderID = initiation.GatewayOrderID
		locked.UpdatedAt = s.now()
		if err := s.payments.Update(txCtx, locked); err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		updated = locked
		return nil
	})
	if err != nil {
		return domain.Payment{}, wrapError(op, payment.ID, "", err)
	}
	return updated, nil
}

func (s *paymentService) materialize(ctx context.Context, op, paymentID string) (domain.Order, error) {
	order, err := s.materializer.Materialize(ctx, paymentID)
	if err != nil {
		return domain.Order{}, wrapError(op, paymentID, "", err)
	}
	return order, nil
}

// allowAttempt consults the limiter. Limiter outages are logged and the attempt is allowed.
func (s *paymentService) allowAttempt(ctx context.Context, key string) error {
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.logger(ctx, "checkout.limiter.failed", map[string]any{"key": key, "error": err.Error()})
		return nil
	}
	if !ok {
		return ErrTooManyAttempts
	}
	return nil
}

func (s *paymentService) resetAttempts(ctx context.Context, key string) {
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger(ctx, "checkout.limiter.reset_failed", map[string]any{"key": key, "error": err.Error()})
	}
}

func transitionPayment(p *domain.Payment, next domain.PaymentStatus) error {
	if !slices.Contains(paymentTransitions[p.Status], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, p.Status, next)
	}
	p.Status = next
	return nil
}

func requireWalletStatus(p domain.Payment, allowed ...domain.PaymentStatus) error {
	if p.Method != domain.PaymentMethodWallet {
		return fmt.Errorf("%w: payment method is %s", ErrInvalidStateTransition, p.Method)
	}
	if !slices.Contains(allowed, p.Status) {
		return fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, p.Status)
	}
	return nil
}

func knownMethod(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodHostedGateway, domain.PaymentMethodCOD, domain.PaymentMethodWallet:
		return true
	default:
		return false
	}
}

func mapGatewayError(err error) error {
	if err == nil {
		return nil
	}
	for _, entry := range gatewayErrors {
		if errors.Is(err, entry.from) {
			return fmt.Errorf("%w: %v", entry.to, err)
		}
	}
	return err
}

func mapWalletError(err error) error {
	var walletErr *repositories.WalletError
	if errors.As(err, &walletErr) {
		switch walletErr.Code {
		case repositories.WalletErrorAccountNotFound:
			return fmt.Errorf("%w: %v", ErrWalletAccountNotFound, err)
		case repositories.WalletErrorInsufficientFunds:
			return fmt.Errorf("%w: %v", ErrWalletInsufficientFunds, err)
		case repositories.WalletErrorInvalidAmount:
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return mapRepositoryError(err, ErrWalletAccountNotFound)
}
