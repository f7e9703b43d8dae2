// Package deposit creates external payment invoices and reconciles the
// asynchronous, possibly-duplicated provider callbacks into exactly-once
// balance credits.
package deposit

import (
	"context"
	"strings"
	"time"

	"github.com/chatshop/chatshop/internal/domain"
	"github.com/chatshop/chatshop/internal/notify"
	"github.com/chatshop/chatshop/pkg/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Provider payment statuses the callback handler acts on. Anything else is
// intermediate and acknowledged without state change.
const (
	StatusFinished      = "finished"
	StatusFailed        = "failed"
	StatusExpired       = "expired"
	StatusRefunded      = "refunded"
	StatusPartiallyPaid = "partially_paid"
)

// Notification is the provider webhook payload.
type Notification struct {
	PaymentID     string  `json:"payment_id"`
	PaymentStatus string  `json:"payment_status"`
	PayCurrency   string  `json:"pay_currency"`
	PayAmount     float64 `json:"pay_amount"`
	ActuallyPaid  float64 `json:"actually_paid"`
}

// Service issues invoices and applies webhook results to user balances.
type Service struct {
	db          *gorm.DB
	oracle      *Oracle
	provider    ProviderClient
	notifier    notify.Notifier
	callbackURL string
	// feeAdjustment is a settings-backed multiplier below 1.0 reserving
	// margin for rate slippage and provider fees.
	feeAdjustment func() float64
}

func NewService(db *gorm.DB, oracle *Oracle, provider ProviderClient,
	notifier notify.Notifier, callbackURL string, feeAdjustment func() float64) *Service {
	return &Service{
		db:            db,
		oracle:        oracle,
		provider:      provider,
		notifier:      notifier,
		callbackURL:   callbackURL,
		feeAdjustment: feeAdjustment,
	}
}

// CreateInvoice issues a payment invoice covering targetAmount in the
// settlement currency. The crypto amount rounds up at 8 decimals so the
// user's target is met even after rounding, and is raised to the provider's
// minimum payable amount when the computed amount falls below it. The
// PendingDeposit correlation row is persisted before the invoice is handed
// out: a payment must never arrive with nothing to correlate it to.
func (s *Service) CreateInvoice(ctx context.Context, userID int64, targetAmount float64, payCurrency string) (*Invoice, error) {
	rate, err := s.oracle.Rate(ctx, payCurrency)
	if err != nil {
		return nil, err
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		return nil, ErrRateUnavailable
	}

	target := decimal.NewFromFloat(targetAmount)
	payAmount := target.Div(rate).RoundUp(8)

	minAmount, err := s.provider.MinimumAmount(ctx, payCurrency)
	if err != nil {
		return nil, err
	}
	if payAmount.LessThan(minAmount) {
		payAmount = minAmount
	}

	invoice, err := s.provider.CreateInvoice(ctx, InvoiceRequest{
		Amount:      payAmount,
		PayCurrency: payCurrency,
		CallbackURL: s.callbackURL,
		OrderID:     uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	pending := domain.PendingDeposit{
		PaymentId:   invoice.PaymentID,
		UserId:      userID,
		PayCurrency: payCurrency,
		Amount:      targetAmount,
	}
	if err := s.db.WithContext(ctx).Create(&pending).Error; err != nil {
		return nil, errors.Wrap(err, "persist pending deposit")
	}

	zap.L().Info("deposit invoice created",
		zap.Int64("user_id", userID),
		zap.String("payment_id", invoice.PaymentID),
		zap.String("pay_currency", payCurrency),
		zap.String("pay_amount", payAmount.String()))
	return invoice, nil
}

// HandleCallback applies a provider webhook. Duplicate deliveries of a
// terminal-success notification are no-ops: the PendingDeposit's absence
// means the credit was already applied.
func (s *Service) HandleCallback(ctx context.Context, n Notification) error {
	if n.PaymentID == "" || n.PaymentStatus == "" {
		return ErrInvalidNotification
	}

	switch n.PaymentStatus {
	case StatusFinished:
		if n.PayCurrency == "" || n.ActuallyPaid <= 0 {
			return ErrInvalidNotification
		}
		return s.credit(ctx, n)
	case StatusFailed, StatusExpired, StatusRefunded, StatusPartiallyPaid:
		return s.decline(ctx, n)
	default:
		zap.L().Debug("ignoring intermediate payment status",
			zap.String("payment_id", n.PaymentID),
			zap.String("status", n.PaymentStatus))
		return nil
	}
}

func (s *Service) credit(ctx context.Context, n Notification) error {
	var pending domain.PendingDeposit
	err := s.db.WithContext(ctx).Where("payment_id = ?", n.PaymentID).First(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().Warn("no pending deposit for payment, already processed or never recorded",
			zap.String("payment_id", n.PaymentID))
		return nil
	}
	if err != nil {
		return err
	}

	if !strings.EqualFold(pending.PayCurrency, n.PayCurrency) {
		zap.L().Error("pay currency mismatch on pending deposit, discarding record",
			zap.String("payment_id", n.PaymentID),
			zap.String("expected", pending.PayCurrency),
			zap.String("got", n.PayCurrency))
		return s.db.WithContext(ctx).Delete(&pending).Error
	}

	rate, err := s.oracle.Rate(ctx, pending.PayCurrency)
	if err != nil {
		// Pending row stays; the provider's redelivery is the retry.
		return errors.Wrap(err, "rate fetch for credit")
	}

	credited := decimal.NewFromFloat(n.ActuallyPaid).
		Mul(rate).
		Mul(decimal.NewFromFloat(s.feeAdjustment())).
		RoundDown(2)
	creditAmount, _ := credited.Float64()

	var newBalance float64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.User{}).
			Where("id = ?", pending.UserId).
			Update("balance", gorm.Expr("balance + ?", creditAmount)).Error; err != nil {
			return err
		}
		var u domain.User
		if err := tx.First(&u, pending.UserId).Error; err != nil {
			return err
		}
		newBalance = u.Balance
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "apply balance credit")
	}

	// Only after the credit has committed is the idempotency marker removed.
	// A crash in between is safe: redelivery finds the row and credits again
	// only if the previous credit never committed.
	if err := s.db.WithContext(ctx).Delete(&pending).Error; err != nil {
		zap.L().Error("credited but failed to delete pending deposit",
			zap.String("payment_id", n.PaymentID), zap.Error(err))
		return err
	}

	zap.L().Info("deposit credited",
		zap.Int64("user_id", pending.UserId),
		zap.String("payment_id", n.PaymentID),
		zap.Float64("credited", creditAmount),
		zap.Float64("balance", newBalance))
	metrics.IncrCounter("deposits_credited", 1)

	s.notifier.Notify(pending.UserId, notify.Outcome{
		Kind: notify.KindDepositCredited,
		Params: map[string]interface{}{
			"amount":  credited.StringFixed(2),
			"balance": decimal.NewFromFloat(newBalance).StringFixed(2),
		},
	})
	return nil
}

func (s *Service) decline(ctx context.Context, n Notification) error {
	var pending domain.PendingDeposit
	err := s.db.WithContext(ctx).Where("payment_id = ?", n.PaymentID).First(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&pending).Error; err != nil {
		return err
	}
	zap.L().Info("pending deposit closed without credit",
		zap.String("payment_id", n.PaymentID),
		zap.String("status", n.PaymentStatus))
	s.notifier.Notify(pending.UserId, notify.Outcome{
		Kind: notify.KindDepositFailed,
		Params: map[string]interface{}{
			"payment_id": n.PaymentID,
			"status":     n.PaymentStatus,
		},
	})
	return nil
}

// PurgeStale removes pending deposits older than the retention window; the
// provider will never complete them. Runs from the daily scheduler.
func (s *Service) PurgeStale(ctx context.Context, olderThanDays int) error {
	if olderThanDays <= 0 {
		olderThanDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.PendingDeposit{})
	return res.Error
}
