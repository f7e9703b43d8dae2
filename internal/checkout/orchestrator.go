// Package checkout settles a user's basket from balance. The debit-vs-commit
// ordering is fixed: stock commits run first, only the lines that actually
// sold are totaled, and that total is debited, all inside one transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatshop/chatshop/internal/discount"
	"github.com/chatshop/chatshop/internal/domain"
	"github.com/chatshop/chatshop/internal/notify"
	"github.com/chatshop/chatshop/internal/store"
	"github.com/chatshop/chatshop/pkg/common"
	"github.com/chatshop/chatshop/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEmptyBasket = errors.New("basket is empty")
	// ErrNothingSold means every snapshot line lost the stock race; the
	// transaction was rolled back and the user was not charged.
	ErrNothingSold = errors.New("no basket line could be sold")
)

// InsufficientFundsError reports the shortfall so the transport can render
// the exact top-up amount required.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Balance   decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Required, e.Balance)
}

// SoldLine is one successfully committed basket line.
type SoldLine struct {
	ProductID   int64
	ProductType string
	City        string
	District    string
	Size        string
	Price       decimal.Decimal
}

// Receipt summarizes a settled checkout.
type Receipt struct {
	Sold           []SoldLine
	SoldOut        []int64
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	NewBalance     decimal.Decimal
	DroppedCode    string
	MediaToCleanup []string
}

// Orchestrator composes the reservation engine, discount evaluator and
// ledger store into the checkout state machine.
type Orchestrator struct {
	db       *gorm.DB
	engine   *store.Engine
	eval     *discount.Evaluator
	notifier notify.Notifier
	cleaner  Cleaner
}

func NewOrchestrator(db *gorm.DB, engine *store.Engine, eval *discount.Evaluator,
	notifier notify.Notifier, cleaner Cleaner) *Orchestrator {
	return &Orchestrator{db: db, engine: engine, eval: eval, notifier: notifier, cleaner: cleaner}
}

type snapshotLine struct {
	entry   domain.BasketEntry
	product domain.Product
	// price after reseller adjustment
	adjusted decimal.Decimal
}

// Checkout settles the user's basket. Expected outcomes are typed:
// ErrEmptyBasket, *InsufficientFundsError and ErrNothingSold leave no
// mutations behind (beyond dropping vanished entries and stale codes).
func (o *Orchestrator) Checkout(ctx context.Context, userID int64) (*Receipt, error) {
	entries, err := o.engine.BasketContents(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyBasket
	}

	lines, err := o.snapshot(ctx, userID, entries)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyBasket
	}

	var user domain.User
	if err := o.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}

	rates, err := o.eval.ResellerRates(ctx, userID)
	if err != nil {
		return nil, err
	}
	subtotal := o.applyReseller(lines, rates)

	// Re-validate the stored code against the reseller-adjusted subtotal. A
	// changed subtotal can invalidate a previously applied code; drop it and
	// tell the user rather than silently keeping a stale amount.
	code := user.DiscountCode
	droppedCode := ""
	total := subtotal
	if code != "" {
		res, err := o.eval.Validate(ctx, code, subtotal)
		if err != nil {
			return nil, err
		}
		if !res.OK {
			droppedCode = code
			code = ""
			if err := o.db.WithContext(ctx).Model(&domain.User{}).
				Where("id = ?", userID).
				Update("discount_code", "").Error; err != nil {
				return nil, err
			}
			o.notifier.Notify(userID, notify.Outcome{
				Kind:   notify.KindDiscountDropped,
				Params: map[string]interface{}{"code": droppedCode, "reason": res.Reason},
			})
		} else {
			total = res.FinalTotal
		}
	}

	balance := decimal.NewFromFloat(user.Balance)
	if balance.LessThan(total) {
		o.notifier.Notify(userID, notify.Outcome{
			Kind: notify.KindInsufficientFunds,
			Params: map[string]interface{}{
				"required":  total.StringFixed(2),
				"balance":   balance.StringFixed(2),
				"shortfall": total.Sub(balance).StringFixed(2),
			},
		})
		return nil, &InsufficientFundsError{
			Required:  total,
			Balance:   balance,
			Shortfall: total.Sub(balance),
		}
	}

	receipt, err := o.settle(ctx, userID, code, lines)
	if err != nil {
		return nil, err
	}
	receipt.DroppedCode = droppedCode

	// The sale is final; everything past this point is best-effort.
	o.notifier.Notify(userID, notify.Outcome{
		Kind: notify.KindPurchaseComplete,
		Params: map[string]interface{}{
			"items":    len(receipt.Sold),
			"sold_out": len(receipt.SoldOut),
			"total":    receipt.Total.StringFixed(2),
			"balance":  receipt.NewBalance.StringFixed(2),
		},
	})
	if len(receipt.MediaToCleanup) > 0 && o.cleaner != nil {
		o.cleaner.CleanupAsync(receipt.MediaToCleanup)
	}
	metrics.IncrCounter("checkout_sales", int64(len(receipt.Sold)))
	return receipt, nil
}

// snapshot re-validates each basket product still exists; entries pointing
// at vanished rows are dropped from the basket. Surviving lines charge the
// price recorded at reservation time.
func (o *Orchestrator) snapshot(ctx context.Context, userID int64, entries []domain.BasketEntry) ([]*snapshotLine, error) {
	ids := make([]int64, 0, len(entries))
	for _, en := range entries {
		ids = append(ids, en.ProductId)
	}
	var products []domain.Product
	if err := o.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]*snapshotLine, 0, len(entries))
	var vanished []int64
	for _, en := range entries {
		p, ok := byID[en.ProductId]
		if !ok {
			vanished = append(vanished, en.ID)
			continue
		}
		if p.Price != en.Price {
			zap.L().Warn("product repriced since reservation, charging recorded price",
				zap.Int64("product_id", p.ID),
				zap.Float64("recorded", en.Price),
				zap.Float64("current", p.Price))
		}
		lines = append(lines, &snapshotLine{entry: en, product: p})
	}
	if len(vanished) > 0 {
		if err := o.db.WithContext(ctx).
			Where("id IN ?", vanished).
			Delete(&domain.BasketEntry{}).Error; err != nil {
			return nil, err
		}
		zap.L().Warn("dropped basket entries for vanished products",
			zap.Int64("user_id", userID), zap.Int("count", len(vanished)))
	}
	return lines, nil
}

func (o *Orchestrator) applyReseller(lines []*snapshotLine, rates map[string]float64) decimal.Decimal {
	in := make([]discount.Line, len(lines))
	for i, ln := range lines {
		in[i] = discount.Line{
			ProductID:   ln.entry.ProductId,
			ProductType: ln.entry.ProductType,
			Price:       decimal.NewFromFloat(ln.entry.Price),
		}
	}
	adjusted, subtotal := discount.ApplyResellerRates(in, rates)
	for i := range lines {
		lines[i].adjusted = adjusted[i].Price
	}
	return subtotal
}

// settle runs the atomic part: commit each line's stock, total only the
// lines that sold, re-check and debit the balance, clear the basket, record
// purchases and bump counters. Any error rolls the whole transaction back.
func (o *Orchestrator) settle(ctx context.Context, userID int64, code string, lines []*snapshotLine) (*Receipt, error) {
	receipt := &Receipt{}
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sold []*snapshotLine
		raceLost := map[int64]int{}
		soldSubtotal := decimal.Zero
		var media []string

		for _, ln := range lines {
			paths, err := o.engine.CommitSale(tx, ln.entry.ProductId)
			if errors.Is(err, store.ErrRaceLost) {
				receipt.SoldOut = append(receipt.SoldOut, ln.entry.ProductId)
				raceLost[ln.entry.ProductId]++
				continue
			}
			if err != nil {
				return err
			}
			sold = append(sold, ln)
			soldSubtotal = soldSubtotal.Add(ln.adjusted)
			media = append(media, paths...)
		}
		if len(sold) == 0 {
			return ErrNothingSold
		}
		soldSubtotal = soldSubtotal.RoundDown(2)

		// Total only what sold; re-apply the code to that subtotal.
		total := soldSubtotal
		discountAmt := decimal.Zero
		if code != "" {
			var dc domain.DiscountCode
			err := tx.Where("code = ?", code).First(&dc).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err == nil {
				if res := discount.ValidateCode(&dc, soldSubtotal, time.Now()); res.OK {
					total = res.FinalTotal
					discountAmt = res.Amount
					if err := tx.Model(&domain.DiscountCode{}).
						Where("id = ?", dc.ID).
						Update("uses_count", gorm.Expr("uses_count + 1")).Error; err != nil {
						return err
					}
				}
			}
		}

		// Balance re-check and debit in one guarded statement: a concurrent
		// spend between the pre-check and here makes RowsAffected zero.
		debitTotal, _ := total.Float64()
		res := tx.Model(&domain.User{}).
			Where("id = ? AND balance >= ?", userID, debitTotal).
			Update("balance", gorm.Expr("balance - ?", debitTotal))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var u domain.User
			if err := tx.First(&u, userID).Error; err != nil {
				return err
			}
			balance := decimal.NewFromFloat(u.Balance)
			return &InsufficientFundsError{
				Required:  total,
				Balance:   balance,
				Shortfall: total.Sub(balance),
			}
		}

		// Race-lost lines keep a reserved unit the engine restored; their
		// entries go away with the basket, so release those units here.
		if len(raceLost) > 0 {
			if err := o.engine.ReleaseCountsTx(tx, raceLost); err != nil {
				return err
			}
		}
		entryIDs := make([]int64, 0, len(lines))
		for _, ln := range lines {
			entryIDs = append(entryIDs, ln.entry.ID)
		}
		if err := tx.Where("id IN ?", entryIDs).Delete(&domain.BasketEntry{}).Error; err != nil {
			return err
		}

		if err := tx.Model(&domain.User{}).
			Where("id = ?", userID).
			Update("purchase_count", gorm.Expr("purchase_count + ?", len(sold))).Error; err != nil {
			return err
		}

		now := time.Now()
		for _, ln := range sold {
			price, _ := ln.adjusted.Float64()
			if err := tx.Create(&domain.Purchase{
				ID:          common.UUIDint64(),
				UserId:      userID,
				ProductId:   ln.product.ID,
				ProductType: ln.product.Type,
				City:        ln.product.City,
				District:    ln.product.District,
				Size:        ln.product.Size,
				Price:       price,
				CreatedAt:   now,
			}).Error; err != nil {
				return err
			}
			receipt.Sold = append(receipt.Sold, SoldLine{
				ProductID:   ln.product.ID,
				ProductType: ln.product.Type,
				City:        ln.product.City,
				District:    ln.product.District,
				Size:        ln.product.Size,
				Price:       ln.adjusted,
			})
		}

		var u domain.User
		if err := tx.First(&u, userID).Error; err != nil {
			return err
		}
		receipt.Subtotal = soldSubtotal
		receipt.Discount = discountAmt
		receipt.Total = total
		receipt.NewBalance = decimal.NewFromFloat(u.Balance)
		receipt.MediaToCleanup = media
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
