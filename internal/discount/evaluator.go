// Package discount validates general discount codes and applies per-user
// reseller rates. Discounts are ordered and non-commutative: reseller rates
// adjust each basket line first, then a general code is evaluated against
// the post-reseller subtotal.
package discount

import (
	"context"
	"errors"
	"time"

	"github.com/araddon/dateparse"
	"github.com/chatshop/chatshop/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Validation outcome reasons, surfaced to the user as actionable text by the
// chat transport.
const (
	ReasonNotFound  = "not_found"
	ReasonInactive  = "inactive"
	ReasonExpired   = "expired"
	ReasonExhausted = "exhausted"
)

// minUnitPrice is the floor for a reseller-discounted line price.
var minUnitPrice = decimal.NewFromFloat(0.01)

// Result is the outcome of validating a code against a running total.
type Result struct {
	OK         bool
	Reason     string
	Amount     decimal.Decimal
	FinalTotal decimal.Decimal
}

// Line is one basket line as seen by the evaluator.
type Line struct {
	ProductID   int64
	ProductType string
	Price       decimal.Decimal
}

type Evaluator struct {
	db *gorm.DB
}

func NewEvaluator(db *gorm.DB) *Evaluator {
	return &Evaluator{db: db}
}

// Validate loads the code definition and checks it against the running
// total. A missing code is a validation failure, not an error; errors are
// reserved for store faults.
func (e *Evaluator) Validate(ctx context.Context, code string, runningTotal decimal.Decimal) (Result, error) {
	var dc domain.DiscountCode
	err := e.db.WithContext(ctx).Where("code = ?", code).First(&dc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{Reason: ReasonNotFound, FinalTotal: runningTotal}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return ValidateCode(&dc, runningTotal, time.Now()), nil
}

// ValidateCode checks a loaded code definition against a running total.
// Checks run in order: active, not expired, usage below max. The discount
// amount rounds half-up and the resulting total rounds down, so the merchant
// never under-collects by a rounding cent.
func ValidateCode(dc *domain.DiscountCode, runningTotal decimal.Decimal, now time.Time) Result {
	if !dc.Active {
		return Result{Reason: ReasonInactive, FinalTotal: runningTotal}
	}
	if dc.ExpiresAt != "" {
		expiry, err := dateparse.ParseAny(dc.ExpiresAt)
		if err != nil || !now.Before(expiry) {
			return Result{Reason: ReasonExpired, FinalTotal: runningTotal}
		}
	}
	if dc.MaxUses > 0 && dc.UsesCount >= dc.MaxUses {
		return Result{Reason: ReasonExhausted, FinalTotal: runningTotal}
	}

	value := decimal.NewFromFloat(dc.Value)
	var amount decimal.Decimal
	if dc.Type == domain.DiscountTypePercent {
		amount = runningTotal.Mul(value).Div(decimal.NewFromInt(100)).Round(2)
	} else {
		amount = value.Round(2)
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if amount.GreaterThan(runningTotal) {
		amount = runningTotal
	}
	final := runningTotal.Sub(amount).RoundDown(2)
	if final.IsNegative() {
		final = decimal.Zero
	}
	return Result{OK: true, Amount: amount, FinalTotal: final}
}

// ResellerRates loads the per-type discount percentages for a user. Empty
// map for non-resellers.
func (e *Evaluator) ResellerRates(ctx context.Context, userID int64) (map[string]float64, error) {
	var rows []domain.ResellerRate
	if err := e.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	rates := make(map[string]float64, len(rows))
	for _, r := range rows {
		rates[r.ProductType] = r.Percent
	}
	return rates, nil
}

// ApplyResellerRates discounts each line by its product-type rate, rounding
// half-up to 2 decimals and flooring the unit price at 0.01. Returns the
// adjusted lines and their subtotal (rounded down).
func ApplyResellerRates(lines []Line, rates map[string]float64) ([]Line, decimal.Decimal) {
	adjusted := make([]Line, len(lines))
	subtotal := decimal.Zero
	hundred := decimal.NewFromInt(100)
	for i, ln := range lines {
		price := ln.Price
		if pct, ok := rates[ln.ProductType]; ok && pct > 0 {
			factor := hundred.Sub(decimal.NewFromFloat(pct)).Div(hundred)
			price = ln.Price.Mul(factor).Round(2)
			if price.LessThan(minUnitPrice) {
				price = minUnitPrice
			}
		}
		adjusted[i] = Line{ProductID: ln.ProductID, ProductType: ln.ProductType, Price: price}
		subtotal = subtotal.Add(price)
	}
	return adjusted, subtotal.RoundDown(2)
}
