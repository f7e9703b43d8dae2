package store

import (
	"context"
	"errors"
	"time"

	"github.com/chatshop/chatshop/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrOutOfStock is a normal, expected outcome of Reserve: no product row
	// matched the query with sellable stock.
	ErrOutOfStock = errors.New("out of stock")

	// ErrRaceLost is returned by CommitSale when the availability guard fails
	// because a concurrent sweep or commit consumed the unit first.
	ErrRaceLost = errors.New("stock race lost")

	// ErrNotInBasket is returned by Release when the user holds no
	// reservation on the given product.
	ErrNotInBasket = errors.New("product not in basket")
)

// ProductQuery selects candidate products for reservation. Empty fields
// match any value.
type ProductQuery struct {
	City     string
	District string
	Type     string
	Size     string
}

// Engine owns the reserved <= available invariant. Every mutation of a
// product's counters together with the owning user's basket entries happens
// inside one transaction; guarded updates are the only concurrency control.
type Engine struct {
	db *gorm.DB
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

func (e *Engine) applyQuery(db *gorm.DB, q ProductQuery) *gorm.DB {
	if q.City != "" {
		db = db.Where("city = ?", q.City)
	}
	if q.District != "" {
		db = db.Where("district = ?", q.District)
	}
	if q.Type != "" {
		db = db.Where("type = ?", q.Type)
	}
	if q.Size != "" {
		db = db.Where("size = ?", q.Size)
	}
	return db
}

// Reserve holds one unit of the lowest-id product matching the query and
// records a basket entry for the user. Returns the reserved product id, or
// ErrOutOfStock when nothing sellable matches.
func (e *Engine) Reserve(ctx context.Context, userID int64, q ProductQuery) (int64, error) {
	var productID int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A concurrent reserve can consume the candidate between the read
		// and the guarded update; re-select a few times before giving up.
		for attempt := 0; attempt < 3; attempt++ {
			var p domain.Product
			err := e.applyQuery(tx.Model(&domain.Product{}), q).
				Where("available > reserved").
				Order("id").
				First(&p).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOutOfStock
			}
			if err != nil {
				return err
			}

			res := tx.Model(&domain.Product{}).
				Where("id = ? AND available > reserved", p.ID).
				Update("reserved", gorm.Expr("reserved + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}

			entry := domain.BasketEntry{
				UserId:      userID,
				ProductId:   p.ID,
				ProductType: p.Type,
				Price:       p.Price,
				ReservedAt:  time.Now(),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
			productID = p.ID
			return nil
		}
		return ErrOutOfStock
	})
	if err != nil {
		return 0, err
	}
	return productID, nil
}

// Release gives back one reserved unit and removes the first matching basket
// entry. The reserved counter is floored at zero, so a double release never
// drives it negative.
func (e *Engine) Release(ctx context.Context, userID, productID int64) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry domain.BasketEntry
		err := tx.Where("user_id = ? AND product_id = ?", userID, productID).
			Order("id").
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotInBasket
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&domain.BasketEntry{}, entry.ID).Error; err != nil {
			return err
		}
		return decrementReserved(tx, productID, 1)
	})
}

// ReleaseMany gives back reserved units grouped by product id in one
// transaction. Used when a basket is cleared wholesale.
func (e *Engine) ReleaseMany(ctx context.Context, counts map[int64]int) error {
	if len(counts) == 0 {
		return nil
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return releaseCounts(tx, counts)
	})
}

// ReleaseCountsTx releases reserved units grouped by product id inside the
// caller's transaction.
func (e *Engine) ReleaseCountsTx(tx *gorm.DB, counts map[int64]int) error {
	return releaseCounts(tx, counts)
}

// CommitSale finalizes the sale of one reserved unit inside the caller's
// transaction: reserved goes back first, then available is decremented under
// an availability guard. A failed guard restores the reserved decrement and
// reports ErrRaceLost so the caller can exclude the line without charging
// for it. When the last unit sells, the product row and its media rows are
// removed; the media paths are returned for post-commit file cleanup.
func (e *Engine) CommitSale(tx *gorm.DB, productID int64) ([]string, error) {
	resv := tx.Model(&domain.Product{}).
		Where("id = ? AND reserved > 0", productID).
		Update("reserved", gorm.Expr("reserved - 1"))
	if resv.Error != nil {
		return nil, resv.Error
	}

	sold := tx.Model(&domain.Product{}).
		Where("id = ? AND available > 0", productID).
		Update("available", gorm.Expr("available - 1"))
	if sold.Error != nil {
		return nil, sold.Error
	}
	if sold.RowsAffected == 0 {
		if resv.RowsAffected > 0 {
			if err := tx.Model(&domain.Product{}).
				Where("id = ?", productID).
				Update("reserved", gorm.Expr("reserved + 1")).Error; err != nil {
				return nil, err
			}
		}
		return nil, ErrRaceLost
	}

	var p domain.Product
	if err := tx.First(&p, productID).Error; err != nil {
		return nil, err
	}
	if p.Available > 0 {
		return nil, nil
	}

	// Last unit sold: single-unit SKU lifecycle ends here.
	var media []domain.ProductMedia
	if err := tx.Where("product_id = ?", productID).Find(&media).Error; err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(media))
	for _, m := range media {
		paths = append(paths, m.Path)
	}
	if err := tx.Where("product_id = ?", productID).Delete(&domain.ProductMedia{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Delete(&domain.Product{}, productID).Error; err != nil {
		return nil, err
	}
	return paths, nil
}

// BasketContents returns the user's basket entries, oldest first.
func (e *Engine) BasketContents(ctx context.Context, userID int64) ([]domain.BasketEntry, error) {
	var entries []domain.BasketEntry
	err := e.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&entries).Error
	return entries, err
}

// ClearBasket releases every reservation the user holds and deletes the
// basket entries, all in one transaction.
func (e *Engine) ClearBasket(ctx context.Context, userID int64) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []domain.BasketEntry
		if err := tx.Where("user_id = ?", userID).Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		counts := map[int64]int{}
		for _, en := range entries {
			counts[en.ProductId]++
		}
		if err := releaseCounts(tx, counts); err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&domain.BasketEntry{}).Error
	})
}

// decrementReserved lowers a product's reserved counter by n with a floor of
// zero.
func decrementReserved(tx *gorm.DB, productID int64, n int) error {
	res := tx.Model(&domain.Product{}).
		Where("id = ? AND reserved >= ?", productID, n).
		Update("reserved", gorm.Expr("reserved - ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Fewer than n outstanding: clamp rather than go negative.
		res = tx.Model(&domain.Product{}).
			Where("id = ? AND reserved > 0", productID).
			Update("reserved", 0)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			zap.L().Warn("reserved counter clamped to zero",
				zap.Int64("product_id", productID), zap.Int("wanted", n))
		}
	}
	return nil
}

func releaseCounts(tx *gorm.DB, counts map[int64]int) error {
	for productID, n := range counts {
		if n <= 0 {
			continue
		}
		if err := decrementReserved(tx, productID, n); err != nil {
			return err
		}
	}
	return nil
}
