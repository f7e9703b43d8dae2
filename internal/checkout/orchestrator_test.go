package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatshop/chatshop/internal/discount"
	"github.com/chatshop/chatshop/internal/domain"
	"github.com/chatshop/chatshop/internal/notify"
	"github.com/chatshop/chatshop/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeNotifier struct {
	mu       sync.Mutex
	outcomes []notify.Outcome
}

func (f *fakeNotifier) Notify(userID int64, outcome notify.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeNotifier) kinds() []notify.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]notify.Kind, len(f.outcomes))
	for i, o := range f.outcomes {
		kinds[i] = o.Kind
	}
	return kinds
}

func (f *fakeNotifier) has(kind notify.Kind) bool {
	for _, k := range f.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeCleaner struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeCleaner) CleanupAsync(paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, paths...)
}

type fixture struct {
	db       *gorm.DB
	orch     *Orchestrator
	notifier *fakeNotifier
	cleaner  *fakeCleaner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrator().AutoMigrate(domain.Tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	notifier := &fakeNotifier{}
	cleaner := &fakeCleaner{}
	engine := store.NewEngine(db)
	orch := NewOrchestrator(db, engine, discount.NewEvaluator(db), notifier, cleaner)
	return &fixture{db: db, orch: orch, notifier: notifier, cleaner: cleaner}
}

func (f *fixture) create(t *testing.T, v interface{}) {
	t.Helper()
	if err := f.db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

// reserved seeds a product together with a matching basket entry, the state
// the reservation engine leaves behind.
func (f *fixture) reserved(t *testing.T, userID int64, p domain.Product) {
	t.Helper()
	p.Reserved++
	var existing domain.Product
	err := f.db.First(&existing, p.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		f.create(t, &p)
	} else if err == nil {
		f.db.Model(&domain.Product{}).Where("id = ?", p.ID).
			Update("reserved", gorm.Expr("reserved + 1"))
	} else {
		t.Fatal(err)
	}
	f.create(t, &domain.BasketEntry{
		UserId:      userID,
		ProductId:   p.ID,
		ProductType: p.Type,
		Price:       p.Price,
		ReservedAt:  time.Now(),
	})
}

func (f *fixture) user(t *testing.T, id int64) domain.User {
	t.Helper()
	var u domain.User
	if err := f.db.First(&u, id).Error; err != nil {
		t.Fatalf("load user %d: %v", id, err)
	}
	return u
}

func TestOrchestrator_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("settles basket with discount code", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, &domain.User{ID: 7, ChatId: 700, Balance: 100, DiscountCode: "SAVE10"})
		f.create(t, &domain.DiscountCode{ID: 1, Code: "SAVE10", Type: domain.DiscountTypePercent, Value: 10, Active: true})
		f.reserved(t, 7, domain.Product{ID: 1, City: "berlin", Type: "widget", Price: 60, Available: 1})
		f.reserved(t, 7, domain.Product{ID: 2, City: "berlin", Type: "gadget", Price: 40, Available: 1})
		f.create(t, &domain.ProductMedia{ProductId: 1, Path: "/media/1.jpg"})

		receipt, err := f.orch.Checkout(ctx, 7)
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if len(receipt.Sold) != 2 {
			t.Fatalf("expected 2 sold lines, got %d", len(receipt.Sold))
		}
		if got := receipt.Subtotal.StringFixed(2); got != "100.00" {
			t.Fatalf("subtotal = %s", got)
		}
		if got := receipt.Discount.StringFixed(2); got != "10.00" {
			t.Fatalf("discount = %s", got)
		}
		if got := receipt.Total.StringFixed(2); got != "90.00" {
			t.Fatalf("total = %s", got)
		}
		if got := receipt.NewBalance.StringFixed(2); got != "10.00" {
			t.Fatalf("balance = %s", got)
		}

		u := f.user(t, 7)
		if u.Balance != 10 {
			t.Fatalf("stored balance = %v", u.Balance)
		}
		if u.PurchaseCount != 2 {
			t.Fatalf("purchase count = %d", u.PurchaseCount)
		}

		var dc domain.DiscountCode
		f.db.First(&dc, 1)
		if dc.UsesCount != 1 {
			t.Fatalf("uses_count = %d", dc.UsesCount)
		}

		var count int64
		f.db.Model(&domain.BasketEntry{}).Where("user_id = ?", 7).Count(&count)
		if count != 0 {
			t.Fatalf("basket not cleared, %d entries left", count)
		}
		f.db.Model(&domain.Product{}).Count(&count)
		if count != 0 {
			t.Fatal("expected sold-out product rows deleted")
		}
		f.db.Model(&domain.Purchase{}).Where("user_id = ?", 7).Count(&count)
		if count != 2 {
			t.Fatalf("expected 2 purchase records, got %d", count)
		}

		if !f.notifier.has(notify.KindPurchaseComplete) {
			t.Fatalf("missing purchase_complete, got %v", f.notifier.kinds())
		}
		if len(f.cleaner.paths) != 1 || f.cleaner.paths[0] != "/media/1.jpg" {
			t.Fatalf("cleanup paths = %v", f.cleaner.paths)
		}
	})

	t.Run("insufficient funds leaves basket and balance untouched", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, &domain.User{ID: 7, ChatId: 700, Balance: 5})
		f.reserved(t, 7, domain.Product{ID: 1, City: "berlin", Type: "widget", Price: 60, Available: 1})

		_, err := f.orch.Checkout(ctx, 7)
		var insufficient *InsufficientFundsError
		if !errors.As(err, &insufficient) {
			t.Fatalf("expected InsufficientFundsError, got %v", err)
		}
		if got := insufficient.Shortfall.StringFixed(2); got != "55.00" {
			t.Fatalf("shortfall = %s", got)
		}

		u := f.user(t, 7)
		if u.Balance != 5 {
			t.Fatalf("balance changed to %v", u.Balance)
		}
		var count int64
		f.db.Model(&domain.BasketEntry{}).Where("user_id = ?", 7).Count(&count)
		if count != 1 {
			t.Fatalf("basket disturbed, %d entries", count)
		}
		if !f.notifier.has(notify.KindInsufficientFunds) {
			t.Fatalf("missing insufficient_funds, got %v", f.notifier.kinds())
		}
	})

	t.Run("race lost line is excluded from the charge", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, &domain.User{ID: 7, ChatId: 700, Balance: 100})
		f.reserved(t, 7, domain.Product{ID: 1, City: "berlin", Type: "widget", Price: 60, Available: 1})
		f.reserved(t, 7, domain.Product{ID: 2, City: "berlin", Type: "widget", Price: 30, Available: 1})
		// Product 2's last unit was committed by a concurrent checkout.
		f.db.Model(&domain.Product{}).Where("id = ?", 2).Update("available", 0)

		receipt, err := f.orch.Checkout(ctx, 7)
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if len(receipt.Sold) != 1 || receipt.Sold[0].ProductID != 1 {
			t.Fatalf("sold = %+v", receipt.Sold)
		}
		if len(receipt.SoldOut) != 1 || receipt.SoldOut[0] != 2 {
			t.Fatalf("sold out = %v", receipt.SoldOut)
		}
		if got := receipt.Total.StringFixed(2); got != "60.00" {
			t.Fatalf("total = %s, want only the sold line", got)
		}

		u := f.user(t, 7)
		if u.Balance != 40 {
			t.Fatalf("balance = %v, want 40", u.Balance)
		}
		// The loser's reserved unit is released with its entry.
		var p domain.Product
		if err := f.db.First(&p, 2).Error; err != nil {
			t.Fatal(err)
		}
		if p.Reserved != 0 {
			t.Fatalf("race-lost product reserved = %d, want 0", p.Reserved)
		}
		var count int64
		f.db.Model(&domain.BasketEntry{}).Where("user_id = ?", 7).Count(&count)
		if count != 0 {
			t.Fatalf("basket not cleared, %d entries", count)
		}
	})

	t.Run("every line race lost rolls back without charging", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, &domain.User{ID: 7, ChatId: 700, Balance: 100})
		f.reserved(t, 7, domain.Product{ID: 1, City: "berlin", Type: "widget", Price: 60, Available: 1})
		f.db.Model(&domain.Product{}).Where("id = ?", 1).Update("available", 0)

		_, err := f.orch.Checkout(ctx, 7)
		if !errors.Is(err, ErrNothingSold) {
			t.Fatalf("expected ErrNothingSold, got %v", err)
		}
		u := f.user(t, 7)
		if u.Balance != 100 {
			t.Fatalf("balance = %v, want untouched", u.Balance)
		}
		var count int64
		f.db.Model(&domain.BasketEntry{}).Where("user_id = ?", 7).Count(&count)
		if count != 1 {
			t.Fatalf("rollback should keep the entry, got %d", count)
		}
	})

	t.Run("stale stored code is dropped and user told", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, &domain.User{ID: 7, ChatId: 700, Balance: 100, DiscountCode: "DEAD"})
		f.create(t, &domain.DiscountCode{ID: 1, Code: "DEAD", Type: domain.DiscountTypePercent, Value: 10, Active: false})
		f.reserved(t, 7, domain.Product{ID: 1, City: "berlin", Type: "widget", Price: 60, Available: 1})

		receipt, err := f.orch.Checkout(ctx, 7)
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if receipt.DroppedCode != "DEAD" {
			t.Fatalf("dropped code = %q", receipt.DroppedCode)
		}
		if got := receipt.Total.StringFixed(2); got != "60.00" {
			t.Fatalf("total = %s, want full price", got)
		}
		u := f.user(t, 7)
		if u.DiscountCode != "" {
			t.Fatalf("stored code = %q, want cleared", u.DiscountCode)
		}
		if !f.notifier.has(notify.KindDiscountDropped) {
			t.Fatalf("missing discount_dropped, got %v", f.notifier.kinds())
		}
	})

	t.Run("reseller rates adjust lines before the code", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, &domain.User{ID: 7, ChatId: 700, Balance: 100, Reseller: true})
		f.create(t, &domain.ResellerRate{UserId: 7, ProductType: "widget", Percent: 50})
		f.reserved(t, 7, domain.Product{ID: 1, City: "berlin", Type: "widget", Price: 60, Available: 1})

		receipt, err := f.orch.Checkout(ctx, 7)
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		if got := receipt.Total.StringFixed(2); got != "30.00" {
			t.Fatalf("total = %s, want 30.00", got)
		}
		u := f.user(t, 7)
		if u.Balance != 70 {
			t.Fatalf("balance = %v, want 70", u.Balance)
		}
	})

	t.Run("empty basket", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, &domain.User{ID: 7, ChatId: 700, Balance: 100})

		_, err := f.orch.Checkout(ctx, 7)
		if !errors.Is(err, ErrEmptyBasket) {
			t.Fatalf("expected ErrEmptyBasket, got %v", err)
		}
	})
}
