package webserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatshop/chatshop/config"
	"github.com/chatshop/chatshop/internal/bridge"
	"github.com/chatshop/chatshop/internal/deposit"
	"github.com/chatshop/chatshop/internal/domain"
	"github.com/chatshop/chatshop/internal/notify"
	"github.com/chatshop/chatshop/internal/store"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type staticRateSource struct {
	rate decimal.Decimal
}

func (s *staticRateSource) FetchRate(ctx context.Context, payCurrency string) (decimal.Decimal, error) {
	return s.rate, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(userID int64, outcome notify.Outcome) {}

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
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

	oracle := deposit.NewOracle(&staticRateSource{rate: decimal.NewFromInt(30000)}, time.Minute)
	depositSvc := deposit.NewService(db, oracle, nil, nopNotifier{},
		"http://127.0.0.1/payment/notify", func() float64 { return 0.95 })

	br := bridge.New(8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go br.Run(ctx)

	cfg := *config.DefaultAppConfig
	return NewServer(&cfg, db, store.NewEngine(db), depositSvc, br), db
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestPaymentNotify(t *testing.T) {
	t.Run("malformed json is rejected", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(s, http.MethodPost, "/payment/notify", "{not json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing fields are rejected", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := doRequest(s, http.MethodPost, "/payment/notify", `{"payment_id":"pay-1"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("finished payment acknowledges and credits", func(t *testing.T) {
		s, db := newTestServer(t)
		if err := db.Create(&domain.User{ID: 7, ChatId: 700, Balance: 10}).Error; err != nil {
			t.Fatal(err)
		}
		if err := db.Create(&domain.PendingDeposit{
			PaymentId: "pay-1", UserId: 7, PayCurrency: "btc", Amount: 100,
		}).Error; err != nil {
			t.Fatal(err)
		}

		payload := `{"payment_id":"pay-1","payment_status":"finished","pay_currency":"btc","actually_paid":0.0035}`
		rec := doRequest(s, http.MethodPost, "/payment/notify", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if got := rec.Body.String(); got != "OK" {
			t.Fatalf("body = %q, want OK", got)
		}

		var u domain.User
		if err := db.First(&u, 7).Error; err != nil {
			t.Fatal(err)
		}
		if u.Balance != 109.75 {
			t.Fatalf("balance = %v, want 109.75", u.Balance)
		}

		// Redelivery still answers 200 and credits nothing further.
		rec = doRequest(s, http.MethodPost, "/payment/notify", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("replay status = %d", rec.Code)
		}
		if err := db.First(&u, 7).Error; err != nil {
			t.Fatal(err)
		}
		if u.Balance != 109.75 {
			t.Fatalf("balance after replay = %v", u.Balance)
		}
	})

	t.Run("unknown payment still acknowledges", func(t *testing.T) {
		s, _ := newTestServer(t)
		payload := `{"payment_id":"ghost","payment_status":"finished","pay_currency":"btc","actually_paid":1}`
		rec := doRequest(s, http.MethodPost, "/payment/notify", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

func TestListProducts(t *testing.T) {
	s, db := newTestServer(t)
	seed := []domain.Product{
		{ID: 1, City: "berlin", District: "mitte", Type: "widget", Size: "m", Price: 10, Available: 3, Reserved: 1},
		{ID: 2, City: "berlin", District: "neukoelln", Type: "gadget", Size: "l", Price: 20, Available: 1, Reserved: 1},
		{ID: 3, City: "hamburg", District: "altona", Type: "widget", Size: "m", Price: 15, Available: 2},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatal(err)
		}
	}

	t.Run("fully reserved products are hidden", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/api/catalog/products", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			Success bool             `json:"success"`
			Data    []catalogProduct `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Data) != 2 {
			t.Fatalf("got %d products, want 2: %+v", len(resp.Data), resp.Data)
		}
		if resp.Data[0].ID != 1 || resp.Data[0].Sellable != 2 {
			t.Fatalf("first product = %+v", resp.Data[0])
		}
	})

	t.Run("city filter narrows results", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/api/catalog/products?city=hamburg", "")
		var resp struct {
			Data []catalogProduct `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Data) != 1 || resp.Data[0].City != "hamburg" {
			t.Fatalf("data = %+v", resp.Data)
		}
	})
}

func TestUserBasket(t *testing.T) {
	s, db := newTestServer(t)
	if err := db.Create(&domain.BasketEntry{
		UserId: 7, ProductId: 1, ProductType: "widget", Price: 10, ReservedAt: time.Now(),
	}).Error; err != nil {
		t.Fatal(err)
	}

	t.Run("returns the user's entries", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/api/users/7/basket", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			Data []domain.BasketEntry `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Data) != 1 || resp.Data[0].ProductId != 1 {
			t.Fatalf("data = %+v", resp.Data)
		}
	})

	t.Run("garbage user id is rejected", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/api/users/abc/basket", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}
