package webserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chatshop/chatshop/internal/bridge"
	"github.com/chatshop/chatshop/internal/deposit"
	"github.com/chatshop/chatshop/internal/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// paymentNotify receives provider callbacks. The provider only needs an
// acknowledgement, not a result: anything past payload validation answers
// 200, including bounded-wait timeouts and processing errors (redelivery is
// the retry mechanism).
func (s *Server) paymentNotify(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_BODY", "unable to read body", nil)
	}
	var n deposit.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_JSON", "unable to parse notification", nil)
	}
	if n.PaymentID == "" || n.PaymentStatus == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "payment_id and payment_status are required", nil)
	}

	err = s.bridge.Submit(c.Request().Context(), func(ctx context.Context) error {
		return s.deposit.HandleCallback(ctx, n)
	}, webhookWait)
	switch {
	case err == nil:
	case errors.Is(err, bridge.ErrStillProcessing):
		zap.L().Info("webhook processing continues asynchronously",
			zap.String("payment_id", n.PaymentID))
	case errors.Is(err, deposit.ErrInvalidNotification):
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "notification missing required fields", nil)
	default:
		// Transient processing failure: ack anyway and rely on redelivery.
		zap.L().Warn("webhook processing failed, relying on provider redelivery",
			zap.String("payment_id", n.PaymentID), zap.Error(err))
	}
	return c.String(http.StatusOK, "OK")
}

type catalogProduct struct {
	ID       int64   `json:"id,string"`
	City     string  `json:"city"`
	District string  `json:"district"`
	Type     string  `json:"type"`
	Size     string  `json:"size"`
	Price    float64 `json:"price"`
	Sellable int     `json:"sellable"`
}

// listProducts is the read-only catalog query: sellable = available-reserved.
func (s *Server) listProducts(c echo.Context) error {
	db := s.db.Model(&domain.Product{}).Where("available > reserved")
	if v := strings.TrimSpace(c.QueryParam("city")); v != "" {
		db = db.Where("city = ?", v)
	}
	if v := strings.TrimSpace(c.QueryParam("district")); v != "" {
		db = db.Where("district = ?", v)
	}
	if v := strings.TrimSpace(c.QueryParam("type")); v != "" {
		db = db.Where("type = ?", v)
	}
	if v := strings.TrimSpace(c.QueryParam("size")); v != "" {
		db = db.Where("size = ?", v)
	}

	var rows []domain.Product
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "failed to query products", nil)
	}
	out := make([]catalogProduct, 0, len(rows))
	for _, p := range rows {
		out = append(out, catalogProduct{
			ID:       p.ID,
			City:     p.City,
			District: p.District,
			Type:     p.Type,
			Size:     p.Size,
			Price:    p.Price,
			Sellable: p.Available - p.Reserved,
		})
	}
	return ok(c, out)
}

func (s *Server) userBasket(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "invalid user id", nil)
	}
	entries, err := s.engine.BasketContents(c.Request().Context(), userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "failed to query basket", nil)
	}
	return ok(c, entries)
}
