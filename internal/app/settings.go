package app

import (
	"errors"
	"time"

	"github.com/chatshop/chatshop/internal/domain"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettingsManager reads runtime-tunable shop settings from the shop_config
// table with typed conversions.
type SettingsManager struct {
	db *gorm.DB
}

func NewSettingsManager(db *gorm.DB) *SettingsManager {
	return &SettingsManager{db: db}
}

func (m *SettingsManager) get(category, name string) string {
	var row domain.ShopConfig
	err := m.db.Where("type = ? AND name = ?", category, name).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Error("settings read failed",
				zap.String("category", category), zap.String("name", name), zap.Error(err))
		}
		return ""
	}
	return row.Value
}

func (m *SettingsManager) GetString(category, name string) string {
	return m.get(category, name)
}

func (m *SettingsManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.get(category, name))
}

func (m *SettingsManager) GetFloat64(category, name string) float64 {
	return cast.ToFloat64(m.get(category, name))
}

func (m *SettingsManager) GetBool(category, name string) bool {
	return cast.ToBool(m.get(category, name))
}

type settingSchema struct {
	Category    string
	Name        string
	Default     string
	Description string
}

var defaultSettings = []settingSchema{
	{"shop", "basket_ttl_seconds", "1800", "Reservations older than this are released by the sweeper"},
	{"shop", "sweep_interval_seconds", "60", "How often the basket sweeper runs"},
	{"shop", "settlement_currency", "usd", "Currency balances and prices are kept in"},
	{"shop", "media_workers", "4", "Workers for post-sale media cleanup"},
	{"payment", "fee_adjustment", "0.95", "Credit multiplier reserving margin for rate slippage and fees"},
	{"payment", "rate_ttl_seconds", "300", "Exchange rate cache TTL"},
	{"payment", "pending_retention_days", "7", "Days before stale pending deposits are purged"},
}

// checkSettings seeds missing settings with defaults.
func (a *Application) checkSettings() {
	for sortid, schema := range defaultSettings {
		var count int64
		a.gormDB.Model(&domain.ShopConfig{}).
			Where("type = ? AND name = ?", schema.Category, schema.Name).
			Count(&count)
		if count == 0 {
			now := time.Now()
			a.gormDB.Create(&domain.ShopConfig{
				Sort:      sortid,
				Type:      schema.Category,
				Name:      schema.Name,
				Value:     schema.Default,
				Remark:    schema.Description,
				CreatedAt: now,
				UpdatedAt: now,
			})
			zap.L().Info("initialized setting",
				zap.String("category", schema.Category),
				zap.String("name", schema.Name),
				zap.String("default", schema.Default))
		}
	}
}
