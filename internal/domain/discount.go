package domain

import "time"

const (
	DiscountTypePercent = "percentage"
	DiscountTypeFixed   = "fixed"
)

// DiscountCode is a general discount definition. UsesCount is incremented
// only on successful checkout. ExpiresAt is a free-form date string; empty
// means no expiry.
type DiscountCode struct {
	ID        int64     `json:"id,string" form:"id"`
	Code      string    `gorm:"uniqueIndex" json:"code" form:"code"`
	Type      string    `json:"type" form:"type"`
	Value     float64   `json:"value" form:"value"`
	Active    bool      `json:"active" form:"active"`
	MaxUses   int       `json:"max_uses" form:"max_uses"`
	UsesCount int       `json:"uses_count" form:"uses_count"`
	ExpiresAt string    `json:"expires_at" form:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (DiscountCode) TableName() string {
	return "discount_codes"
}
