package domain

import "time"

// PendingDeposit correlates an issued payment invoice with its owning user.
// Keyed by the provider's payment id; at most one live row per payment id.
// Its presence is the sole signal that a credit has not yet been applied,
// and its deletion is the durable idempotency marker for the webhook.
type PendingDeposit struct {
	PaymentId   string    `gorm:"primaryKey;size:64" json:"payment_id" form:"payment_id"`
	UserId      int64     `gorm:"index" json:"user_id" form:"user_id"`
	PayCurrency string    `gorm:"size:16" json:"pay_currency" form:"pay_currency"`
	Amount      float64   `json:"amount" form:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName Specify table name
func (PendingDeposit) TableName() string {
	return "pending_deposits"
}
