package domain

import "time"

// User owns a settlement-currency balance. Balance is mutated only by the
// checkout orchestrator (debit) and the deposit service (credit), always
// inside the transaction that also updates the triggering record.
type User struct {
	ID            int64     `json:"id,string" form:"id"`
	ChatId        int64     `gorm:"uniqueIndex" json:"chat_id" form:"chat_id"`
	Username      string    `gorm:"index" json:"username" form:"username"`
	Balance       float64   `json:"balance" form:"balance"`
	PurchaseCount int       `json:"purchase_count" form:"purchase_count"`
	Reseller      bool      `json:"reseller" form:"reseller"`
	DiscountCode  string    `json:"discount_code" form:"discount_code"`
	Status        string    `json:"status" form:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName Specify table name
func (User) TableName() string {
	return "users"
}

// ResellerRate is a per-user, per-product-type discount percentage applied
// to basket lines before any general discount code.
type ResellerRate struct {
	ID          int64     `json:"id,string" form:"id"`
	UserId      int64     `gorm:"index:idx_reseller_user_type" json:"user_id" form:"user_id"`
	ProductType string    `gorm:"index:idx_reseller_user_type" json:"product_type" form:"product_type"`
	Percent     float64   `json:"percent" form:"percent"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName Specify table name
func (ResellerRate) TableName() string {
	return "reseller_rates"
}
