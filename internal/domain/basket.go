package domain

import "time"

// BasketEntry is one reserved unit held by a user. Every row corresponds to
// exactly one outstanding Reserved unit on its product; entries are fungible
// within a product row. Destroyed on checkout commit, explicit removal,
// clear, or expiry.
type BasketEntry struct {
	ID          int64     `json:"id,string" form:"id"`
	UserId      int64     `gorm:"index" json:"user_id" form:"user_id"`
	ProductId   int64     `gorm:"index" json:"product_id" form:"product_id"`
	ProductType string    `json:"product_type" form:"product_type"`
	Price       float64   `json:"price" form:"price"`
	ReservedAt  time.Time `gorm:"index" json:"reserved_at" form:"reserved_at"`
}

// TableName Specify table name
func (BasketEntry) TableName() string {
	return "basket_entries"
}
