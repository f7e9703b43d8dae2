package domain

import "time"

// Purchase is an immutable historical record written at sale commit time.
type Purchase struct {
	ID          int64     `json:"id,string" form:"id"`
	UserId      int64     `gorm:"index" json:"user_id" form:"user_id"`
	ProductId   int64     `json:"product_id" form:"product_id"`
	ProductType string    `json:"product_type" form:"product_type"`
	City        string    `json:"city" form:"city"`
	District    string    `json:"district" form:"district"`
	Size        string    `json:"size" form:"size"`
	Price       float64   `json:"price" form:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName Specify table name
func (Purchase) TableName() string {
	return "purchases"
}

// Review is user feedback attached to a purchase.
type Review struct {
	ID         int64     `json:"id,string" form:"id"`
	UserId     int64     `gorm:"index" json:"user_id" form:"user_id"`
	PurchaseId int64     `gorm:"index" json:"purchase_id" form:"purchase_id"`
	Rating     int       `json:"rating" form:"rating"`
	Text       string    `gorm:"size:2048" json:"text" form:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName Specify table name
func (Review) TableName() string {
	return "reviews"
}
