package domain

import "time"

// Product is a single-unit SKU row: Available counts units ever stocked and
// is decremented on final sale, Reserved counts units held by unexpired
// baskets. Invariant: 0 <= Reserved <= Available; Available-Reserved is the
// sellable quantity shown to shoppers.
type Product struct {
	ID        int64     `json:"id,string" form:"id"`
	City      string    `gorm:"index" json:"city" form:"city"`
	District  string    `gorm:"index" json:"district" form:"district"`
	Type      string    `gorm:"index" json:"type" form:"type"`
	Size      string    `json:"size" form:"size"`
	Price     float64   `json:"price" form:"price"`
	Available int       `json:"available" form:"available"`
	Reserved  int       `json:"reserved" form:"reserved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (Product) TableName() string {
	return "products"
}

// ProductMedia is a media asset attached to a product. Rows are removed and
// the backing files deleted after the product is sold.
type ProductMedia struct {
	ID        int64     `json:"id,string" form:"id"`
	ProductId int64     `gorm:"index" json:"product_id" form:"product_id"`
	Path      string    `gorm:"size:1024" json:"path" form:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName Specify table name
func (ProductMedia) TableName() string {
	return "product_media"
}
