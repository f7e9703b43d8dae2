package domain

import "time"

// ShopConfig is a runtime-tunable shop setting (basket TTL, fee adjustment
// and the like), seeded with defaults at startup and edited by operators.
type ShopConfig struct {
	ID        int64     `json:"id,string" form:"id"`
	Sort      int       `json:"sort" form:"sort"`
	Type      string    `gorm:"index" json:"type" form:"type"`
	Name      string    `gorm:"index" json:"name" form:"name"`
	Value     string    `json:"value" form:"value"`
	Remark    string    `json:"remark" form:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (ShopConfig) TableName() string {
	return "shop_config"
}
