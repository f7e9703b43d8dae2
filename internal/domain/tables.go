package domain

var Tables = []interface{}{
	// System
	&ShopConfig{},
	// Catalog
	&Product{},
	&ProductMedia{},
	// Shoppers
	&User{},
	&ResellerRate{},
	&BasketEntry{},
	// Commerce
	&DiscountCode{},
	&PendingDeposit{},
	&Purchase{},
	&Review{},
}
