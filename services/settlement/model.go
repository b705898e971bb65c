package settlement

import (
	"time"
)

const (
	OrderPending = "pending"
	OrderPaid    = "paid"
	OrderSettled = "settled"
	OrderFailed  = "failed"
)

// Order is a buyer's purchase of one batch per cart line. Status moves one
// way only: pending to paid to settled, or pending to failed. Every
// transition is a conditional UPDATE so concurrent confirmations and expiry
// sweeps cannot move an order backwards.
type Order struct {
	ID          string     `gorm:"column:id;primaryKey"`
	Code        string     `gorm:"column:code"`
	BuyerID     string     `gorm:"column:buyer_id;index"`
	Status      string     `gorm:"column:status;index"`
	TotalAmount int64      `gorm:"column:total_amount"`
	Currency    string     `gorm:"column:currency"`
	ProviderRef string     `gorm:"column:provider_ref;index"`
	PaymentRef  string     `gorm:"column:payment_ref"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;index"`
	PaidAt      *time.Time `gorm:"column:paid_at"`
	SettledAt   *time.Time `gorm:"column:settled_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (Order) TableName() string { return "orders" }

// OrderLineItem is one category batch inside an order. Position preserves
// the cart's insertion order so settlement walks lines deterministically.
type OrderLineItem struct {
	ID            string    `gorm:"column:id;primaryKey"`
	OrderID       string    `gorm:"column:order_id;index"`
	Position      int       `gorm:"column:position"`
	CategoryID    string    `gorm:"column:category_id"`
	Quantity      int       `gorm:"column:quantity"`
	ClaimedCount  int       `gorm:"column:claimed_count"`
	SettledAmount int64     `gorm:"column:settled_amount"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (OrderLineItem) TableName() string { return "order_line_items" }

// CartItem is a category the buyer intends to purchase a batch of. One row
// per buyer and category.
type CartItem struct {
	ID         string    `gorm:"column:id;primaryKey"`
	BuyerID    string    `gorm:"column:buyer_id;index:idx_cart_buyer_category,unique"`
	CategoryID string    `gorm:"column:category_id;index:idx_cart_buyer_category,unique"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (CartItem) TableName() string { return "cart_items" }
