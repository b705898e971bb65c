package inventory

import "time"

const (
	// StatusPending marks a submission that has not been scored yet and is
	// not purchasable.
	StatusPending = "pending"
	// StatusListed marks an item available for claiming.
	StatusListed = "listed"
	// StatusClaimed marks an item exclusively held by one order.
	StatusClaimed = "claimed"
	// StatusSold is terminal; sold rows are never mutated again.
	StatusSold = "sold"
)

// Item is a contributor's uploaded asset record. BasePayout is the
// display-only estimate computed at ingestion; SoldPrice is what the item
// actually settled for and the two routinely diverge.
type Item struct {
	ID              string     `gorm:"column:id;primaryKey"`
	OwnerID         string     `gorm:"column:owner_id;index"`
	CategoryID      string     `gorm:"column:category_id;index"`
	OriginalName    string     `gorm:"column:original_name"`
	BlobRef         string     `gorm:"column:blob_ref"`
	QualityScore    int        `gorm:"column:quality_score"`
	BasePayout      int64      `gorm:"column:base_payout"`
	Status          string     `gorm:"column:status;index"`
	ClaimOrderID    *string    `gorm:"column:claim_order_id;index"`
	SoldTo          *string    `gorm:"column:sold_to;index"`
	SoldPrice       *int64     `gorm:"column:sold_price"`
	TransactionTime *time.Time `gorm:"column:transaction_time"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

func (Item) TableName() string { return "items" }
