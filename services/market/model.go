package market

import (
	"time"

	"gorm.io/datatypes"
)

const (
	CampaignActive   = "active"
	CampaignArchived = "archived"
)

// Campaign is an agency's standing request for data in a category.
type Campaign struct {
	ID         string         `gorm:"column:id;primaryKey"`
	AgencyID   string         `gorm:"column:agency_id;index"`
	Name       string         `gorm:"column:name"`
	CategoryID string         `gorm:"column:category_id"`
	Budget     int64          `gorm:"column:budget"`
	Status     string         `gorm:"column:status"`
	Criteria   datatypes.JSON `gorm:"column:criteria"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// CategorySummary is a storefront row: what is on the shelf and how good
// it is on average.
type CategorySummary struct {
	CategoryID     string  `json:"category_id"`
	ListedCount    int64   `json:"listed_count"`
	AverageQuality float64 `json:"average_quality"`
}

// DashboardStats summarizes one contributor's standing.
type DashboardStats struct {
	OwnerID        string  `json:"owner_id"`
	Uploads        int64   `json:"uploads"`
	Sold           int64   `json:"sold"`
	TotalEarned    int64   `json:"total_earned"`
	AverageQuality float64 `json:"average_quality"`
}
