package market

import (
	"context"
	"time"

	"datanexus-marketplace/pkg/db/option"
	"datanexus-marketplace/pkg/db/pagination"
	"datanexus-marketplace/pkg/errutil"
	"datanexus-marketplace/pkg/repository"
	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger *ledger.Service

	campaigns repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		ledger:    p.Ledger,
		campaigns: repository.ProvideStore[Campaign](p.DB),
	}
}

// Summaries returns the storefront: per category, how many items are
// listed and their average quality.
func (s *Service) Summaries(ctx context.Context) ([]CategorySummary, error) {
	var out []CategorySummary
	err := s.db.WithContext(ctx).
		Model(&inventory.Item{}).
		Select("category_id, COUNT(*) AS listed_count, AVG(quality_score) AS average_quality").
		Where("status = ?", inventory.StatusListed).
		Group("category_id").
		Order("category_id").
		Scan(&out).Error
	return out, err
}

// AgencyPurchases pages through everything the agency has bought, newest
// first, with an opaque cursor.
func (s *Service) AgencyPurchases(ctx context.Context, agencyID string, p pagination.Pagination) ([]*inventory.Item, *pagination.PageInfo, error) {
	if agencyID == "" {
		return nil, nil, errutil.BadRequest("agency id is required", nil)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	query := s.db.WithContext(ctx).
		Model(&inventory.Item{}).
		Where("sold_to = ? AND status = ?", agencyID, inventory.StatusSold).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		// Bind a time.Time, not the raw string: date formatting is the
		// driver's business.
		after, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			after, after, cursor.ID,
		)
	}

	var items []*inventory.Item
	if err := query.Find(&items).Error; err != nil {
		return nil, nil, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(it *inventory.Item) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: it.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        it.ID,
		})
		return cursor
	})

	return items, pageInfo, nil
}

type CreateCampaignParams struct {
	AgencyID   string
	Name       string
	CategoryID string
	Budget     int64
	Criteria   datatypes.JSON
}

func (s *Service) CreateCampaign(ctx context.Context, p CreateCampaignParams) (*Campaign, error) {
	if p.AgencyID == "" || p.Name == "" || p.CategoryID == "" {
		return nil, errutil.BadRequest("agency id, name and category id are required", nil)
	}
	if p.Budget < 0 {
		return nil, errutil.ValidationFailed("budget must not be negative", nil)
	}

	campaign := &Campaign{
		ID:         s.node.Generate().String(),
		AgencyID:   p.AgencyID,
		Name:       p.Name,
		CategoryID: p.CategoryID,
		Budget:     p.Budget,
		Status:     CampaignActive,
		Criteria:   p.Criteria,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) ListCampaigns(ctx context.Context, agencyID string) ([]*Campaign, error) {
	return s.campaigns.Find(ctx, &Campaign{AgencyID: agencyID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

// DashboardStats rolls up a contributor's uploads, sales and earnings.
func (s *Service) DashboardStats(ctx context.Context, ownerID string) (*DashboardStats, error) {
	if ownerID == "" {
		return nil, errutil.BadRequest("owner id is required", nil)
	}

	stats := &DashboardStats{OwnerID: ownerID}

	row := struct {
		Uploads        int64
		AverageQuality float64
	}{}
	if err := s.db.WithContext(ctx).
		Model(&inventory.Item{}).
		Select("COUNT(*) AS uploads, COALESCE(AVG(quality_score), 0) AS average_quality").
		Where("owner_id = ?", ownerID).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	stats.Uploads = row.Uploads
	stats.AverageQuality = row.AverageQuality

	if err := s.db.WithContext(ctx).
		Model(&inventory.Item{}).
		Where("owner_id = ? AND status = ?", ownerID, inventory.StatusSold).
		Count(&stats.Sold).Error; err != nil {
		return nil, err
	}

	earned, err := s.ledger.Earned(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	stats.TotalEarned = earned

	return stats, nil
}
