package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"datanexus-marketplace/pkg/config"
	"datanexus-marketplace/pkg/db/pagination"
	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/ledger"
	"datanexus-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Campaign{}, &inventory.Item{},
		&ledger.LedgerEntry{}, &ledger.Balance{}, &ledger.WithdrawalRequest{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Marketplace = config.Marketplace{
		MinWithdrawal:       config.DefaultMinWithdrawal,
		ContributorShareBps: config.DefaultContributorShareBps,
	}
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Cfg: cfg})

	return NewService(ServiceParams{DB: db, Node: node, Ledger: led}), db
}

func seedItem(t *testing.T, db *gorm.DB, owner, category, status string, score int, soldTo string, createdAt time.Time) *inventory.Item {
	t.Helper()

	item := &inventory.Item{
		ID:           fmt.Sprintf("item-%s-%d", category, createdAt.UnixNano()),
		OwnerID:      owner,
		CategoryID:   category,
		QualityScore: score,
		Status:       status,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if soldTo != "" {
		item.SoldTo = &soldTo
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func TestSummaries(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	seedItem(t, db, "c1", "cat-finance", inventory.StatusListed, 90, "", base)
	seedItem(t, db, "c2", "cat-finance", inventory.StatusListed, 70, "", base.Add(time.Millisecond))
	seedItem(t, db, "c3", "cat-retail", inventory.StatusListed, 50, "", base.Add(2*time.Millisecond))
	// Non-listed rows stay off the storefront.
	seedItem(t, db, "c4", "cat-retail", inventory.StatusSold, 100, "agency-1", base.Add(3*time.Millisecond))
	seedItem(t, db, "c5", "cat-retail", inventory.StatusPending, 100, "", base.Add(4*time.Millisecond))

	summaries, err := svc.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	require.Equal(t, "cat-finance", summaries[0].CategoryID)
	require.Equal(t, int64(2), summaries[0].ListedCount)
	require.InDelta(t, 80.0, summaries[0].AverageQuality, 0.001)

	require.Equal(t, "cat-retail", summaries[1].CategoryID)
	require.Equal(t, int64(1), summaries[1].ListedCount)
	require.InDelta(t, 50.0, summaries[1].AverageQuality, 0.001)
}

func TestAgencyPurchasesPagination(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		seedItem(t, db, "c1", "cat-finance", inventory.StatusSold, 80, "agency-1",
			base.Add(time.Duration(i)*time.Second))
	}
	seedItem(t, db, "c1", "cat-finance", inventory.StatusSold, 80, "agency-2", base.Add(time.Hour))

	first, pageInfo, err := svc.AgencyPurchases(ctx, "agency-1", pagination.Pagination{Limit: 5})
	require.NoError(t, err)
	require.Len(t, first, 5)
	require.True(t, pageInfo.HasMore)
	require.NotEmpty(t, pageInfo.NextCursor)

	second, pageInfo, err := svc.AgencyPurchases(ctx, "agency-1", pagination.Pagination{
		Limit:  5,
		Cursor: pageInfo.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.False(t, pageInfo.HasMore)

	// Newest first, no overlap between pages, nobody else's purchases.
	seen := map[string]bool{}
	var all []*inventory.Item
	all = append(all, first...)
	all = append(all, second...)
	for i, it := range all {
		require.False(t, seen[it.ID])
		seen[it.ID] = true
		require.Equal(t, "agency-1", *it.SoldTo)
		if i > 0 {
			require.False(t, it.CreatedAt.After(all[i-1].CreatedAt))
		}
	}
}

func TestAgencyPurchasesBadCursor(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.AgencyPurchases(context.Background(), "agency-1", pagination.Pagination{
		Limit:  5,
		Cursor: "not-base64!!",
	})
	require.Error(t, err)
}

func TestCampaignLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateCampaign(ctx, CreateCampaignParams{
		AgencyID:   "agency-1",
		Name:       "Q3 retail intake",
		CategoryID: "cat-retail",
		Budget:     500000,
	})
	require.NoError(t, err)
	require.Equal(t, CampaignActive, created.Status)

	_, err = svc.CreateCampaign(ctx, CreateCampaignParams{AgencyID: "agency-1"})
	require.Error(t, err)

	campaigns, err := svc.ListCampaigns(ctx, "agency-1")
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	require.Equal(t, created.ID, campaigns[0].ID)

	campaigns, err = svc.ListCampaigns(ctx, "agency-2")
	require.NoError(t, err)
	require.Empty(t, campaigns)
}

func TestDashboardStats(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	seedItem(t, db, "contrib-1", "cat-finance", inventory.StatusListed, 90, "", base)
	seedItem(t, db, "contrib-1", "cat-finance", inventory.StatusSold, 70, "agency-1", base.Add(time.Millisecond))
	seedItem(t, db, "contrib-2", "cat-finance", inventory.StatusListed, 10, "", base.Add(2*time.Millisecond))

	require.NoError(t, svc.ledger.Credit(ctx, ledger.CreditParams{
		OwnerID:     "contrib-1",
		Amount:      2000,
		ReferenceID: "ref-1",
	}))

	stats, err := svc.DashboardStats(ctx, "contrib-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Uploads)
	require.Equal(t, int64(1), stats.Sold)
	require.Equal(t, int64(2000), stats.TotalEarned)
	require.InDelta(t, 80.0, stats.AverageQuality, 0.001)

	stats, err = svc.DashboardStats(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, stats.Uploads)
	require.Zero(t, stats.TotalEarned)
}
