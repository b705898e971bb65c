package submission

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/payout"
	"datanexus-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type scorerMock struct {
	scoreFn func(ctx context.Context, blobRef string) (int, error)
}

func (m *scorerMock) Score(ctx context.Context, blobRef string) (int, error) {
	return m.scoreFn(ctx, blobRef)
}

func newTestService(t *testing.T, scorer Scorer) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &inventory.Item{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	if scorer == nil {
		scorer = NewStaticScorer()
	}

	return NewService(ServiceParams{DB: db, Node: node, Scorer: scorer})
}

func TestRegisterCreatesPendingItem(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)
	require.Equal(t, inventory.StatusPending, item.Status)
	require.Zero(t, item.QualityScore)
	require.Zero(t, item.BasePayout)

	_, err = svc.Register(ctx, "", "cat-finance", "x", "blob://x")
	require.Error(t, err)
}

func TestScoreItemListsAndPrices(t *testing.T) {
	svc := newTestService(t, &scorerMock{
		scoreFn: func(ctx context.Context, blobRef string) (int, error) { return 85, nil },
	})
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)

	require.NoError(t, svc.ScoreItem(ctx, item.ID))

	scored, err := svc.items.FindOne(ctx, &inventory.Item{ID: item.ID})
	require.NoError(t, err)
	require.Equal(t, inventory.StatusListed, scored.Status)
	require.Equal(t, 85, scored.QualityScore)
	// 2000 + (85-80)*400 cents.
	require.Equal(t, int64(4000), scored.BasePayout)
}

func TestScoreItemClampsOutOfRange(t *testing.T) {
	svc := newTestService(t, &scorerMock{
		scoreFn: func(ctx context.Context, blobRef string) (int, error) { return 180, nil },
	})
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)
	require.NoError(t, svc.ScoreItem(ctx, item.ID))

	scored, err := svc.items.FindOne(ctx, &inventory.Item{ID: item.ID})
	require.NoError(t, err)
	require.Equal(t, 100, scored.QualityScore)
	require.Equal(t, payout.Base(100), scored.BasePayout)
}

func TestScoreItemRetryConverges(t *testing.T) {
	calls := 0
	svc := newTestService(t, &scorerMock{
		scoreFn: func(ctx context.Context, blobRef string) (int, error) {
			calls++
			return 60, nil
		},
	})
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)

	require.NoError(t, svc.ScoreItem(ctx, item.ID))
	require.NoError(t, svc.ScoreItem(ctx, item.ID))
	require.Equal(t, 1, calls)

	require.Error(t, svc.ScoreItem(ctx, "missing"))
}

func TestApplyMetadataBonus(t *testing.T) {
	svc := newTestService(t, &scorerMock{
		scoreFn: func(ctx context.Context, blobRef string) (int, error) { return 95, nil },
	})
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)
	require.NoError(t, svc.ScoreItem(ctx, item.ID))

	// 95 + 10 caps at 100 and the payout follows the new score.
	updated, err := svc.ApplyMetadataBonus(ctx, "contrib-1", item.ID, 10)
	require.NoError(t, err)
	require.Equal(t, 100, updated.QualityScore)
	require.Equal(t, payout.Base(100), updated.BasePayout)

	_, err = svc.ApplyMetadataBonus(ctx, "contrib-1", item.ID, 0)
	require.Error(t, err)
}

func TestApplyMetadataBonusListedOnly(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)

	// Still pending: not eligible.
	_, err = svc.ApplyMetadataBonus(ctx, "contrib-1", item.ID, 5)
	require.Error(t, err)
}

func TestDeleteUnsoldSubmission(t *testing.T) {
	svc := newTestService(t, &scorerMock{
		scoreFn: func(ctx context.Context, blobRef string) (int, error) { return 70, nil },
	})
	ctx := context.Background()

	pending, err := svc.Register(ctx, "contrib-1", "cat-finance", "draft.csv", "blob://draft")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "contrib-1", pending.ID))

	gone, err := svc.items.FindOne(ctx, &inventory.Item{ID: pending.ID})
	require.NoError(t, err)
	require.Nil(t, gone)

	listed, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)
	require.NoError(t, svc.ScoreItem(ctx, listed.ID))
	require.NoError(t, svc.Delete(ctx, "contrib-1", listed.ID))
}

func TestDeleteSubmissionWrongOwner(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)

	err = svc.Delete(ctx, "contrib-2", item.ID)
	require.Error(t, err)

	still, err := svc.items.FindOne(ctx, &inventory.Item{ID: item.ID})
	require.NoError(t, err)
	require.NotNil(t, still)
}

func TestDeleteSubmissionHeldOrSold(t *testing.T) {
	svc := newTestService(t, &scorerMock{
		scoreFn: func(ctx context.Context, blobRef string) (int, error) { return 70, nil },
	})
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)
	require.NoError(t, svc.ScoreItem(ctx, item.ID))

	// Held by an open order: the claim has to resolve first.
	require.NoError(t, svc.db.Model(&inventory.Item{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{"status": inventory.StatusClaimed, "claim_order_id": "order-1"}).Error)
	require.Error(t, svc.Delete(ctx, "contrib-1", item.ID))

	// Sold: never deletable.
	require.NoError(t, svc.db.Model(&inventory.Item{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{"status": inventory.StatusSold, "sold_to": "agency-1"}).Error)
	require.Error(t, svc.Delete(ctx, "contrib-1", item.ID))

	still, err := svc.items.FindOne(ctx, &inventory.Item{ID: item.ID})
	require.NoError(t, err)
	require.NotNil(t, still)
	require.Equal(t, inventory.StatusSold, still.Status)
}

func TestApplyMetadataBonusWrongOwner(t *testing.T) {
	svc := newTestService(t, &scorerMock{
		scoreFn: func(ctx context.Context, blobRef string) (int, error) { return 40, nil },
	})
	ctx := context.Background()

	item, err := svc.Register(ctx, "contrib-1", "cat-finance", "prices.csv", "blob://abc")
	require.NoError(t, err)
	require.NoError(t, svc.ScoreItem(ctx, item.ID))

	_, err = svc.ApplyMetadataBonus(ctx, "contrib-2", item.ID, 5)
	require.Error(t, err)

	unchanged, err := svc.items.FindOne(ctx, &inventory.Item{ID: item.ID})
	require.NoError(t, err)
	require.Equal(t, 40, unchanged.QualityScore)
}
