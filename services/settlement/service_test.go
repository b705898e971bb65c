package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"datanexus-marketplace/pkg/config"
	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/ledger"
	"datanexus-marketplace/services/payout"
	"datanexus-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type testEnv struct {
	db         *gorm.DB
	settlement *Service
	inventory  *inventory.Service
	ledger     *ledger.Service
	cfg        *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Order{}, &OrderLineItem{}, &CartItem{},
		&inventory.Item{},
		&ledger.LedgerEntry{}, &ledger.Balance{}, &ledger.WithdrawalRequest{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Payment.Currency = "USD"
	cfg.Payment.WebhookSecret = "test-webhook-secret"
	cfg.Marketplace = config.Marketplace{
		PricePerItem:        config.DefaultPricePerItem,
		BatchSize:           config.DefaultBatchSize,
		ContributorShareBps: config.DefaultContributorShareBps,
		MinWithdrawal:       config.DefaultMinWithdrawal,
		OrderTTL:            config.DefaultOrderTTL,
	}

	inv := inventory.NewService(inventory.ServiceParams{DB: db})
	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Cfg: cfg})

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Cfg:       cfg,
		Provider:  NewSandboxProvider(),
		Inventory: inv,
		Ledger:    led,
	})

	return &testEnv{db: db, settlement: svc, inventory: inv, ledger: led, cfg: cfg}
}

func (e *testEnv) seedItems(t *testing.T, categoryID string, scores ...int) []*inventory.Item {
	t.Helper()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	items := make([]*inventory.Item, 0, len(scores))
	for i, score := range scores {
		item := &inventory.Item{
			ID:           node.Generate().String(),
			OwnerID:      fmt.Sprintf("contrib-%d", i+1),
			CategoryID:   categoryID,
			OriginalName: fmt.Sprintf("dataset-%d.csv", i+1),
			QualityScore: score,
			// Already paid out at upload time; settlement must not add it again.
			BasePayout: payout.Base(score),
			Status:       inventory.StatusListed,
			CreatedAt:    time.Now().Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:    time.Now(),
		}
		require.NoError(t, e.db.Create(item).Error)
		items = append(items, item)
	}
	return items
}

func (e *testEnv) checkout(t *testing.T, buyerID string, categories ...string) *Order {
	t.Helper()
	ctx := context.Background()

	for _, c := range categories {
		_, err := e.settlement.AddToCart(ctx, buyerID, c)
		require.NoError(t, err)
	}

	order, err := e.settlement.Checkout(ctx, buyerID)
	require.NoError(t, err)
	return order
}

func (e *testEnv) confirm(t *testing.T, order *Order, paymentRef string) *SettleResult {
	t.Helper()

	sig := Signature(e.cfg.Payment.WebhookSecret, order.ProviderRef, paymentRef)
	result, err := e.settlement.HandleConfirmation(context.Background(), order.ID, paymentRef, sig)
	require.NoError(t, err)
	return result
}

func TestCheckoutEmptyCart(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.settlement.Checkout(context.Background(), "agency-1")
	require.Error(t, err)
}

func TestAddToCartIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.settlement.AddToCart(ctx, "agency-1", "cat-finance")
	require.NoError(t, err)

	second, err := env.settlement.AddToCart(ctx, "agency-1", "cat-finance")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	items, err := env.settlement.ListCart(ctx, "agency-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestCheckoutCreatesPendingOrder(t *testing.T) {
	env := newTestEnv(t)

	order := env.checkout(t, "agency-1", "cat-finance", "cat-retail")

	require.Equal(t, OrderPending, order.Status)
	require.NotEmpty(t, order.ProviderRef)
	require.Equal(t, "USD", order.Currency)
	// 2 lines, 5 items each, 2500 cents per item.
	require.Equal(t, int64(2*5*2500), order.TotalAmount)
	require.True(t, order.ExpiresAt.After(time.Now()))

	lines, err := env.settlement.lines.Find(context.Background(), &OrderLineItem{OrderID: order.ID})
	require.NoError(t, err)
	require.Len(t, lines, 2)
}

func TestHandleConfirmationSignatureMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedItems(t, "cat-finance", 90, 80, 70, 60, 50)
	order := env.checkout(t, "agency-1", "cat-finance")

	_, err := env.settlement.HandleConfirmation(ctx, order.ID, "pay-1", "forged-signature")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSignatureMismatch)
	require.NotContains(t, err.Error(), env.cfg.Payment.WebhookSecret)

	current, err := env.settlement.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderFailed, current.Status)

	// A failed order stays failed; a late valid confirmation is rejected.
	sig := Signature(env.cfg.Payment.WebhookSecret, order.ProviderRef, "pay-1")
	_, err = env.settlement.HandleConfirmation(ctx, order.ID, "pay-1", sig)
	require.Error(t, err)

	// Nothing was sold or credited.
	var sold int64
	require.NoError(t, env.db.Model(&inventory.Item{}).
		Where("status = ?", inventory.StatusSold).Count(&sold).Error)
	require.Zero(t, sold)
}

func TestSettlementHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	items := env.seedItems(t, "cat-finance", 90, 80, 70, 60, 50)
	order := env.checkout(t, "agency-1", "cat-finance")

	result := env.confirm(t, order, "pay-1")
	require.False(t, result.AlreadySettled)
	require.Len(t, result.Lines, 1)
	require.Equal(t, 5, result.Lines[0].Fulfilled)
	require.Equal(t, int64(12500), result.Lines[0].Amount)

	current, err := env.settlement.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderSettled, current.Status)
	require.NotNil(t, current.PaidAt)
	require.NotNil(t, current.SettledAt)

	// Quality-weighted proceeds for scores 90/80/70/60/50 over a 12500 pot.
	wantPrices := []int64{3214, 2857, 2500, 2143, 1786}
	wantCredits := []int64{2571, 2285, 2000, 1714, 1428}

	for i, seeded := range items {
		got, err := env.inventory.Get(ctx, seeded.ID)
		require.NoError(t, err)
		require.Equal(t, inventory.StatusSold, got.Status)
		require.NotNil(t, got.SoldPrice)
		require.Equal(t, wantPrices[i], *got.SoldPrice)
		require.NotNil(t, got.SoldTo)
		require.Equal(t, "agency-1", *got.SoldTo)

		earned, err := env.ledger.Earned(ctx, seeded.OwnerID)
		require.NoError(t, err)
		require.Equal(t, wantCredits[i], earned)
	}

	// Cart is cleared once the order settles.
	cart, err := env.settlement.ListCart(ctx, "agency-1")
	require.NoError(t, err)
	require.Empty(t, cart)
}

func TestSettleLeavesSurplusListed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Seven listed, batch size five: the two newest stay on the shelf.
	items := env.seedItems(t, "cat-images", 90, 80, 70, 60, 50, 40, 30)
	order := env.checkout(t, "agency-1", "cat-images")

	result := env.confirm(t, order, "pay-1")
	require.Equal(t, 5, result.Lines[0].Fulfilled)
	require.Equal(t, int64(12500), result.Lines[0].Amount)

	for _, seeded := range items[:5] {
		got, err := env.inventory.Get(ctx, seeded.ID)
		require.NoError(t, err)
		require.Equal(t, inventory.StatusSold, got.Status)
	}
	for _, seeded := range items[5:] {
		got, err := env.inventory.Get(ctx, seeded.ID)
		require.NoError(t, err)
		require.Equal(t, inventory.StatusListed, got.Status)
	}
}

func TestSettlePartialFulfilment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedItems(t, "cat-finance", 80, 60, 40)
	order := env.checkout(t, "agency-1", "cat-finance")

	result := env.confirm(t, order, "pay-1")
	require.Len(t, result.Lines, 1)
	require.Equal(t, 5, result.Lines[0].Requested)
	require.Equal(t, 3, result.Lines[0].Fulfilled)
	require.Equal(t, int64(3*2500), result.Lines[0].Amount)

	current, err := env.settlement.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderSettled, current.Status)
}

func TestSettleExhaustedCategory(t *testing.T) {
	env := newTestEnv(t)

	order := env.checkout(t, "agency-1", "cat-empty")

	result := env.confirm(t, order, "pay-1")
	require.Len(t, result.Lines, 1)
	require.Zero(t, result.Lines[0].Fulfilled)
	require.Zero(t, result.Lines[0].Amount)

	current, err := env.settlement.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderSettled, current.Status)
}

func TestDuplicateConfirmationSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	items := env.seedItems(t, "cat-finance", 90, 80, 70, 60, 50)
	order := env.checkout(t, "agency-1", "cat-finance")

	first := env.confirm(t, order, "pay-1")
	require.False(t, first.AlreadySettled)

	second := env.confirm(t, order, "pay-1")
	require.True(t, second.AlreadySettled)

	// Replays must not double-credit anyone.
	wantCredits := []int64{2571, 2285, 2000, 1714, 1428}
	for i, seeded := range items {
		earned, err := env.ledger.Earned(ctx, seeded.OwnerID)
		require.NoError(t, err)
		require.Equal(t, wantCredits[i], earned)
	}

	var entryCount int64
	require.NoError(t, env.db.Model(&ledger.LedgerEntry{}).Count(&entryCount).Error)
	require.Equal(t, int64(5), entryCount)
}

func TestConcurrentSettleExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedItems(t, "cat-finance", 90, 80, 70, 60, 50)
	order := env.checkout(t, "agency-1", "cat-finance")

	now := time.Now()
	require.NoError(t, env.db.Model(&Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{"status": OrderPaid, "paid_at": now}).Error)

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := env.settlement.Settle(ctx, order.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	current, err := env.settlement.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderSettled, current.Status)

	// Exactly one credit per item despite four settlement runs.
	var entryCount int64
	require.NoError(t, env.db.Model(&ledger.LedgerEntry{}).Count(&entryCount).Error)
	require.Equal(t, int64(5), entryCount)

	var total int64
	require.NoError(t, env.db.Model(&ledger.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error)
	// 80% of each item's proceeds, floored per item.
	require.Equal(t, int64(2571+2285+2000+1714+1428), total)
}

func TestSettleResumesPartiallySoldBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	items := env.seedItems(t, "cat-finance", 90, 80, 70, 60, 50, 40)
	order := env.checkout(t, "agency-1", "cat-finance")

	require.NoError(t, env.db.Model(&Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{"status": OrderPaid, "paid_at": time.Now()}).Error)

	// A first settlement run claimed the batch, sold one item and crashed
	// before crediting its owner.
	batch, err := env.inventory.ClaimBatch(ctx, order.ID, "cat-finance", 5)
	require.NoError(t, err)
	require.Len(t, batch, 5)
	require.NoError(t, env.inventory.MarkSold(ctx, order.ID, batch[0].ID, "agency-1", 3214, time.Now()))

	result, err := env.settlement.Settle(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 5, result.Lines[0].Fulfilled)
	require.Equal(t, int64(12500), result.Lines[0].Amount)

	// The already sold item stayed in the batch: exactly five sold, the
	// sixth never left the shelf, and the proceeds still sum to the pot.
	var soldCount int64
	require.NoError(t, env.db.Model(&inventory.Item{}).
		Where("status = ?", inventory.StatusSold).Count(&soldCount).Error)
	require.Equal(t, int64(5), soldCount)

	shelf, err := env.inventory.Get(ctx, items[5].ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusListed, shelf.Status)

	var soldSum int64
	require.NoError(t, env.db.Model(&inventory.Item{}).
		Where("status = ?", inventory.StatusSold).
		Select("COALESCE(SUM(sold_price), 0)").Scan(&soldSum).Error)
	require.Equal(t, int64(12500), soldSum)

	// Every owner was credited, the crashed item's owner included.
	wantCredits := []int64{2571, 2285, 2000, 1714, 1428}
	for i, seeded := range items[:5] {
		earned, err := env.ledger.Earned(ctx, seeded.OwnerID)
		require.NoError(t, err)
		require.Equal(t, wantCredits[i], earned)
	}
}

func TestConcurrentSettleDoesNotOversell(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Twice the batch size on the shelf: racing settlement runs must not
	// jointly claim and sell more than one batch.
	env.seedItems(t, "cat-finance", 90, 80, 70, 60, 50, 40, 40, 40, 40, 40)
	order := env.checkout(t, "agency-1", "cat-finance")

	require.NoError(t, env.db.Model(&Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{"status": OrderPaid, "paid_at": time.Now()}).Error)

	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			_, err := env.settlement.Settle(ctx, order.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	var soldCount int64
	require.NoError(t, env.db.Model(&inventory.Item{}).
		Where("status = ?", inventory.StatusSold).Count(&soldCount).Error)
	require.Equal(t, int64(5), soldCount)

	var listed int64
	require.NoError(t, env.db.Model(&inventory.Item{}).
		Where("status = ?", inventory.StatusListed).Count(&listed).Error)
	require.Equal(t, int64(5), listed)

	var soldSum int64
	require.NoError(t, env.db.Model(&inventory.Item{}).
		Where("status = ?", inventory.StatusSold).
		Select("COALESCE(SUM(sold_price), 0)").Scan(&soldSum).Error)
	require.Equal(t, int64(12500), soldSum)

	var entryCount int64
	require.NoError(t, env.db.Model(&ledger.LedgerEntry{}).Count(&entryCount).Error)
	require.Equal(t, int64(5), entryCount)
}

func TestExpirePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedItems(t, "cat-finance", 90, 80, 70, 60, 50)
	stale := env.checkout(t, "agency-1", "cat-finance")
	fresh := env.checkout(t, "agency-2", "cat-finance")

	require.NoError(t, env.db.Model(&Order{}).
		Where("id = ?", stale.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	expired, err := env.settlement.ExpirePending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	staleOrder, err := env.settlement.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, OrderFailed, staleOrder.Status)

	freshOrder, err := env.settlement.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, OrderPending, freshOrder.Status)

	// The fresh order can still settle against the full pool.
	result := env.confirm(t, fresh, "pay-2")
	require.Equal(t, 5, result.Lines[0].Fulfilled)
}

func TestExpiryReleasesClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	items := env.seedItems(t, "cat-finance", 90, 80)
	order := env.checkout(t, "agency-1", "cat-finance")

	// Simulate a settlement that claimed items and then crashed before the
	// payment ever arrived.
	claimed, err := env.inventory.ClaimBatch(ctx, order.ID, "cat-finance", 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	require.NoError(t, env.db.Model(&Order{}).
		Where("id = ?", order.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	expired, err := env.settlement.ExpirePending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	for _, seeded := range items {
		got, err := env.inventory.Get(ctx, seeded.ID)
		require.NoError(t, err)
		require.Equal(t, inventory.StatusListed, got.Status)
		require.Nil(t, got.ClaimOrderID)
	}
}
