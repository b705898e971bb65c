package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"datanexus-marketplace/pkg/config"
	"datanexus-marketplace/pkg/db/option"
	"datanexus-marketplace/pkg/errutil"
	"datanexus-marketplace/pkg/money"
	"datanexus-marketplace/pkg/repository"
	"datanexus-marketplace/pkg/sequence"
	"datanexus-marketplace/services/allocation"
	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrSignatureMismatch = errors.New("payment confirmation rejected")

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	cfg      *config.Config
	provider PaymentProvider

	inventory *inventory.Service
	ledger    *ledger.Service

	orders repository.Repository[Order]
	lines  repository.Repository[OrderLineItem]
	cart   repository.Repository[CartItem]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Cfg       *config.Config
	Provider  PaymentProvider
	Inventory *inventory.Service
	Ledger    *ledger.Service
	Seq       sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Seq,
		cfg:       p.Cfg,
		provider:  p.Provider,
		inventory: p.Inventory,
		ledger:    p.Ledger,

		orders: repository.ProvideStore[Order](p.DB),
		lines:  repository.ProvideStore[OrderLineItem](p.DB),
		cart:   repository.ProvideStore[CartItem](p.DB),
	}
}

// AddToCart records the buyer's intent to purchase one batch of a category.
// Adding a category twice is a no-op.
func (s *Service) AddToCart(ctx context.Context, buyerID, categoryID string) (*CartItem, error) {
	if buyerID == "" || categoryID == "" {
		return nil, errutil.BadRequest("buyer id and category id are required", nil)
	}

	existing, err := s.cart.FindOne(ctx, &CartItem{BuyerID: buyerID, CategoryID: categoryID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	item := &CartItem{
		ID:         s.node.Generate().String(),
		BuyerID:    buyerID,
		CategoryID: categoryID,
		CreatedAt:  time.Now(),
	}
	if err := s.cart.Create(ctx, item); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.cart.FindOne(ctx, &CartItem{BuyerID: buyerID, CategoryID: categoryID})
		}
		return nil, err
	}
	return item, nil
}

// ListCart returns the buyer's cart in insertion order.
func (s *Service) ListCart(ctx context.Context, buyerID string) ([]*CartItem, error) {
	return s.cart.Find(ctx, &CartItem{BuyerID: buyerID},
		option.WithSortBy(option.QuerySortBy{
			SortBy: "created_at",
			Allow:  map[string]bool{"created_at": true},
		}),
	)
}

// Checkout turns the cart into a pending order, one line per category, and
// opens a payment order with the provider. The cart itself stays untouched
// until the order settles.
func (s *Service) Checkout(ctx context.Context, buyerID string) (*Order, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if buyerID == "" {
		return nil, errutil.BadRequest("buyer id is required", nil)
	}

	cartItems, err := s.ListCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if len(cartItems) == 0 {
		return nil, errutil.BadRequest("cart is empty", nil)
	}

	mkt := s.cfg.Marketplace
	total := int64(len(cartItems)) * int64(mkt.BatchSize) * mkt.PricePerItem

	order := &Order{
		ID:          s.node.Generate().String(),
		BuyerID:     buyerID,
		Status:      OrderPending,
		TotalAmount: total,
		Currency:    s.cfg.Payment.Currency,
		ExpiresAt:   time.Now().Add(mkt.OrderTTL),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if s.seq != nil {
		code, err := s.seq.NextOrderCode(ctx)
		if err != nil {
			zap.L().Warn("failed to generate order code", zap.Error(err))
		} else {
			order.Code = code
		}
	}

	providerRef, err := s.provider.CreateOrder(ctx, total, order.Currency, map[string]string{
		"order_id": order.ID,
		"buyer_id": buyerID,
	})
	if err != nil {
		return nil, errutil.Internal("failed to open payment order", err)
	}
	order.ProviderRef = providerRef

	lineItems := make([]*OrderLineItem, 0, len(cartItems))
	for i, ci := range cartItems {
		lineItems = append(lineItems, &OrderLineItem{
			ID:         s.node.Generate().String(),
			OrderID:    order.ID,
			Position:   i,
			CategoryID: ci.CategoryID,
			Quantity:   mkt.BatchSize,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orders.WithTrx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.lines.WithTrx(tx).BatchCreate(ctx, lineItems)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("order created",
		zap.String("order_id", order.ID),
		zap.String("buyer_id", buyerID),
		zap.Int64("total_amount", total),
		zap.Int("line_count", len(lineItems)),
	)

	return order, nil
}

// Signature computes the webhook signature the provider is expected to send:
// hex HMAC-SHA256 over the provider order reference concatenated with the
// payment reference.
func Signature(secret, providerRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(providerRef))
	mac.Write([]byte(paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleConfirmation processes the provider's payment webhook. A bad
// signature fails the order, releases its claims and rejects with a generic
// message. A valid one moves the order to paid and settles it inline.
// Replayed confirmations for an already paid or settled order are accepted
// and converge on the same settled state.
func (s *Service) HandleConfirmation(ctx context.Context, orderID, paymentRef, signature string) (*SettleResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	order, err := s.orders.FindOne(ctx, &Order{ID: orderID})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errutil.NotFound("order not found", nil)
	}

	expected := Signature(s.cfg.Payment.WebhookSecret, order.ProviderRef, paymentRef)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		zap.L().Warn("payment confirmation signature mismatch",
			zap.String("order_id", orderID),
		)

		if err := s.failOrder(ctx, orderID); err != nil {
			zap.L().Error("failed to fail order after signature mismatch",
				zap.String("order_id", orderID), zap.Error(err))
		}

		// Generic message on purpose: the caller learns nothing about which
		// part of the signature check failed.
		return nil, errutil.Unauthorized("payment confirmation rejected", nil,
			errutil.WithErr(ErrSignatureMismatch))
	}

	res := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status = ?", orderID, OrderPending).
		Updates(map[string]any{
			"status":      OrderPaid,
			"payment_ref": paymentRef,
			"paid_at":     time.Now(),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		current, err := s.orders.FindOne(ctx, &Order{ID: orderID})
		if err != nil {
			return nil, err
		}
		if current == nil || current.Status == OrderFailed {
			return nil, errutil.Conflict("order is no longer payable", nil)
		}
		// Already paid or settled: fall through, Settle converges.
	}

	return s.Settle(ctx, orderID)
}

// SettleResult reports what one settlement run delivered. Fulfilled below
// Requested means the category pool ran short; that is information for the
// buyer, not a failure.
type SettleResult struct {
	OrderID        string
	AlreadySettled bool
	Lines          []LineResult
}

type LineResult struct {
	CategoryID string
	Requested  int
	Fulfilled  int
	Amount     int64
}

// Settle fulfils a paid order: claim a batch per line, split the fixed
// batch price over the claimed items by quality, mark them sold and credit
// each owner their share. Every step is idempotent (claims are scoped to
// the order and retain items already sold to it, credits are deduped by
// reference id), so Settle may be called repeatedly or concurrently and the
// order settles exactly once.
func (s *Service) Settle(ctx context.Context, orderID string) (*SettleResult, error) {
	order, err := s.orders.FindOne(ctx, &Order{ID: orderID})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errutil.NotFound("order not found", nil)
	}

	switch order.Status {
	case OrderSettled:
		return &SettleResult{OrderID: orderID, AlreadySettled: true}, nil
	case OrderPaid:
	case OrderPending:
		return nil, errutil.Conflict("order has not been paid", nil)
	default:
		return nil, errutil.Conflict("order cannot be settled", nil)
	}

	lineItems, err := s.lines.Find(ctx, &OrderLineItem{OrderID: orderID},
		option.WithSortBy(option.QuerySortBy{
			SortBy: "position",
			Allow:  map[string]bool{"position": true},
		}),
	)
	if err != nil {
		return nil, err
	}

	mkt := s.cfg.Marketplace
	result := &SettleResult{OrderID: orderID}
	now := time.Now()

	for _, line := range lineItems {
		batch, err := s.inventory.ClaimBatch(ctx, orderID, line.CategoryID, line.Quantity)
		if err != nil {
			return nil, err
		}

		proceeds := allocation.Split(batch, mkt.PricePerItem)

		// A resumed run may find items a previous run already sold before
		// crashing. Those sell for what the row records, not what a fresh
		// split would assign them.
		soldPrices := make(map[string]int64, len(batch))
		for _, item := range batch {
			if item.Status == inventory.StatusSold && item.SoldPrice != nil {
				soldPrices[item.ID] = *item.SoldPrice
			}
		}

		var lineAmount int64
		for _, p := range proceeds {
			amount := p.Amount
			if recorded, ok := soldPrices[p.ItemID]; ok {
				amount = recorded
			}

			if err := s.inventory.MarkSold(ctx, orderID, p.ItemID, order.BuyerID, amount, now); err != nil {
				return nil, err
			}

			if err := s.ledger.Credit(ctx, ledger.CreditParams{
				OwnerID:     p.OwnerID,
				Amount:      money.Share(amount, mkt.ContributorShareBps),
				OrderID:     orderID,
				ReferenceID: "order:" + orderID + ":item:" + p.ItemID,
				Description: "proceeds for item " + p.ItemID,
			}); err != nil {
				return nil, err
			}

			lineAmount += amount
		}

		if err := s.lines.Update(ctx, line.ID, map[string]any{
			"claimed_count":  len(batch),
			"settled_amount": lineAmount,
			"updated_at":     time.Now(),
		}); err != nil {
			return nil, err
		}

		result.Lines = append(result.Lines, LineResult{
			CategoryID: line.CategoryID,
			Requested:  line.Quantity,
			Fulfilled:  len(batch),
			Amount:     lineAmount,
		})

		if len(batch) < line.Quantity {
			zap.L().Info("category pool exhausted during settlement",
				zap.String("order_id", orderID),
				zap.String("category_id", line.CategoryID),
				zap.Int("requested", line.Quantity),
				zap.Int("fulfilled", len(batch)),
			)
		}
	}

	res := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status = ?", orderID, OrderPaid).
		Updates(map[string]any{
			"status":     OrderSettled,
			"settled_at": time.Now(),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	// RowsAffected 0 here means a concurrent run finished first; the work
	// above was idempotent so both callers report the same outcome.

	if err := s.db.WithContext(ctx).
		Where("buyer_id = ?", order.BuyerID).
		Delete(&CartItem{}).Error; err != nil {
		zap.L().Error("failed to clear cart after settlement",
			zap.String("buyer_id", order.BuyerID), zap.Error(err))
	}

	zap.L().Info("order settled",
		zap.String("order_id", orderID),
		zap.String("buyer_id", order.BuyerID),
		zap.Int("lines", len(result.Lines)),
	)

	return result, nil
}

// Get returns a single order, nil when absent.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.FindOne(ctx, &Order{ID: orderID})
}

// ListOrders returns the buyer's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, buyerID string) ([]*Order, error) {
	return s.orders.Find(ctx, &Order{BuyerID: buyerID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

// ExpirePending fails pending orders past their deadline and returns their
// claims to the pool. Returns how many orders were expired.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	var expiredIDs []string
	if err := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("status = ? AND expires_at < ?", OrderPending, time.Now()).
		Pluck("id", &expiredIDs).Error; err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range expiredIDs {
		if err := s.failOrder(ctx, id); err != nil {
			zap.L().Error("failed to expire order", zap.String("order_id", id), zap.Error(err))
			continue
		}
		expired++
	}

	if expired > 0 {
		zap.L().Info("expired pending orders", zap.Int("count", expired))
	}
	return expired, nil
}

// failOrder moves a pending order to failed and releases its claims. The
// transition is conditional: an order paid in the meantime is left alone.
func (s *Service) failOrder(ctx context.Context, orderID string) error {
	res := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status = ?", orderID, OrderPending).
		Updates(map[string]any{
			"status":     OrderFailed,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	return s.inventory.ReleaseClaims(ctx, orderID)
}
