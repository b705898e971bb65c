package inventory

import (
	"context"
	"sort"
	"time"

	"datanexus-marketplace/pkg/errutil"
	"datanexus-marketplace/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	claimAttempts = 5
	claimBackoff  = 10 * time.Millisecond
)

type Service struct {
	db    *gorm.DB
	items repository.Repository[Item]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		items: repository.ProvideStore[Item](p.DB),
	}
}

// ClaimBatch hands up to maxSize items in a category to exactly one order.
// The claim is a conditional UPDATE: a row is only taken if its status was
// still listed at write time, so two concurrent claims can never both get
// the same item. Rows lost to a concurrent claim are excluded and selection
// retried. Items the order already holds, claimed or sold, count toward the
// batch, which makes an interrupted settlement resumable without backfilling
// a sold item with a fresh one.
//
// An empty batch means the category is exhausted; that is a reportable
// outcome, not an error.
func (s *Service) ClaimBatch(ctx context.Context, orderID, categoryID string, maxSize int) ([]*Item, error) {
	if orderID == "" || categoryID == "" {
		return nil, errutil.BadRequest("order id and category id are required", nil)
	}
	if maxSize <= 0 {
		return nil, errutil.BadRequest("batch size must be positive", nil)
	}

	batch, err := s.held(ctx, orderID, categoryID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < claimAttempts && len(batch) < maxSize; attempt++ {
		need := maxSize - len(batch)

		var candidateIDs []string
		if err := s.db.WithContext(ctx).
			Model(&Item{}).
			Where("category_id = ? AND status = ?", categoryID, StatusListed).
			Order("created_at, id").
			Limit(need).
			Pluck("id", &candidateIDs).Error; err != nil {
			return nil, err
		}

		if len(candidateIDs) == 0 {
			break
		}

		res := s.db.WithContext(ctx).
			Model(&Item{}).
			Where("id IN ? AND status = ?", candidateIDs, StatusListed).
			Updates(map[string]any{
				"status":         StatusClaimed,
				"claim_order_id": orderID,
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return nil, res.Error
		}

		if res.RowsAffected > 0 {
			batch, err = s.held(ctx, orderID, categoryID)
			if err != nil {
				return nil, err
			}
			continue
		}

		// Every candidate was taken by a concurrent claim between selection
		// and commit; back off and reselect.
		zap.L().Debug("claim lost race, retrying selection",
			zap.String("order_id", orderID),
			zap.String("category_id", categoryID),
			zap.Int("attempt", attempt+1),
		)
		time.Sleep(claimBackoff * time.Duration(attempt+1))
	}

	return s.capBatch(ctx, orderID, batch, maxSize)
}

// held returns every item the order currently holds in the category, in the
// same oldest-first order claims are taken in. Sold rows keep their
// claim_order_id, so a resumed settlement sees them here.
func (s *Service) held(ctx context.Context, orderID, categoryID string) ([]*Item, error) {
	var items []*Item
	err := s.db.WithContext(ctx).
		Where("claim_order_id = ? AND category_id = ? AND status IN ?",
			orderID, categoryID, []string{StatusClaimed, StatusSold}).
		Order("created_at, id").
		Find(&items).Error
	return items, err
}

// capBatch enforces the batch size when two claim runs for the same order
// raced each other into holding more than maxSize rows. Sold rows are
// settled facts and always stay; the oldest claimed rows fill the remainder
// and the excess goes back to the shelf. Every caller derives the same keep
// set from the same held rows, so concurrent runs converge on one batch.
func (s *Service) capBatch(ctx context.Context, orderID string, batch []*Item, maxSize int) ([]*Item, error) {
	if len(batch) <= maxSize {
		return batch, nil
	}

	keep := make([]*Item, 0, maxSize)
	for _, item := range batch {
		if item.Status == StatusSold {
			keep = append(keep, item)
		}
	}

	var excessIDs []string
	for _, item := range batch {
		if item.Status != StatusClaimed {
			continue
		}
		if len(keep) < maxSize {
			keep = append(keep, item)
		} else {
			excessIDs = append(excessIDs, item.ID)
		}
	}

	sort.Slice(keep, func(i, j int) bool {
		if keep[i].CreatedAt.Equal(keep[j].CreatedAt) {
			return keep[i].ID < keep[j].ID
		}
		return keep[i].CreatedAt.Before(keep[j].CreatedAt)
	})

	if len(excessIDs) > 0 {
		zap.L().Warn("releasing over-claimed items",
			zap.String("order_id", orderID),
			zap.Int("excess", len(excessIDs)),
		)
		if err := s.db.WithContext(ctx).
			Model(&Item{}).
			Where("id IN ? AND claim_order_id = ? AND status = ?", excessIDs, orderID, StatusClaimed).
			Updates(map[string]any{
				"status":         StatusListed,
				"claim_order_id": nil,
				"updated_at":     time.Now(),
			}).Error; err != nil {
			return nil, err
		}
	}

	return keep, nil
}

// MarkSold finalizes a claimed item. The update is scoped to the claiming
// order so a stale worker can never sell somebody else's claim; once a row
// reaches sold it is immutable. Re-marking an item already sold to the same
// buyer is a no-op so duplicate settlement runs converge.
func (s *Service) MarkSold(ctx context.Context, orderID, itemID, buyerID string, price int64, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&Item{}).
		Where("id = ? AND status = ? AND claim_order_id = ?", itemID, StatusClaimed, orderID).
		Updates(map[string]any{
			"status":           StatusSold,
			"sold_to":          buyerID,
			"sold_price":       price,
			"transaction_time": at,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	current, err := s.items.FindOne(ctx, &Item{ID: itemID})
	if err != nil {
		return err
	}
	if current == nil {
		return errutil.NotFound("item not found", nil)
	}
	if current.Status == StatusSold && current.SoldTo != nil && *current.SoldTo == buyerID {
		return nil
	}

	return errutil.Conflict("item is no longer claimed by this order", nil)
}

// ReleaseClaims returns a failed order's claims to the listed pool.
func (s *Service) ReleaseClaims(ctx context.Context, orderID string) error {
	return s.db.WithContext(ctx).
		Model(&Item{}).
		Where("claim_order_id = ? AND status = ?", orderID, StatusClaimed).
		Updates(map[string]any{
			"status":         StatusListed,
			"claim_order_id": nil,
			"updated_at":     time.Now(),
		}).Error
}

// Get returns a single item, nil when absent.
func (s *Service) Get(ctx context.Context, itemID string) (*Item, error) {
	return s.items.FindOne(ctx, &Item{ID: itemID})
}
