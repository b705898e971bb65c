package submission

import (
	"context"
	"encoding/json"
	"time"

	"datanexus-marketplace/pkg/errutil"
	"datanexus-marketplace/pkg/repository"
	"datanexus-marketplace/pkg/task"
	"datanexus-marketplace/pkg/taskname"
	"datanexus-marketplace/services/inventory"
	"datanexus-marketplace/services/payout"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	scorer   Scorer
	enqueuer task.Enqueuer

	items repository.Repository[inventory.Item]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Scorer   Scorer
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		scorer:   p.Scorer,
		enqueuer: p.Enqueuer,
		items:    repository.ProvideStore[inventory.Item](p.DB),
	}
}

type scorePayload struct {
	ItemID string `json:"item_id"`
}

// Register persists an upload as a pending item and queues it for grading.
// The item only reaches the storefront once the grading task lists it.
func (s *Service) Register(ctx context.Context, ownerID, categoryID, name, blobRef string) (*inventory.Item, error) {
	if ownerID == "" || categoryID == "" || blobRef == "" {
		return nil, errutil.BadRequest("owner id, category id and blob ref are required", nil)
	}

	item := &inventory.Item{
		ID:           s.node.Generate().String(),
		OwnerID:      ownerID,
		CategoryID:   categoryID,
		OriginalName: name,
		BlobRef:      blobRef,
		Status:       inventory.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		payload, err := json.Marshal(scorePayload{ItemID: item.ID})
		if err != nil {
			return nil, err
		}
		if _, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.SubmissionScore, payload)); err != nil {
			zap.L().Error("failed to enqueue scoring task",
				zap.String("item_id", item.ID), zap.Error(err))
			return nil, errutil.Internal("failed to queue submission for grading", err)
		}
	}

	zap.L().Info("submission registered",
		zap.String("item_id", item.ID),
		zap.String("owner_id", ownerID),
		zap.String("category_id", categoryID),
	)

	return item, nil
}

// ScoreItem grades one pending item and lists it. Re-running against an
// already listed item is a no-op so retried tasks converge.
func (s *Service) ScoreItem(ctx context.Context, itemID string) error {
	item, err := s.items.FindOne(ctx, &inventory.Item{ID: itemID})
	if err != nil {
		return err
	}
	if item == nil {
		return errutil.NotFound("item not found", nil)
	}
	if item.Status != inventory.StatusPending {
		return nil
	}

	score, err := s.scorer.Score(ctx, item.BlobRef)
	if err != nil {
		return err
	}
	score = clampScore(score)

	res := s.db.WithContext(ctx).
		Model(&inventory.Item{}).
		Where("id = ? AND status = ?", itemID, inventory.StatusPending).
		Updates(map[string]any{
			"quality_score": score,
			"base_payout":   payout.Base(score),
			"status":        inventory.StatusListed,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}

	zap.L().Info("submission scored",
		zap.String("item_id", itemID),
		zap.Int("quality_score", score),
	)
	return nil
}

// HandleScoreTask is the asynq worker entry for a grading task.
func (s *Service) HandleScoreTask(ctx context.Context, t *asynq.Task) error {
	var payload scorePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid scoring payload", zap.Error(err))
		return err
	}
	return s.ScoreItem(ctx, payload.ItemID)
}

// ApplyMetadataBonus rewards extra documentation on a listed item: the
// score is bumped (capped at 100) and the display payout recomputed. Only
// the item's owner may apply it.
func (s *Service) ApplyMetadataBonus(ctx context.Context, ownerID, itemID string, bonus int) (*inventory.Item, error) {
	if bonus <= 0 {
		return nil, errutil.ValidationFailed("bonus must be positive", nil)
	}

	var updated *inventory.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		itemTx := s.items.WithTrx(tx)

		item, err := itemTx.FindOne(ctx, &inventory.Item{ID: itemID})
		if err != nil {
			return err
		}
		if item == nil || item.OwnerID != ownerID {
			return errutil.NotFound("item not found", nil)
		}
		if item.Status != inventory.StatusListed {
			return errutil.Conflict("only listed items can receive a metadata bonus", nil)
		}

		score := clampScore(item.QualityScore + bonus)

		res := tx.Model(&inventory.Item{}).
			Where("id = ? AND status = ?", itemID, inventory.StatusListed).
			Updates(map[string]any{
				"quality_score": score,
				"base_payout":   payout.Base(score),
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("item was claimed while applying the bonus", nil)
		}

		item.QualityScore = score
		item.BasePayout = payout.Base(score)
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete withdraws a contributor's own unsold submission. Sold items are
// part of a buyer's settled order and stay forever; items held by an open
// order are refused until the claim resolves.
func (s *Service) Delete(ctx context.Context, ownerID, itemID string) error {
	item, err := s.items.FindOne(ctx, &inventory.Item{ID: itemID})
	if err != nil {
		return err
	}
	if item == nil || item.OwnerID != ownerID {
		return errutil.NotFound("item not found", nil)
	}

	res := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND status IN ?", itemID, ownerID,
			[]string{inventory.StatusPending, inventory.StatusListed}).
		Delete(&inventory.Item{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := s.items.FindOne(ctx, &inventory.Item{ID: itemID})
		if err != nil {
			return err
		}
		if current == nil {
			return errutil.NotFound("item not found", nil)
		}
		if current.Status == inventory.StatusSold {
			return errutil.Conflict("sold items cannot be deleted", nil)
		}
		return errutil.Conflict("item is reserved by an open order", nil)
	}

	zap.L().Info("submission deleted",
		zap.String("item_id", itemID),
		zap.String("owner_id", ownerID),
	)
	return nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
