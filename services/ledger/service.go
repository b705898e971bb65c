package ledger

import (
	"context"
	"errors"
	"time"

	"datanexus-marketplace/pkg/config"
	"datanexus-marketplace/pkg/db/option"
	"datanexus-marketplace/pkg/errutil"
	"datanexus-marketplace/pkg/repository"
	"datanexus-marketplace/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("withdrawal amount below platform minimum")
)

const creditAttempts = 5

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator
	cfg  config.Marketplace

	entries     repository.Repository[LedgerEntry]
	balances    repository.Repository[Balance]
	withdrawals repository.Repository[WithdrawalRequest]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Cfg  *config.Config
	Seq  sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Seq,
		cfg:  p.Cfg.Marketplace,

		entries:     repository.ProvideStore[LedgerEntry](p.DB),
		balances:    repository.ProvideStore[Balance](p.DB),
		withdrawals: repository.ProvideStore[WithdrawalRequest](p.DB),
	}
}

type CreditParams struct {
	OwnerID     string
	Amount      int64
	OrderID     string
	ReferenceID string
	Description string
}

// Credit appends one credit entry and bumps the owner's balance. The
// reference id is the idempotency key: a duplicate credit (retried
// settlement, duplicate webhook) is a no-op, backed by the unique index on
// reference_id. Appending serializes on the (owner_id, previous_hash)
// unique index: two writers racing for the same chain tail cannot both
// link to it, the loser re-reads the tail and tries again.
func (s *Service) Credit(ctx context.Context, p CreditParams) error {
	if p.OwnerID == "" || p.ReferenceID == "" {
		return errutil.BadRequest("owner id and reference id are required", nil)
	}
	if p.Amount < 0 {
		return errutil.BadRequest("credit amount must not be negative", nil)
	}

	for attempt := 0; attempt < creditAttempts; attempt++ {
		done, err := s.appendCredit(ctx, p)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		zap.L().Debug("credit lost the chain tail, retrying",
			zap.String("owner_id", p.OwnerID),
			zap.Int("attempt", attempt+1),
		)
	}

	return errutil.Conflict("could not append ledger entry", nil)
}

func (s *Service) appendCredit(ctx context.Context, p CreditParams) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entryTx := s.entries.WithTrx(tx)
		balanceTx := s.balances.WithTrx(tx)

		if exist, err := entryTx.FindOne(ctx, &LedgerEntry{ReferenceID: p.ReferenceID}); err != nil {
			return err
		} else if exist != nil {
			zap.L().Debug("duplicate credit reference, skipping",
				zap.String("reference_id", p.ReferenceID))
			return nil
		}

		// Snowflake ids are fixed width and monotonic, so sorting by id is a
		// total order even when two entries land on the same timestamp.
		lastEntry, err := entryTx.FindOne(ctx, &LedgerEntry{OwnerID: p.OwnerID},
			option.WithSortBy(option.QuerySortBy{
				SortBy:  "id",
				OrderBy: "desc",
				Allow:   map[string]bool{"id": true},
			}),
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}

		previousHash := "GENESIS"
		if lastEntry != nil {
			previousHash = lastEntry.Hash
		}

		entry := &LedgerEntry{
			ID:           s.node.Generate().String(),
			OwnerID:      p.OwnerID,
			Type:         EntryTypeCredit,
			Amount:       p.Amount,
			OrderID:      p.OrderID,
			ReferenceID:  p.ReferenceID,
			Description:  p.Description,
			PreviousHash: previousHash,
			// Millisecond precision survives every supported database, so a
			// re-read entry hashes to the same value it was written with.
			CreatedAt: time.Now().Truncate(time.Millisecond),
		}
		entry.Hash = entry.GenerateHash()

		if err := entryTx.Create(ctx, entry); err != nil {
			return err
		}

		balance, err := balanceTx.FindOne(ctx, &Balance{OwnerID: p.OwnerID})
		if err != nil {
			return err
		}

		if balance == nil {
			return balanceTx.Create(ctx, &Balance{
				ID:          s.node.Generate().String(),
				OwnerID:     p.OwnerID,
				EarnedTotal: p.Amount,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			})
		}

		return balanceTx.Update(ctx, balance.ID, map[string]any{
			"earned_total": gorm.Expr("earned_total + ?", p.Amount),
			"updated_at":   time.Now(),
		})
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// The insert can collide on either unique index. A duplicate
		// reference means this credit already landed; a taken previous-hash
		// link means another writer extended the chain first and the tail
		// must be re-read.
		exist, ferr := s.entries.FindOne(ctx, &LedgerEntry{ReferenceID: p.ReferenceID})
		if ferr != nil {
			return false, ferr
		}
		if exist != nil {
			zap.L().Debug("duplicate credit reference, skipping",
				zap.String("reference_id", p.ReferenceID))
			return true, nil
		}
		return false, nil
	}
	return false, err
}

// Earned sums every credit the owner has received.
func (s *Service) Earned(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("owner_id = ? AND type = ?", ownerID, EntryTypeCredit).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// Withdrawn sums the owner's outstanding and completed withdrawals.
// Rejected requests release their reservation and do not count.
func (s *Service) Withdrawn(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&WithdrawalRequest{}).
		Where("owner_id = ? AND status IN ?", ownerID,
			[]string{WithdrawalPending, WithdrawalProcessing, WithdrawalCompleted}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// Available is what the owner may still withdraw, from the materialized
// balance row. Never negative.
func (s *Service) Available(ctx context.Context, ownerID string) (int64, error) {
	balance, err := s.balances.FindOne(ctx, &Balance{OwnerID: ownerID})
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.EarnedTotal - balance.WithdrawnTotal, nil
}

// RequestWithdrawal validates and creates a pending withdrawal. The check
// and the reservation are one conditional UPDATE on the balance row, so two
// concurrent requests can never jointly overdraw: the second one finds the
// reservation already taken and is rejected.
func (s *Service) RequestWithdrawal(ctx context.Context, ownerID string, amount int64, destination string) (*WithdrawalRequest, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if ownerID == "" || destination == "" {
		return nil, errutil.BadRequest("owner id and destination are required", nil)
	}
	if amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be positive", nil)
	}
	if amount < s.cfg.MinWithdrawal {
		return nil, errutil.UnprocessableEntity("amount is below the platform minimum", nil,
			errutil.WithErr(ErrBelowMinimum))
	}

	request := &WithdrawalRequest{
		ID:          s.node.Generate().String(),
		OwnerID:     ownerID,
		Amount:      amount,
		Destination: destination,
		Status:      WithdrawalPending,
		CreatedAt:   time.Now(),
	}

	if s.seq != nil {
		code, err := s.seq.NextWithdrawalCode(ctx)
		if err != nil {
			zapLog.Warn("failed to generate withdrawal code", zap.Error(err))
		} else {
			request.Code = code
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Balance{}).
			Where("owner_id = ? AND earned_total - withdrawn_total >= ?", ownerID, amount).
			Updates(map[string]any{
				"withdrawn_total": gorm.Expr("withdrawn_total + ?", amount),
				"updated_at":      time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.UnprocessableEntity("requested amount exceeds available balance", nil,
				errutil.WithErr(ErrInsufficientBalance))
		}

		return s.withdrawals.WithTrx(tx).Create(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	zapLog.Info("withdrawal requested",
		zap.String("owner_id", ownerID),
		zap.String("withdrawal_id", request.ID),
		zap.Int64("amount", amount),
	)

	return request, nil
}

// ResolveWithdrawal is the hook for the back-office payout process. A
// rejection releases the reserved amount; completion stamps processed_at.
func (s *Service) ResolveWithdrawal(ctx context.Context, requestID, status string) error {
	switch status {
	case WithdrawalProcessing, WithdrawalCompleted, WithdrawalRejected:
	default:
		return errutil.BadRequest("unsupported withdrawal status", nil)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		withdrawalTx := s.withdrawals.WithTrx(tx)

		request, err := withdrawalTx.FindOne(ctx, &WithdrawalRequest{ID: requestID},
			option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if request == nil {
			return errutil.NotFound("withdrawal request not found", nil)
		}
		if request.Status == WithdrawalCompleted || request.Status == WithdrawalRejected {
			return errutil.Conflict("withdrawal request already resolved", nil)
		}

		updates := map[string]any{"status": status}
		if status == WithdrawalCompleted || status == WithdrawalRejected {
			updates["processed_at"] = time.Now()
		}

		if err := withdrawalTx.Update(ctx, request.ID, updates); err != nil {
			return err
		}

		if status == WithdrawalRejected {
			return tx.Model(&Balance{}).
				Where("owner_id = ?", request.OwnerID).
				Updates(map[string]any{
					"withdrawn_total": gorm.Expr("withdrawn_total - ?", request.Amount),
					"updated_at":      time.Now(),
				}).Error
		}

		return nil
	})
}

// ListWithdrawals returns the owner's requests, newest first.
func (s *Service) ListWithdrawals(ctx context.Context, ownerID string) ([]*WithdrawalRequest, error) {
	return s.withdrawals.Find(ctx, &WithdrawalRequest{OwnerID: ownerID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

// VerifyChain re-derives every hash for an owner and follows the
// previous-hash links from genesis. Any tampered, missing or forked entry
// fails verification.
func (s *Service) VerifyChain(ctx context.Context, ownerID string) (bool, error) {
	entries, err := s.entries.Find(ctx, &LedgerEntry{OwnerID: ownerID})
	if err != nil {
		return false, err
	}

	byPrev := make(map[string]*LedgerEntry, len(entries))
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() {
			return false, nil
		}
		if _, dup := byPrev[entry.PreviousHash]; dup {
			return false, nil
		}
		byPrev[entry.PreviousHash] = entry
	}

	visited := 0
	for cursor := "GENESIS"; ; {
		entry, ok := byPrev[cursor]
		if !ok {
			break
		}
		visited++
		cursor = entry.Hash
	}

	return visited == len(entries), nil
}
