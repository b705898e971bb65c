package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	EntryTypeCredit = "CREDIT"
)

const (
	WithdrawalPending    = "pending"
	WithdrawalProcessing = "processing"
	WithdrawalCompleted  = "completed"
	WithdrawalRejected   = "rejected"
)

// LedgerEntry records one credit to a contributor. ReferenceID is the
// idempotency key (one per sold item); entries for an owner form a hash
// chain for audit. The unique index on (owner_id, previous_hash) means at
// most one entry can follow any given link, so the chain can never fork
// even when two writers race for the same tail.
type LedgerEntry struct {
	ID           string         `gorm:"column:id;primaryKey"`
	OwnerID      string         `gorm:"column:owner_id;uniqueIndex:idx_ledger_owner_prev"`
	Type         string         `gorm:"column:type"`
	Amount       int64          `gorm:"column:amount"`
	OrderID      string         `gorm:"column:order_id;index"`
	ReferenceID  string         `gorm:"column:reference_id;uniqueIndex"`
	Description  string         `gorm:"column:description"`
	PreviousHash string         `gorm:"column:previous_hash;uniqueIndex:idx_ledger_owner_prev"`
	Hash         string         `gorm:"column:hash"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Balance is the materialized per-owner accumulator; it is the row all
// conditional earned/withdrawn updates serialize on.
type Balance struct {
	ID             string    `gorm:"column:id;primaryKey"`
	OwnerID        string    `gorm:"column:owner_id;uniqueIndex"`
	EarnedTotal    int64     `gorm:"column:earned_total"`
	WithdrawnTotal int64     `gorm:"column:withdrawn_total"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Balance) TableName() string { return "balances" }

// WithdrawalRequest is created by a contributor and advanced by the
// back-office payout process.
type WithdrawalRequest struct {
	ID          string     `gorm:"column:id;primaryKey"`
	Code        string     `gorm:"column:code"`
	OwnerID     string     `gorm:"column:owner_id;index"`
	Amount      int64      `gorm:"column:amount"`
	Destination string     `gorm:"column:destination"`
	Status      string     `gorm:"column:status;index"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            m.ID,
		"owner_id":      m.OwnerID,
		"type":          m.Type,
		"amount":        fmt.Sprintf("%d", m.Amount),
		"order_id":      m.OrderID,
		"reference_id":  m.ReferenceID,
		"description":   m.Description,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (l *LedgerEntry) GenerateHash() string {
	fields := l.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
