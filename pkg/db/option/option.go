package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed by a repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope enabling SELECT ... FOR UPDATE inside a
// transaction. sqlite is single-writer and has no FOR UPDATE grammar, so
// the clause is skipped there.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return LockingUpdate(tx)
	}
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			return tx
		}

		direction := "ASC"
		if strings.EqualFold(sort.OrderBy, "desc") {
			direction = "DESC"
		}

		return tx.Order(fmt.Sprintf("%s %s", column, direction))
	}
}

func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	}
}

func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		switch cond.Operator {
		case IN:
			return tx.Where(fmt.Sprintf("%s IN ?", cond.Field), cond.Value)
		case EQ, GT, GTE, LT, LTE:
			return tx.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
		default:
			return tx
		}
	}
}

// Apply folds every option into the query.
func Apply(tx *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		tx = opt(tx)
	}
	return tx
}
