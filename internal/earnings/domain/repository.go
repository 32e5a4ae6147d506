package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEventIfAbsent inserts the event unless its order_id already
	// exists. The returned bool reports whether the row was written.
	InsertEventIfAbsent(ctx context.Context, db *gorm.DB, event *EarningsEvent) (bool, error)

	InsertCredit(ctx context.Context, db *gorm.DB, credit *EarningsCredit) error

	// ApplyBalanceDelta upserts the balance row with an atomic increment.
	ApplyBalanceDelta(ctx context.Context, db *gorm.DB, accountID snowflake.ID, currency string, delta int64) error

	// FindReferrer returns referred_by for the account, nil when unset or
	// the account is unknown.
	FindReferrer(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*snowflake.ID, error)
}
