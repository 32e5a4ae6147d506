package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindAccountByCode(ctx context.Context, db *gorm.DB, code string) (*Account, error)

	// ClaimReferral sets referred_by only when it is still null. The
	// returned bool reports whether this caller won the write.
	ClaimReferral(ctx context.Context, db *gorm.DB, accountID, referrerID snowflake.ID, clickToken string) (bool, error)

	UpdateReferralCode(ctx context.Context, db *gorm.DB, accountID snowflake.ID, code string) error
	SetReferralCodeIfEmpty(ctx context.Context, db *gorm.DB, accountID snowflake.ID, code string) (bool, error)

	InsertClick(ctx context.Context, db *gorm.DB, click *ReferralClick) error

	CountReferred(ctx context.Context, db *gorm.DB, referrerID snowflake.ID) (int64, error)
	SumCreditsByCurrency(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]CurrencyAmount, error)
}
