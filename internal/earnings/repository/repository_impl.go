package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/earnings/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEventIfAbsent(ctx context.Context, db *gorm.DB, event *domain.EarningsEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO earnings_events (id, event_id, order_id, buyer_account_id, referral_code, click_id, gross_amount, currency, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (order_id) DO NOTHING`,
		event.ID,
		event.EventID,
		event.OrderID,
		event.BuyerAccountID,
		event.ReferralCode,
		event.ClickID,
		event.GrossAmount,
		event.Currency,
		event.Payload,
		event.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertCredit(ctx context.Context, db *gorm.DB, credit *domain.EarningsCredit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO earnings_credits (id, event_id, account_id, tier, rate_bps, amount, currency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		credit.ID,
		credit.EventID,
		credit.AccountID,
		credit.Tier,
		credit.RateBps,
		credit.Amount,
		credit.Currency,
		credit.CreatedAt,
	).Error
}

func (r *repo) ApplyBalanceDelta(ctx context.Context, db *gorm.DB, accountID snowflake.ID, currency string, delta int64) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO account_balances (account_id, currency, amount, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, currency)
		 DO UPDATE SET amount = account_balances.amount + excluded.amount, updated_at = excluded.updated_at`,
		accountID,
		currency,
		delta,
		time.Now().UTC(),
	).Error
}

func (r *repo) FindReferrer(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*snowflake.ID, error) {
	var row struct {
		ReferredBy *snowflake.ID
	}
	err := db.WithContext(ctx).Raw(
		`SELECT referred_by FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.ReferredBy, nil
}
