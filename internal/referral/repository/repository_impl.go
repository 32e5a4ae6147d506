package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/referral/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, referral_code, referred_by, referred_click_id, created_at, updated_at
		 FROM accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindAccountByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, referral_code, referred_by, referred_click_id, created_at, updated_at
		 FROM accounts WHERE referral_code = ?`,
		code,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) ClaimReferral(ctx context.Context, db *gorm.DB, accountID, referrerID snowflake.ID, clickToken string) (bool, error) {
	var token *string
	if clickToken != "" {
		token = &clickToken
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET referred_by = ?, referred_click_id = ?, updated_at = ?
		 WHERE id = ? AND referred_by IS NULL`,
		referrerID,
		token,
		time.Now().UTC(),
		accountID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) UpdateReferralCode(ctx context.Context, db *gorm.DB, accountID snowflake.ID, code string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET referral_code = ?, updated_at = ? WHERE id = ?`,
		code,
		time.Now().UTC(),
		accountID,
	).Error
}

func (r *repo) SetReferralCodeIfEmpty(ctx context.Context, db *gorm.DB, accountID snowflake.ID, code string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts SET referral_code = ?, updated_at = ? WHERE id = ? AND referral_code IS NULL`,
		code,
		time.Now().UTC(),
		accountID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertClick(ctx context.Context, db *gorm.DB, click *domain.ReferralClick) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO referral_clicks (id, click_token, code, referrer_id, ip, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		click.ID,
		click.ClickToken,
		click.Code,
		click.ReferrerID,
		click.IP,
		click.UserAgent,
		click.CreatedAt,
	).Error
}

func (r *repo) CountReferred(ctx context.Context, db *gorm.DB, referrerID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM accounts WHERE referred_by = ?`,
		referrerID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) SumCreditsByCurrency(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.CurrencyAmount, error) {
	var sums []domain.CurrencyAmount
	err := db.WithContext(ctx).Raw(
		`SELECT currency, COALESCE(SUM(amount), 0) AS amount
		 FROM earnings_credits WHERE account_id = ?
		 GROUP BY currency ORDER BY currency`,
		accountID,
	).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}
