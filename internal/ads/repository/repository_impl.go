package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/ads/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindAd(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Ad, error) {
	var ad domain.Ad
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, placement, target_url, image_url, active, start_date, end_date, impressions, clicks, created_at, updated_at
		 FROM ads WHERE id = ?`,
		id,
	).Scan(&ad).Error
	if err != nil {
		return nil, err
	}
	if ad.ID == 0 {
		return nil, nil
	}
	return &ad, nil
}

func (r *repo) InsertEventIfNoneRecent(ctx context.Context, db *gorm.DB, event *domain.AdEvent, window time.Duration) (bool, error) {
	cutoff := event.CreatedAt.Add(-window)
	result := db.WithContext(ctx).Exec(
		`INSERT INTO ad_events (id, ad_id, event_type, placement, ip, user_agent, referrer, created_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
			SELECT 1 FROM ad_events
			WHERE ad_id = ? AND event_type = ? AND ip = ? AND created_at > ?
		 )`,
		event.ID,
		event.AdID,
		event.EventType,
		event.Placement,
		event.IP,
		event.UserAgent,
		event.Referrer,
		event.CreatedAt,
		event.AdID,
		event.EventType,
		event.IP,
		cutoff,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.AdEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ad_events (id, ad_id, event_type, placement, ip, user_agent, referrer, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.AdID,
		event.EventType,
		event.Placement,
		event.IP,
		event.UserAgent,
		event.Referrer,
		event.CreatedAt,
	).Error
}

func (r *repo) IncrementImpressions(ctx context.Context, db *gorm.DB, adID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE ads SET impressions = impressions + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(),
		adID,
	).Error
}

func (r *repo) IncrementClicks(ctx context.Context, db *gorm.DB, adID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE ads SET clicks = clicks + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(),
		adID,
	).Error
}

func (r *repo) ListActiveByPlacement(ctx context.Context, db *gorm.DB, placement string) ([]*domain.Ad, error) {
	var ads []*domain.Ad
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, placement, target_url, image_url, active, start_date, end_date, impressions, clicks, created_at, updated_at
		 FROM ads WHERE placement = ? AND active
		 ORDER BY created_at, id`,
		placement,
	).Scan(&ads).Error
	if err != nil {
		return nil, err
	}
	return ads, nil
}
