package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindAd(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Ad, error)

	// InsertEventIfNoneRecent writes the event unless one with the same
	// ad, type, and ip exists inside the window. One statement, the
	// existence check and the insert cannot interleave.
	InsertEventIfNoneRecent(ctx context.Context, db *gorm.DB, event *AdEvent, window time.Duration) (bool, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *AdEvent) error

	IncrementImpressions(ctx context.Context, db *gorm.DB, adID snowflake.ID) error
	IncrementClicks(ctx context.Context, db *gorm.DB, adID snowflake.ID) error

	ListActiveByPlacement(ctx context.Context, db *gorm.DB, placement string) ([]*Ad, error)
}
