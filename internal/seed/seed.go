package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	adsdomain "github.com/inkstory/attribution/internal/ads/domain"
)

var defaultAds = []struct {
	Name      string
	Placement string
	TargetURL string
	ImageURL  string
}{
	{
		Name:      "House Ad",
		Placement: "Story Sidebar",
		TargetURL: "https://example.com/go-premium",
		ImageURL:  "/static/ads/house.png",
	},
	{
		Name:      "Reader Banner",
		Placement: "Reader Footer",
		TargetURL: "https://example.com/invite",
		ImageURL:  "/static/ads/banner.png",
	},
}

// EnsureDefaultAds seeds placeholder ads so a dev instance renders ad slots
// without manual setup. Placement names are slugified for stable codes.
func EnsureDefaultAds(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range defaultAds {
			placement := slug.Make(seed.Placement)

			var existing adsdomain.Ad
			err := tx.Raw(
				`SELECT id FROM ads WHERE placement = ? AND name = ?`,
				placement, seed.Name,
			).Scan(&existing).Error
			if err != nil {
				return err
			}
			if existing.ID != 0 {
				continue
			}

			now := time.Now().UTC()
			err = tx.Exec(
				`INSERT INTO ads (id, name, placement, target_url, image_url, active, impressions, clicks, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, TRUE, 0, 0, ?, ?)`,
				node.Generate(), seed.Name, placement, seed.TargetURL, seed.ImageURL, now, now,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
