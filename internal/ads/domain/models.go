package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Ad struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"not null" json:"name"`
	Placement   string       `gorm:"not null;index" json:"placement"`
	TargetURL   string       `json:"target_url"`
	ImageURL    string       `json:"image_url"`
	Active      bool         `gorm:"not null;default:true" json:"active"`
	StartDate   *time.Time   `json:"start_date,omitempty"`
	EndDate     *time.Time   `json:"end_date,omitempty"`
	Impressions int64        `gorm:"not null;default:0" json:"impressions"`
	Clicks      int64        `gorm:"not null;default:0" json:"clicks"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

type AdEvent struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AdID      snowflake.ID `gorm:"not null;index" json:"ad_id"`
	EventType string       `gorm:"not null" json:"event_type"`
	Placement string       `json:"placement"`
	IP        string       `json:"ip"`
	UserAgent string       `json:"user_agent"`
	Referrer  string       `json:"referrer"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

const (
	EventTypeImpression = "impression"
	EventTypeClick      = "click"
)
