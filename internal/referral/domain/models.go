package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Account struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name            string        `gorm:"not null" json:"name"`
	Email           *string       `json:"email,omitempty"`
	ReferralCode    *string       `gorm:"uniqueIndex" json:"referral_code,omitempty"`
	ReferredBy      *snowflake.ID `json:"referred_by,omitempty"`
	ReferredClickID *string       `json:"referred_click_id,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// ReferralClick is an append-only record of a landing on a referral link.
// ReferrerID is null when the code no longer resolves, the landing is still
// recorded for analytics.
type ReferralClick struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClickToken string        `gorm:"uniqueIndex;not null" json:"click_token"`
	Code       string        `gorm:"not null;index" json:"code"`
	ReferrerID *snowflake.ID `json:"referrer_id,omitempty"`
	IP         string        `json:"ip"`
	UserAgent  string        `json:"user_agent"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}
