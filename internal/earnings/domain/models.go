package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EarningsEvent is one processed checkout notification. OrderID is unique,
// redelivered notifications land on the conflict and change nothing.
type EarningsEvent struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	EventID        string         `json:"event_id"`
	OrderID        string         `gorm:"uniqueIndex;not null" json:"order_id"`
	BuyerAccountID snowflake.ID   `gorm:"not null" json:"buyer_account_id"`
	ReferralCode   *string        `json:"referral_code,omitempty"`
	ClickID        *string        `json:"click_id,omitempty"`
	GrossAmount    int64          `gorm:"not null" json:"gross_amount"`
	Currency       string         `gorm:"not null" json:"currency"`
	Payload        datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// EarningsCredit is one tier payout derived from an event.
type EarningsCredit struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	EventID   snowflake.ID `gorm:"not null;index" json:"event_id"`
	AccountID snowflake.ID `gorm:"not null;index" json:"account_id"`
	Tier      int16        `gorm:"not null" json:"tier"`
	RateBps   int64        `gorm:"not null" json:"rate_bps"`
	Amount    int64        `gorm:"not null" json:"amount"`
	Currency  string       `gorm:"not null" json:"currency"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// AccountBalance is the running payable total per account and currency.
type AccountBalance struct {
	AccountID snowflake.ID `gorm:"primaryKey" json:"account_id"`
	Currency  string       `gorm:"primaryKey" json:"currency"`
	Amount    int64        `gorm:"not null" json:"amount"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// CheckoutEvent is the wire shape of a checkout provider notification.
type CheckoutEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		OrderID        string `json:"order_id"`
		BuyerAccountID string `json:"buyer_account_id"`
		ReferralCode   string `json:"referral_code"`
		ClickID        string `json:"click_id"`
		GrossAmount    int64  `json:"gross_amount"`
		Currency       string `json:"currency"`
	} `json:"data"`
}
