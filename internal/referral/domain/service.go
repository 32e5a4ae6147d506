package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// AttachRequest asks to bind a stored referral reference to an account.
type AttachRequest struct {
	AccountID  string
	Code       string
	ClickToken string
}

// Referrer is the public slice of the referring account.
type Referrer struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name"`
	Code string       `json:"code"`
}

// AttachResult reports whether the binding happened and why not otherwise.
// StaleRef signals the stored reference is useless and should be cleared.
type AttachResult struct {
	Attached bool      `json:"attached"`
	Referrer *Referrer `json:"referrer,omitempty"`
	Reason   string    `json:"-"`
	StaleRef bool      `json:"-"`
}

type LogClickRequest struct {
	Code       string
	ClickToken string
	IP         string
	UserAgent  string
}

type RotateRequest struct {
	AccountID string
}

type StatsRequest struct {
	AccountID string
}

type CurrencyAmount struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type Stats struct {
	ReferredCount    int64            `json:"referred_count"`
	LifetimeEarnings []CurrencyAmount `json:"lifetime_earnings"`
}

type Service interface {
	Attach(context.Context, AttachRequest) (AttachResult, error)
	Resolve(ctx context.Context, code string) (*Referrer, error)
	Rotate(context.Context, RotateRequest) (string, error)
	EnsureCode(ctx context.Context, accountID string) (string, error)
	LogClick(context.Context, LogClickRequest) error
	Stats(context.Context, StatsRequest) (Stats, error)
}

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrAccountNotFound = errors.New("account_not_found")
	ErrInvalidCode     = errors.New("invalid_code")
	ErrCodeNotFound    = errors.New("code_not_found")

	// ErrCodeExhausted means code generation kept colliding with existing
	// codes. A server-side condition, retriable by the caller.
	ErrCodeExhausted = errors.New("code_generation_exhausted")
)

// Attach reasons, recorded on metrics.
const (
	ReasonAttached        = "attached"
	ReasonAlreadyAttached = "already_attached"
	ReasonNoReference     = "no_reference"
	ReasonUnknownCode     = "unknown_code"
	ReasonSelfReferral    = "self_referral"
	ReasonLostRace        = "lost_race"
)
