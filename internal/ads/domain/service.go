package domain

import (
	"context"
	"errors"
	"time"
)

type TrackRequest struct {
	AdID      string
	Type      string
	Placement string
	VisitorID string
	IP        string
	UserAgent string
	Referrer  string
}

// TrackResult reports whether the event was counted or suppressed as a
// duplicate. The HTTP edge answers ok either way.
type TrackResult struct {
	Counted bool   `json:"counted"`
	Reason  string `json:"-"`
}

type Service interface {
	Track(context.Context, TrackRequest) (TrackResult, error)

	// Redirect resolves the click target. The click is counted on every
	// call, a user following the link twice is two clicks.
	Redirect(ctx context.Context, adID string) (string, error)

	// PickForPlacement selects the ad to serve for a placement on the
	// given day.
	PickForPlacement(ctx context.Context, placement string, today time.Time) (*Ad, error)
}

var (
	ErrInvalidAd        = errors.New("invalid_ad")
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrNotFound         = errors.New("not_found")
)

// Dedup reasons, recorded on metrics.
const (
	DedupSessionCache = "session_cache"
	DedupWindow       = "window"
)
