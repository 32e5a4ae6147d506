package refstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inkstory/attribution/internal/config"
)

// CookieName carries the referral reference on the browser side, mirroring
// the redis entry so either surviving copy is enough to attribute a signup.
const CookieName = "ik_ref"

const keyPrefix = "refstore:visitor:"

var ErrMalformedCookie = errors.New("malformed_ref_cookie")

// StoredRef is the captured referral reference for one visitor.
type StoredRef struct {
	Code       string    `json:"code"`
	CapturedAt time.Time `json:"captured_at"`
	ClickToken string    `json:"click_token"`
}

// KV is the subset of redis commands the store needs. Narrowed so tests can
// exercise the redis-down degradation path with a fake.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type Params struct {
	fx.In

	KV  KV
	Log *zap.Logger
	Cfg config.Config
}

// Store keeps the captured referral reference in redis with a cookie
// fallback. Redis unavailability degrades to cookie-only, logged not fatal.
type Store struct {
	kv  KV
	log *zap.Logger
	ttl time.Duration
}

func New(p Params) *Store {
	days := p.Cfg.ReferralTTLDays
	if days <= 0 {
		days = 90
	}
	return &Store{
		kv:  p.KV,
		log: p.Log.Named("refstore"),
		ttl: time.Duration(days) * 24 * time.Hour,
	}
}

// TTL returns the configured reference lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// CookieMaxAge returns the cookie lifetime in seconds.
func (s *Store) CookieMaxAge() int {
	return int(s.ttl / time.Second)
}

// Capture extracts the ref parameter from the visited URL and stores it for
// the visitor. Visits without a ref parameter leave existing state untouched.
func (s *Store) Capture(ctx context.Context, visitorID, visitURL string) (*StoredRef, bool, error) {
	return s.CaptureCode(ctx, visitorID, refParam(visitURL))
}

// CaptureCode stores the given referral code for the visitor. Empty codes
// leave existing state untouched.
func (s *Store) CaptureCode(ctx context.Context, visitorID, code string) (*StoredRef, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, false, nil
	}

	ref := &StoredRef{
		Code:       code,
		CapturedAt: time.Now().UTC(),
		ClickToken: ulid.Make().String(),
	}

	payload, err := json.Marshal(ref)
	if err != nil {
		return nil, false, err
	}

	if err := s.kv.Set(ctx, keyPrefix+visitorID, string(payload), s.ttl); err != nil {
		s.log.Warn("redis write failed, continuing cookie-only",
			zap.String("visitor_id", visitorID),
			zap.Error(err),
		)
	}

	return ref, true, nil
}

// Read returns the stored reference for the visitor, redis first with the
// cookie as fallback. Expired references are treated as absent.
func (s *Store) Read(ctx context.Context, visitorID, cookieValue string) *StoredRef {
	if visitorID != "" {
		value, err := s.kv.Get(ctx, keyPrefix+visitorID)
		if err != nil && !errors.Is(err, redis.Nil) {
			s.log.Warn("redis read failed, falling back to cookie",
				zap.String("visitor_id", visitorID),
				zap.Error(err),
			)
		}
		if err == nil && value != "" {
			var ref StoredRef
			if jsonErr := json.Unmarshal([]byte(value), &ref); jsonErr == nil && !s.expired(ref) {
				return &ref
			}
		}
	}

	if cookieValue == "" {
		return nil
	}
	ref, err := DecodeCookie(cookieValue)
	if err != nil || s.expired(*ref) {
		return nil
	}
	return ref
}

// Clear drops the stored reference for the visitor. The edge expires the
// cookie alongside.
func (s *Store) Clear(ctx context.Context, visitorID string) {
	if visitorID == "" {
		return
	}
	if err := s.kv.Del(ctx, keyPrefix+visitorID); err != nil {
		s.log.Warn("redis delete failed",
			zap.String("visitor_id", visitorID),
			zap.Error(err),
		)
	}
}

func (s *Store) expired(ref StoredRef) bool {
	if ref.Code == "" || ref.CapturedAt.IsZero() {
		return true
	}
	return time.Since(ref.CapturedAt) > s.ttl
}

// EncodeCookie serializes a reference for the browser cookie.
func EncodeCookie(ref *StoredRef) string {
	payload, err := json.Marshal(ref)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(payload)
}

// DecodeCookie parses a cookie value produced by EncodeCookie.
func DecodeCookie(value string) (*StoredRef, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, ErrMalformedCookie
	}
	var ref StoredRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, ErrMalformedCookie
	}
	if ref.Code == "" {
		return nil, ErrMalformedCookie
	}
	return &ref, nil
}

func refParam(visitURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(visitURL))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Query().Get("ref"))
}
