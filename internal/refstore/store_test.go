package refstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkstory/attribution/internal/config"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("connection refused")
	}
	value, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_ = ctx
	_ = ttl
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(ctx context.Context, key string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	delete(f.data, key)
	return nil
}

func newTestStore(kv KV) *Store {
	return New(Params{
		KV:  kv,
		Log: zap.NewNop(),
		Cfg: config.Config{ReferralTTLDays: 90},
	})
}

func TestCaptureStoresRefParam(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)

	ref, captured, err := store.Capture(context.Background(), "v1", "https://example.com/landing?ref=ALICE123&utm_source=x")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !captured {
		t.Fatalf("expected capture")
	}
	if ref.Code != "ALICE123" {
		t.Fatalf("expected code ALICE123, got %q", ref.Code)
	}
	if ref.ClickToken == "" {
		t.Fatalf("expected click token")
	}

	got := store.Read(context.Background(), "v1", "")
	if got == nil || got.Code != "ALICE123" {
		t.Fatalf("expected stored ref readable from redis, got %+v", got)
	}
}

func TestCaptureWithoutRefParamIsNonDestructive(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)

	if _, _, err := store.Capture(context.Background(), "v1", "https://example.com/?ref=KEEP"); err != nil {
		t.Fatalf("capture: %v", err)
	}

	ref, captured, err := store.Capture(context.Background(), "v1", "https://example.com/pricing")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if captured || ref != nil {
		t.Fatalf("expected no capture for missing ref param")
	}

	got := store.Read(context.Background(), "v1", "")
	if got == nil || got.Code != "KEEP" {
		t.Fatalf("expected earlier ref to survive, got %+v", got)
	}
}

func TestCaptureOverwritesEarlierRef(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)

	if _, _, err := store.Capture(context.Background(), "v1", "https://example.com/?ref=FIRST"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, _, err := store.Capture(context.Background(), "v1", "https://example.com/?ref=SECOND"); err != nil {
		t.Fatalf("capture: %v", err)
	}

	got := store.Read(context.Background(), "v1", "")
	if got == nil || got.Code != "SECOND" {
		t.Fatalf("expected latest ref to win, got %+v", got)
	}
}

func TestReadFallsBackToCookieWhenRedisDown(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)

	cookie := EncodeCookie(&StoredRef{
		Code:       "COOKIE1",
		CapturedAt: time.Now().UTC(),
		ClickToken: "tok",
	})

	kv.fail = true
	got := store.Read(context.Background(), "v1", cookie)
	if got == nil || got.Code != "COOKIE1" {
		t.Fatalf("expected cookie fallback, got %+v", got)
	}
}

func TestReadTreatsExpiredRefAsAbsent(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)

	cookie := EncodeCookie(&StoredRef{
		Code:       "OLD",
		CapturedAt: time.Now().UTC().Add(-91 * 24 * time.Hour),
		ClickToken: "tok",
	})

	if got := store.Read(context.Background(), "v1", cookie); got != nil {
		t.Fatalf("expected expired ref to be absent, got %+v", got)
	}
}

func TestClearRemovesStoredRef(t *testing.T) {
	kv := newFakeKV()
	store := newTestStore(kv)

	if _, _, err := store.Capture(context.Background(), "v1", "https://example.com/?ref=GONE"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	store.Clear(context.Background(), "v1")

	if got := store.Read(context.Background(), "v1", ""); got != nil {
		t.Fatalf("expected cleared ref, got %+v", got)
	}
}

func TestDecodeCookieRejectsGarbage(t *testing.T) {
	if _, err := DecodeCookie("not base64!!"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := DecodeCookie(""); err == nil {
		t.Fatalf("expected decode error for empty value")
	}
}
