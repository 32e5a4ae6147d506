package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/referral/domain"
	referralrepo "github.com/inkstory/attribution/internal/referral/repository"
	referralservice "github.com/inkstory/attribution/internal/referral/service"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE accounts (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT,
			referral_code TEXT,
			referred_by BIGINT,
			referred_click_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_accounts_referral_code ON accounts(referral_code)`,
		`CREATE TABLE referral_clicks (
			id BIGINT PRIMARY KEY,
			click_token TEXT NOT NULL,
			code TEXT NOT NULL,
			referrer_id BIGINT,
			ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_referral_clicks_token ON referral_clicks(click_token)`,
		`CREATE TABLE earnings_credits (
			id BIGINT PRIMARY KEY,
			event_id BIGINT NOT NULL,
			account_id BIGINT NOT NULL,
			tier SMALLINT NOT NULL,
			rate_bps BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(20)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return referralservice.New(referralservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  referralrepo.Provide(),
	})
}

func seedAccount(t *testing.T, db *gorm.DB, id snowflake.ID, name, code string) {
	t.Helper()
	now := time.Now().UTC()
	var codeValue any
	if code != "" {
		codeValue = code
	}
	err := db.Exec(
		`INSERT INTO accounts (id, name, referral_code, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, codeValue, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestAttachSetsReferrerOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(21)
	referrerID := node.Generate()
	buyerID := node.Generate()
	seedAccount(t, db, referrerID, "Alice", "ALICE123")
	seedAccount(t, db, buyerID, "Bob", "")

	result, err := svc.Attach(ctx, domain.AttachRequest{
		AccountID:  buyerID.String(),
		Code:       "ALICE123",
		ClickToken: "tok_1",
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !result.Attached {
		t.Fatalf("expected attach, got reason %q", result.Reason)
	}
	if result.Referrer == nil || result.Referrer.ID != referrerID {
		t.Fatalf("expected referrer %v, got %+v", referrerID, result.Referrer)
	}

	var clickID string
	if err := db.Raw(`SELECT referred_click_id FROM accounts WHERE id = ?`, buyerID).Scan(&clickID).Error; err != nil {
		t.Fatalf("read click id: %v", err)
	}
	if clickID != "tok_1" {
		t.Fatalf("expected click token persisted, got %q", clickID)
	}

	again, err := svc.Attach(ctx, domain.AttachRequest{
		AccountID: buyerID.String(),
		Code:      "ALICE123",
	})
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if again.Attached {
		t.Fatalf("expected second attach to no-op")
	}
	if again.Reason != domain.ReasonAlreadyAttached {
		t.Fatalf("expected already_attached, got %q", again.Reason)
	}
}

func TestAttachDoesNotOverwriteExistingReferrer(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(22)
	firstID := node.Generate()
	secondID := node.Generate()
	buyerID := node.Generate()
	seedAccount(t, db, firstID, "First", "FIRSTCODE")
	seedAccount(t, db, secondID, "Second", "SECONDCODE")
	seedAccount(t, db, buyerID, "Buyer", "")

	if _, err := svc.Attach(ctx, domain.AttachRequest{AccountID: buyerID.String(), Code: "FIRSTCODE"}); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	result, err := svc.Attach(ctx, domain.AttachRequest{AccountID: buyerID.String(), Code: "SECONDCODE"})
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if result.Attached {
		t.Fatalf("expected second attach rejected")
	}

	var referredBy snowflake.ID
	if err := db.Raw(`SELECT referred_by FROM accounts WHERE id = ?`, buyerID).Scan(&referredBy).Error; err != nil {
		t.Fatalf("read referred_by: %v", err)
	}
	if referredBy != firstID {
		t.Fatalf("expected referred_by %v to survive, got %v", firstID, referredBy)
	}
}

func TestAttachUnknownCodeIsStale(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(23)
	buyerID := node.Generate()
	seedAccount(t, db, buyerID, "Buyer", "")

	result, err := svc.Attach(ctx, domain.AttachRequest{AccountID: buyerID.String(), Code: "GHOST999"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if result.Attached {
		t.Fatalf("expected no attach for unknown code")
	}
	if !result.StaleRef {
		t.Fatalf("expected stale ref for unknown code")
	}
	if result.Reason != domain.ReasonUnknownCode {
		t.Fatalf("expected unknown_code, got %q", result.Reason)
	}
}

func TestAttachRejectsSelfReferral(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(24)
	accountID := node.Generate()
	seedAccount(t, db, accountID, "Self", "SELFCODE")

	result, err := svc.Attach(ctx, domain.AttachRequest{AccountID: accountID.String(), Code: "SELFCODE"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if result.Attached {
		t.Fatalf("expected self-referral rejected")
	}
	if result.Reason != domain.ReasonSelfReferral {
		t.Fatalf("expected self_referral, got %q", result.Reason)
	}
}

func TestRotateInvalidatesOldCode(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(25)
	accountID := node.Generate()
	seedAccount(t, db, accountID, "Alice", "OLDCODE99")

	newCode, err := svc.Rotate(ctx, domain.RotateRequest{AccountID: accountID.String()})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newCode == "" || newCode == "OLDCODE99" {
		t.Fatalf("expected fresh code, got %q", newCode)
	}

	if _, err := svc.Resolve(ctx, "OLDCODE99"); err != domain.ErrCodeNotFound {
		t.Fatalf("expected old code dead, got %v", err)
	}
	referrer, err := svc.Resolve(ctx, newCode)
	if err != nil {
		t.Fatalf("resolve new code: %v", err)
	}
	if referrer.ID != accountID {
		t.Fatalf("expected new code to resolve to account")
	}
}

// collidingRepo simulates every generated code already being taken.
type collidingRepo struct {
	domain.Repository
}

func (collidingRepo) UpdateReferralCode(ctx context.Context, db *gorm.DB, accountID snowflake.ID, code string) error {
	return errors.New("UNIQUE constraint failed: accounts.referral_code")
}

func TestRotateCollisionExhaustionIsNotAClientError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	node, _ := snowflake.NewNode(28)
	accountID := node.Generate()
	seedAccount(t, db, accountID, "Alice", "OLDCODE99")

	svc := referralservice.New(referralservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  collidingRepo{referralrepo.Provide()},
	})

	_, err := svc.Rotate(ctx, domain.RotateRequest{AccountID: accountID.String()})
	if !errors.Is(err, domain.ErrCodeExhausted) {
		t.Fatalf("expected code exhaustion, got %v", err)
	}
	if errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("exhaustion must not look like a bad request")
	}

	referrer, resolveErr := svc.Resolve(ctx, "OLDCODE99")
	if resolveErr != nil || referrer.ID != accountID {
		t.Fatalf("expected old code to survive failed rotation, got %v %v", referrer, resolveErr)
	}
}

func TestEnsureCodeIsStable(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(26)
	accountID := node.Generate()
	seedAccount(t, db, accountID, "Alice", "")

	first, err := svc.EnsureCode(ctx, accountID.String())
	if err != nil {
		t.Fatalf("ensure code: %v", err)
	}
	if first == "" {
		t.Fatalf("expected code issued")
	}
	second, err := svc.EnsureCode(ctx, accountID.String())
	if err != nil {
		t.Fatalf("ensure code again: %v", err)
	}
	if second != first {
		t.Fatalf("expected stable code, got %q then %q", first, second)
	}
}

func TestLogClickRecordsNullReferrerForStaleCode(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	if err := svc.LogClick(ctx, domain.LogClickRequest{
		Code:       "STALE001",
		ClickToken: "tok_stale",
		IP:         "203.0.113.9",
		UserAgent:  "test-agent",
	}); err != nil {
		t.Fatalf("log click: %v", err)
	}

	var row struct {
		Code       string
		ReferrerID *int64
	}
	if err := db.Raw(`SELECT code, referrer_id FROM referral_clicks WHERE click_token = ?`, "tok_stale").Scan(&row).Error; err != nil {
		t.Fatalf("read click: %v", err)
	}
	if row.Code != "STALE001" {
		t.Fatalf("expected click recorded, got %+v", row)
	}
	if row.ReferrerID != nil {
		t.Fatalf("expected null referrer for stale code")
	}
}

func TestLogClickReplayedTokenIsNoOp(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	req := domain.LogClickRequest{Code: "ANY", ClickToken: "tok_once"}
	if err := svc.LogClick(ctx, req); err != nil {
		t.Fatalf("log click: %v", err)
	}
	if err := svc.LogClick(ctx, req); err != nil {
		t.Fatalf("replayed log click: %v", err)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM referral_clicks WHERE click_token = ?`, "tok_once").Scan(&count).Error; err != nil {
		t.Fatalf("count clicks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 click, got %d", count)
	}
}

func TestStatsSummarizesReferrals(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(27)
	referrerID := node.Generate()
	seedAccount(t, db, referrerID, "Alice", "ALICE123")

	for i := 0; i < 3; i++ {
		buyerID := node.Generate()
		seedAccount(t, db, buyerID, fmt.Sprintf("Buyer%d", i), "")
		if _, err := svc.Attach(ctx, domain.AttachRequest{AccountID: buyerID.String(), Code: "ALICE123"}); err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}

	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO earnings_credits (id, event_id, account_id, tier, rate_bps, amount, currency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		node.Generate(), node.Generate(), referrerID, 1, 1000, 500, "gbp", now,
	).Error; err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	stats, err := svc.Stats(ctx, domain.StatsRequest{AccountID: referrerID.String()})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ReferredCount != 3 {
		t.Fatalf("expected 3 referred, got %d", stats.ReferredCount)
	}
	if len(stats.LifetimeEarnings) != 1 || stats.LifetimeEarnings[0].Amount != 500 {
		t.Fatalf("expected 500 gbp lifetime earnings, got %+v", stats.LifetimeEarnings)
	}
}
