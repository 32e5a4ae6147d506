package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/config"
	earningsdomain "github.com/inkstory/attribution/internal/earnings/domain"
	earningsrepo "github.com/inkstory/attribution/internal/earnings/repository"
	earningsservice "github.com/inkstory/attribution/internal/earnings/service"
	referralrepo "github.com/inkstory/attribution/internal/referral/repository"
	referralservice "github.com/inkstory/attribution/internal/referral/service"
)

const testSecret = "whsec_checkout_test"

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
		`CREATE TABLE earnings_events (
			id BIGINT PRIMARY KEY,
			event_id TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL,
			buyer_account_id BIGINT NOT NULL,
			referral_code TEXT,
			click_id TEXT,
			gross_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payload TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_earnings_events_order_id ON earnings_events(order_id)`,
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
		`CREATE TABLE account_balances (
			account_id BIGINT NOT NULL,
			currency TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, currency)
		)`,
		`CREATE TABLE referral_clicks (
			id BIGINT PRIMARY KEY,
			click_token TEXT NOT NULL,
			code TEXT NOT NULL,
			referrer_id BIGINT,
			ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
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

func newService(t *testing.T, db *gorm.DB) earningsdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(30)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	referralSvc := referralservice.New(referralservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  referralrepo.Provide(),
	})
	return earningsservice.New(earningsservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        earningsrepo.Provide(),
		ReferralSvc: referralSvc,
		Cfg:         config.Config{CheckoutWebhookSecret: testSecret},
		Commission: config.NewStaticCommissionHolder(config.CommissionConfig{
			Tier1Bps: 1000,
			Tier2Bps: 200,
		}),
	})
}

func seedAccount(t *testing.T, db *gorm.DB, id snowflake.ID, name, code string, referredBy *snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	var codeValue any
	if code != "" {
		codeValue = code
	}
	err := db.Exec(
		`INSERT INTO accounts (id, name, referral_code, referred_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, codeValue, referredBy, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func signPayload(secret string, payload []byte, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutPayload(orderID string, buyerID snowflake.ID, refCode, clickID string, gross int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_%s","type":"checkout.completed","data":{"order_id":"%s","buyer_account_id":"%s","referral_code":"%s","click_id":"%s","gross_amount":%d,"currency":"gbp"}}`,
		orderID, orderID, buyerID.String(), refCode, clickID, gross,
	))
}

func assertCount(t *testing.T, db *gorm.DB, query string, args []any, want int64) {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != want {
		t.Fatalf("expected %d rows from %q, got %d", want, query, count)
	}
}

func TestHandleNotificationCreditsBothTiers(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(31)
	grandID := node.Generate()
	parentID := node.Generate()
	buyerID := node.Generate()
	seedAccount(t, db, grandID, "Grand", "GRAND111", nil)
	seedAccount(t, db, parentID, "Parent", "PARENT11", &grandID)
	seedAccount(t, db, buyerID, "Buyer", "", &parentID)

	payload := checkoutPayload("ord_1", buyerID, "", "", 5000)
	if err := svc.HandleNotification(ctx, payload, signPayload(testSecret, payload, time.Now())); err != nil {
		t.Fatalf("handle: %v", err)
	}

	assertCount(t, db, `SELECT COUNT(1) FROM earnings_events WHERE order_id = ?`, []any{"ord_1"}, 1)
	assertCount(t, db, `SELECT COUNT(1) FROM earnings_credits`, nil, 2)

	var parentBalance int64
	if err := db.Raw(`SELECT amount FROM account_balances WHERE account_id = ? AND currency = 'gbp'`, parentID).Scan(&parentBalance).Error; err != nil {
		t.Fatalf("parent balance: %v", err)
	}
	if parentBalance != 500 {
		t.Fatalf("expected tier1 balance 500, got %d", parentBalance)
	}

	var grandBalance int64
	if err := db.Raw(`SELECT amount FROM account_balances WHERE account_id = ? AND currency = 'gbp'`, grandID).Scan(&grandBalance).Error; err != nil {
		t.Fatalf("grand balance: %v", err)
	}
	if grandBalance != 100 {
		t.Fatalf("expected tier2 balance 100, got %d", grandBalance)
	}
}

func TestHandleNotificationReplayIsNoOp(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(32)
	parentID := node.Generate()
	buyerID := node.Generate()
	seedAccount(t, db, parentID, "Parent", "PARENT22", nil)
	seedAccount(t, db, buyerID, "Buyer", "", &parentID)

	payload := checkoutPayload("ord_1", buyerID, "", "", 5000)
	for i := 0; i < 3; i++ {
		if err := svc.HandleNotification(ctx, payload, signPayload(testSecret, payload, time.Now())); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	assertCount(t, db, `SELECT COUNT(1) FROM earnings_events`, nil, 1)
	assertCount(t, db, `SELECT COUNT(1) FROM earnings_credits`, nil, 1)

	var balance int64
	if err := db.Raw(`SELECT amount FROM account_balances WHERE account_id = ? AND currency = 'gbp'`, parentID).Scan(&balance).Error; err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected balance 500 after replays, got %d", balance)
	}
}

func TestHandleNotificationRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(33)
	buyerID := node.Generate()
	seedAccount(t, db, buyerID, "Buyer", "", nil)

	payload := checkoutPayload("ord_1", buyerID, "", "", 5000)
	err := svc.HandleNotification(ctx, payload, signPayload("wrong_secret", payload, time.Now()))
	if !errors.Is(err, earningsdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	assertCount(t, db, `SELECT COUNT(1) FROM earnings_events`, nil, 0)
}

func TestHandleNotificationRejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(34)
	buyerID := node.Generate()
	seedAccount(t, db, buyerID, "Buyer", "", nil)

	payload := checkoutPayload("ord_1", buyerID, "", "", 5000)
	stale := time.Now().Add(-10 * time.Minute)
	err := svc.HandleNotification(ctx, payload, signPayload(testSecret, payload, stale))
	if !errors.Is(err, earningsdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for stale timestamp, got %v", err)
	}
}

func TestHandleNotificationIgnoresOtherEventTypes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	payload := []byte(`{"id":"evt_x","type":"checkout.refunded","data":{"order_id":"ord_9","buyer_account_id":"1","gross_amount":100,"currency":"gbp"}}`)
	if err := svc.HandleNotification(ctx, payload, signPayload(testSecret, payload, time.Now())); err != nil {
		t.Fatalf("expected ignored event to succeed, got %v", err)
	}

	assertCount(t, db, `SELECT COUNT(1) FROM earnings_events`, nil, 0)
}

func TestHandleNotificationAttachesLateReferral(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(35)
	referrerID := node.Generate()
	buyerID := node.Generate()
	seedAccount(t, db, referrerID, "Referrer", "LATE1234", nil)
	seedAccount(t, db, buyerID, "Buyer", "", nil)

	payload := checkoutPayload("ord_1", buyerID, "LATE1234", "click_abc", 5000)
	if err := svc.HandleNotification(ctx, payload, signPayload(testSecret, payload, time.Now())); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var referredBy snowflake.ID
	if err := db.Raw(`SELECT referred_by FROM accounts WHERE id = ?`, buyerID).Scan(&referredBy).Error; err != nil {
		t.Fatalf("read referred_by: %v", err)
	}
	if referredBy != referrerID {
		t.Fatalf("expected late attach to %v, got %v", referrerID, referredBy)
	}

	var balance int64
	if err := db.Raw(`SELECT amount FROM account_balances WHERE account_id = ? AND currency = 'gbp'`, referrerID).Scan(&balance).Error; err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected tier1 credit after late attach, got %d", balance)
	}
}

func TestHandleNotificationWithoutReferrerRecordsEventOnly(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	node, _ := snowflake.NewNode(36)
	buyerID := node.Generate()
	seedAccount(t, db, buyerID, "Buyer", "", nil)

	payload := checkoutPayload("ord_1", buyerID, "", "", 5000)
	if err := svc.HandleNotification(ctx, payload, signPayload(testSecret, payload, time.Now())); err != nil {
		t.Fatalf("handle: %v", err)
	}

	assertCount(t, db, `SELECT COUNT(1) FROM earnings_events`, nil, 1)
	assertCount(t, db, `SELECT COUNT(1) FROM earnings_credits`, nil, 0)
	assertCount(t, db, `SELECT COUNT(1) FROM account_balances`, nil, 0)
}
