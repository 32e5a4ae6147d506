package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/config"
	"github.com/inkstory/attribution/internal/earnings/domain"
	"github.com/inkstory/attribution/internal/observability/metrics"
	referraldomain "github.com/inkstory/attribution/internal/referral/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	ReferralSvc referraldomain.Service
	Cfg         config.Config
	Commission  *config.CommissionConfigHolder
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	referralSvc referraldomain.Service
	secret      string
	commission  *config.CommissionConfigHolder
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("earnings.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		referralSvc: p.ReferralSvc,
		secret:      p.Cfg.CheckoutWebhookSecret,
		commission:  p.Commission,
		metrics:     p.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) HandleNotification(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := verifySignature(s.secret, payload, signatureHeader, s.now()); err != nil {
		s.metrics.RecordEarningsEvent(ctx, "", "bad_signature")
		return err
	}

	var event domain.CheckoutEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(event.Type)
	if eventType != domain.EventTypeCheckoutCompleted {
		s.log.Debug("ignoring checkout event", zap.String("event_type", eventType))
		s.metrics.RecordEarningsEvent(ctx, eventType, "ignored")
		return nil
	}

	orderID := strings.TrimSpace(event.Data.OrderID)
	if orderID == "" {
		return domain.ErrInvalidPayload
	}
	buyerID, err := snowflake.ParseString(strings.TrimSpace(event.Data.BuyerAccountID))
	if err != nil || buyerID == 0 {
		return domain.ErrInvalidPayload
	}
	if event.Data.GrossAmount < 0 || strings.TrimSpace(event.Data.Currency) == "" {
		return domain.ErrInvalidPayload
	}
	currency := strings.ToLower(strings.TrimSpace(event.Data.Currency))

	// Late attribution: the purchase may arrive before the buyer ever hit
	// the attach endpoint. Attach failures must not block the ledger write.
	referralCode := strings.TrimSpace(event.Data.ReferralCode)
	if referralCode != "" {
		if _, attachErr := s.referralSvc.Attach(ctx, referraldomain.AttachRequest{
			AccountID:  buyerID.String(),
			Code:       referralCode,
			ClickToken: strings.TrimSpace(event.Data.ClickID),
		}); attachErr != nil {
			s.log.Warn("webhook attach failed",
				zap.String("order_id", orderID),
				zap.Error(attachErr),
			)
		}
	}

	record := domain.EarningsEvent{
		ID:             s.genID.Generate(),
		EventID:        strings.TrimSpace(event.ID),
		OrderID:        orderID,
		BuyerAccountID: buyerID,
		GrossAmount:    event.Data.GrossAmount,
		Currency:       currency,
		Payload:        datatypes.JSON(payload),
		CreatedAt:      s.now(),
	}
	if referralCode != "" {
		record.ReferralCode = &referralCode
	}
	if clickID := strings.TrimSpace(event.Data.ClickID); clickID != "" {
		record.ClickID = &clickID
	}

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		inserted, txErr = s.repo.InsertEventIfAbsent(ctx, tx, &record)
		if txErr != nil {
			return txErr
		}
		if !inserted {
			return nil
		}
		return s.applyCredits(ctx, tx, &record)
	})
	if err != nil {
		return err
	}

	if !inserted {
		s.log.Info("replayed checkout event skipped", zap.String("order_id", orderID))
		s.metrics.RecordEarningsEvent(ctx, eventType, "replay")
		return nil
	}

	s.log.Info("checkout event recorded",
		zap.String("order_id", orderID),
		zap.String("buyer_account_id", buyerID.String()),
		zap.Int64("gross_amount", record.GrossAmount),
		zap.String("currency", currency),
	)
	s.metrics.RecordEarningsEvent(ctx, eventType, "processed")
	return nil
}

// applyCredits writes the tier payouts for a freshly inserted event. Runs
// inside the same transaction so credits happen exactly once per order.
func (s *Service) applyCredits(ctx context.Context, tx *gorm.DB, event *domain.EarningsEvent) error {
	rates := s.commission.Get()

	tier1, err := s.repo.FindReferrer(ctx, tx, event.BuyerAccountID)
	if err != nil {
		return err
	}
	if tier1 == nil {
		return nil
	}
	if err := s.creditAccount(ctx, tx, event, *tier1, 1, rates.Tier1Bps); err != nil {
		return err
	}

	tier2, err := s.repo.FindReferrer(ctx, tx, *tier1)
	if err != nil {
		return err
	}
	if tier2 == nil {
		return nil
	}
	return s.creditAccount(ctx, tx, event, *tier2, 2, rates.Tier2Bps)
}

func (s *Service) creditAccount(ctx context.Context, tx *gorm.DB, event *domain.EarningsEvent, accountID snowflake.ID, tier int16, rateBps int64) error {
	amount := event.GrossAmount * rateBps / 10_000
	if amount <= 0 {
		return nil
	}

	credit := domain.EarningsCredit{
		ID:        s.genID.Generate(),
		EventID:   event.ID,
		AccountID: accountID,
		Tier:      tier,
		RateBps:   rateBps,
		Amount:    amount,
		Currency:  event.Currency,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertCredit(ctx, tx, &credit); err != nil {
		return err
	}
	return s.repo.ApplyBalanceDelta(ctx, tx, accountID, event.Currency, amount)
}
