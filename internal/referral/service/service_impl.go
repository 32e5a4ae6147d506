package service

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/observability/metrics"
	"github.com/inkstory/attribution/internal/referral/domain"
	"github.com/inkstory/attribution/pkg/db"
)

// Code alphabet excludes 0/O and 1/I/L so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const codeLength = 8

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("referral.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// Attach binds the stored referral reference to the account. referred_by is
// write-once, concurrent calls race on the conditional update and exactly one
// wins.
func (s *Service) Attach(ctx context.Context, req domain.AttachRequest) (domain.AttachResult, error) {
	accountID, err := s.parseID(req.AccountID)
	if err != nil {
		return domain.AttachResult{}, err
	}

	account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
	if err != nil {
		return domain.AttachResult{}, err
	}
	if account == nil {
		return domain.AttachResult{}, domain.ErrAccountNotFound
	}

	if account.ReferredBy != nil {
		return s.attachResult(ctx, domain.AttachResult{Reason: domain.ReasonAlreadyAttached}), nil
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return s.attachResult(ctx, domain.AttachResult{Reason: domain.ReasonNoReference}), nil
	}

	referrer, err := s.repo.FindAccountByCode(ctx, s.db, code)
	if err != nil {
		return domain.AttachResult{}, err
	}
	if referrer == nil {
		return s.attachResult(ctx, domain.AttachResult{Reason: domain.ReasonUnknownCode, StaleRef: true}), nil
	}
	if referrer.ID == account.ID {
		return s.attachResult(ctx, domain.AttachResult{Reason: domain.ReasonSelfReferral, StaleRef: true}), nil
	}

	won, err := s.repo.ClaimReferral(ctx, s.db, account.ID, referrer.ID, strings.TrimSpace(req.ClickToken))
	if err != nil {
		return domain.AttachResult{}, err
	}
	if !won {
		return s.attachResult(ctx, domain.AttachResult{Reason: domain.ReasonLostRace, StaleRef: true}), nil
	}

	s.log.Info("referral attached",
		zap.String("account_id", account.ID.String()),
		zap.String("referrer_id", referrer.ID.String()),
		zap.String("code", code),
	)

	return s.attachResult(ctx, domain.AttachResult{
		Attached: true,
		Referrer: toReferrer(referrer),
		Reason:   domain.ReasonAttached,
		StaleRef: true,
	}), nil
}

// Resolve looks up a referrer by their current code only. Rotated-out codes
// stop resolving immediately.
func (s *Service) Resolve(ctx context.Context, code string) (*domain.Referrer, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	account, err := s.repo.FindAccountByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrCodeNotFound
	}
	return toReferrer(account), nil
}

// Rotate substitutes a fresh code for the account in a single update.
func (s *Service) Rotate(ctx context.Context, req domain.RotateRequest) (string, error) {
	accountID, err := s.parseID(req.AccountID)
	if err != nil {
		return "", err
	}

	account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", domain.ErrAccountNotFound
	}

	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		err = s.repo.UpdateReferralCode(ctx, s.db, account.ID, code)
		if err == nil {
			s.log.Info("referral code rotated", zap.String("account_id", account.ID.String()))
			return code, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return "", err
		}
	}
	return "", domain.ErrCodeExhausted
}

// EnsureCode issues a referral code at first use if the account has none.
func (s *Service) EnsureCode(ctx context.Context, accountIDValue string) (string, error) {
	accountID, err := s.parseID(accountIDValue)
	if err != nil {
		return "", err
	}

	account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", domain.ErrAccountNotFound
	}
	if account.ReferralCode != nil && *account.ReferralCode != "" {
		return *account.ReferralCode, nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		set, err := s.repo.SetReferralCodeIfEmpty(ctx, s.db, account.ID, code)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				continue
			}
			return "", err
		}
		if set {
			return code, nil
		}
		// Lost the race to a concurrent caller, use whatever they set.
		refreshed, err := s.repo.FindAccountByID(ctx, s.db, account.ID)
		if err != nil {
			return "", err
		}
		if refreshed != nil && refreshed.ReferralCode != nil {
			return *refreshed.ReferralCode, nil
		}
	}
	return "", domain.ErrCodeExhausted
}

// LogClick records a landing on a referral link. Stale codes are still
// recorded with a null referrer.
func (s *Service) LogClick(ctx context.Context, req domain.LogClickRequest) error {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.ErrInvalidCode
	}

	var referrerID *snowflake.ID
	referrer, err := s.repo.FindAccountByCode(ctx, s.db, code)
	if err != nil {
		return err
	}
	if referrer != nil {
		referrerID = &referrer.ID
	}

	click := domain.ReferralClick{
		ID:         s.genID.Generate(),
		ClickToken: strings.TrimSpace(req.ClickToken),
		Code:       code,
		ReferrerID: referrerID,
		IP:         strings.TrimSpace(req.IP),
		UserAgent:  strings.TrimSpace(req.UserAgent),
		CreatedAt:  time.Now().UTC(),
	}
	if click.ClickToken == "" {
		click.ClickToken = click.ID.String()
	}

	if err := s.repo.InsertClick(ctx, s.db, &click); err != nil {
		// Replayed click tokens are a no-op, everything else bubbles up.
		if db.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	s.metrics.RecordReferralClick(ctx, referrerID != nil)
	return nil
}

// Stats summarizes referral performance for one account.
func (s *Service) Stats(ctx context.Context, req domain.StatsRequest) (domain.Stats, error) {
	accountID, err := s.parseID(req.AccountID)
	if err != nil {
		return domain.Stats{}, err
	}

	account, err := s.repo.FindAccountByID(ctx, s.db, accountID)
	if err != nil {
		return domain.Stats{}, err
	}
	if account == nil {
		return domain.Stats{}, domain.ErrAccountNotFound
	}

	count, err := s.repo.CountReferred(ctx, s.db, account.ID)
	if err != nil {
		return domain.Stats{}, err
	}
	earnings, err := s.repo.SumCreditsByCurrency(ctx, s.db, account.ID)
	if err != nil {
		return domain.Stats{}, err
	}

	return domain.Stats{
		ReferredCount:    count,
		LifetimeEarnings: earnings,
	}, nil
}

func (s *Service) attachResult(ctx context.Context, result domain.AttachResult) domain.AttachResult {
	s.metrics.RecordReferralAttach(ctx, result.Reason)
	return result
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidAccount
	}
	return id, nil
}

func toReferrer(account *domain.Account) *domain.Referrer {
	referrer := &domain.Referrer{
		ID:   account.ID,
		Name: account.Name,
	}
	if account.ReferralCode != nil {
		referrer.Code = *account.ReferralCode
	}
	return referrer
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
