package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkstory/attribution/internal/ads/domain"
	"github.com/inkstory/attribution/internal/config"
	"github.com/inkstory/attribution/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Cfg     config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	window  time.Duration
	seen    *seenCache
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(p Params) domain.Service {
	minutes := p.Cfg.AdDedupWindowMinutes
	if minutes <= 0 {
		minutes = 30
	}
	window := time.Duration(minutes) * time.Minute
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ads.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		window:  window,
		seen:    newSeenCache(window),
		metrics: p.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Track records an ad event. The session cache filters repeats from one
// rendered page, the database window insert is the authoritative guard.
func (s *Service) Track(ctx context.Context, req domain.TrackRequest) (domain.TrackResult, error) {
	adID, err := s.parseID(req.AdID)
	if err != nil {
		return domain.TrackResult{}, err
	}
	eventType := strings.TrimSpace(req.Type)
	if eventType != domain.EventTypeImpression && eventType != domain.EventTypeClick {
		return domain.TrackResult{}, domain.ErrInvalidEventType
	}

	now := s.now()
	visitorID := strings.TrimSpace(req.VisitorID)
	if eventType == domain.EventTypeImpression && visitorID != "" {
		key := seenKey(visitorID, req.AdID, strings.TrimSpace(req.Placement))
		if s.seen.seen(key, now) {
			s.metrics.RecordAdDeduped(ctx, eventType, domain.DedupSessionCache)
			return domain.TrackResult{Reason: domain.DedupSessionCache}, nil
		}
	}

	ad, err := s.repo.FindAd(ctx, s.db, adID)
	if err != nil {
		return domain.TrackResult{}, err
	}
	if ad == nil {
		return domain.TrackResult{}, domain.ErrNotFound
	}

	event := domain.AdEvent{
		ID:        s.genID.Generate(),
		AdID:      ad.ID,
		EventType: eventType,
		Placement: strings.TrimSpace(req.Placement),
		IP:        strings.TrimSpace(req.IP),
		UserAgent: strings.TrimSpace(req.UserAgent),
		Referrer:  strings.TrimSpace(req.Referrer),
		CreatedAt: now,
	}

	inserted, err := s.repo.InsertEventIfNoneRecent(ctx, s.db, &event, s.window)
	if err != nil {
		return domain.TrackResult{}, err
	}
	if !inserted {
		s.metrics.RecordAdDeduped(ctx, eventType, domain.DedupWindow)
		return domain.TrackResult{Reason: domain.DedupWindow}, nil
	}

	if eventType == domain.EventTypeImpression {
		err = s.repo.IncrementImpressions(ctx, s.db, ad.ID)
	} else {
		err = s.repo.IncrementClicks(ctx, s.db, ad.ID)
	}
	if err != nil {
		return domain.TrackResult{}, err
	}

	s.metrics.RecordAdEvent(ctx, eventType, event.Placement)
	return domain.TrackResult{Counted: true}, nil
}

// Redirect resolves the target URL and counts the click unconditionally.
func (s *Service) Redirect(ctx context.Context, adIDValue string) (string, error) {
	adID, err := s.parseID(adIDValue)
	if err != nil {
		return "", domain.ErrNotFound
	}

	ad, err := s.repo.FindAd(ctx, s.db, adID)
	if err != nil {
		return "", err
	}
	if ad == nil || strings.TrimSpace(ad.TargetURL) == "" {
		return "", domain.ErrNotFound
	}

	event := domain.AdEvent{
		ID:        s.genID.Generate(),
		AdID:      ad.ID,
		EventType: domain.EventTypeClick,
		Placement: ad.Placement,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertEvent(ctx, s.db, &event); err != nil {
		return "", err
	}
	if err := s.repo.IncrementClicks(ctx, s.db, ad.ID); err != nil {
		return "", err
	}

	s.metrics.RecordAdEvent(ctx, domain.EventTypeClick, ad.Placement)
	return ad.TargetURL, nil
}

// PickForPlacement prefers an ad whose schedule contains today and falls
// back to the first active ad for the placement otherwise.
func (s *Service) PickForPlacement(ctx context.Context, placement string, today time.Time) (*domain.Ad, error) {
	placement = strings.TrimSpace(placement)
	if placement == "" {
		return nil, domain.ErrNotFound
	}

	ads, err := s.repo.ListActiveByPlacement(ctx, s.db, placement)
	if err != nil {
		return nil, err
	}
	if len(ads) == 0 {
		return nil, domain.ErrNotFound
	}

	for _, ad := range ads {
		if scheduleContains(ad, today) {
			return ad, nil
		}
	}
	return ads[0], nil
}

func scheduleContains(ad *domain.Ad, today time.Time) bool {
	if ad.StartDate == nil || ad.EndDate == nil {
		return false
	}
	day := today.Truncate(24 * time.Hour)
	return !day.Before(ad.StartDate.Truncate(24*time.Hour)) && !day.After(ad.EndDate.Truncate(24*time.Hour))
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidAd
	}
	return id, nil
}
