package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	referraldomain "github.com/inkstory/attribution/internal/referral/domain"
	"github.com/inkstory/attribution/internal/refstore"
)

const clickLogTimeout = 5 * time.Second

type attachRequest struct {
	UserID string `json:"user_id"`
}

type attachResponse struct {
	Success  bool                     `json:"success"`
	Referrer *referraldomain.Referrer `json:"referrer,omitempty"`
}

type clickRequest struct {
	Ref string `json:"ref"`
}

type rotateRequest struct {
	UserID string `json:"user_id"`
}

// CaptureVisit lands a shared referral link. Capture failures never block the
// visitor, they still get redirected into the app.
func (s *Server) CaptureVisit(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	visitorID := s.visitorID(c)

	ref, captured, err := s.refStore.CaptureCode(c.Request.Context(), visitorID, code)
	if err != nil {
		s.log.Warn("visit capture failed", zap.String("code", code), zap.Error(err))
	}
	if captured {
		s.setRefCookie(c, ref)
		c.Set("ref_code", ref.Code)
		s.dispatchClickLog(ref.Code, ref.ClickToken, c.ClientIP(), c.Request.UserAgent())
	}

	c.Redirect(http.StatusFound, "/")
}

// RecordVisit captures the ref parameter out of a full page URL reported by
// the client. Visits without a ref parameter are acknowledged unchanged.
func (s *Server) RecordVisit(c *gin.Context) {
	visitURL := strings.TrimSpace(c.Query("url"))
	if visitURL == "" {
		AbortWithError(c, newValidationError("url", "invalid_request", "invalid request"))
		return
	}
	visitorID := s.visitorID(c)

	ref, captured, err := s.refStore.Capture(c.Request.Context(), visitorID, visitURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if captured {
		s.setRefCookie(c, ref)
		c.Set("ref_code", ref.Code)
		s.dispatchClickLog(ref.Code, ref.ClickToken, c.ClientIP(), c.Request.UserAgent())
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "captured": captured})
}

// AttachReferral binds the stored reference to the signed-up account. A used
// or useless reference is cleared so later calls stop retrying it.
func (s *Server) AttachReferral(c *gin.Context) {
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	visitorID := s.visitorID(c)
	cookieValue, _ := c.Cookie(refstore.CookieName)

	ref := s.refStore.Read(c.Request.Context(), visitorID, cookieValue)
	if ref == nil {
		c.JSON(http.StatusOK, attachResponse{Success: false})
		return
	}

	result, err := s.referralSvc.Attach(c.Request.Context(), referraldomain.AttachRequest{
		AccountID:  req.UserID,
		Code:       ref.Code,
		ClickToken: ref.ClickToken,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.StaleRef {
		s.refStore.Clear(c.Request.Context(), visitorID)
		s.clearRefCookie(c)
	}

	c.JSON(http.StatusOK, attachResponse{
		Success:  result.Attached,
		Referrer: result.Referrer,
	})
}

// LogReferralClick acknowledges immediately and records in the background.
// Click logging is best-effort telemetry, never a visitor-facing failure.
func (s *Server) LogReferralClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		if code := strings.TrimSpace(req.Ref); code != "" {
			c.Set("ref_code", code)
			s.dispatchClickLog(code, "", c.ClientIP(), c.Request.UserAgent())
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) RotateReferralCode(c *gin.Context) {
	var req rotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	code, err := s.referralSvc.Rotate(c.Request.Context(), referraldomain.RotateRequest{AccountID: req.UserID})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code})
}

// GetReferralCode returns the account's share code, issuing one on first use.
func (s *Server) GetReferralCode(c *gin.Context) {
	code, err := s.referralSvc.EnsureCode(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (s *Server) GetReferralStats(c *gin.Context) {
	stats, err := s.referralSvc.Stats(c.Request.Context(), referraldomain.StatsRequest{AccountID: c.Query("user_id")})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) setRefCookie(c *gin.Context, ref *refstore.StoredRef) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refstore.CookieName, refstore.EncodeCookie(ref), s.refStore.CookieMaxAge(), "/", "", s.cfg.CookieSecure, true)
}

func (s *Server) clearRefCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(refstore.CookieName, "", -1, "/", "", s.cfg.CookieSecure, true)
}

// dispatchClickLog records the click off the request path. The request
// context ends with the response, so the write gets its own deadline.
func (s *Server) dispatchClickLog(code, clickToken, ip, userAgent string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), clickLogTimeout)
		defer cancel()

		err := s.referralSvc.LogClick(ctx, referraldomain.LogClickRequest{
			Code:       code,
			ClickToken: clickToken,
			IP:         ip,
			UserAgent:  userAgent,
		})
		if err != nil {
			s.log.Warn("click log failed", zap.String("code", code), zap.Error(err))
		}
	}()
}
