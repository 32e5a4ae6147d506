package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	adsdomain "github.com/inkstory/attribution/internal/ads/domain"
)

type trackAdRequest struct {
	AdID      string `json:"adId"`
	Type      string `json:"type"`
	Placement string `json:"placement"`
}

// TrackAdEvent counts an impression or click. Suppressed duplicates still
// answer ok, the client cannot tell and must not retry.
func (s *Server) TrackAdEvent(c *gin.Context) {
	var req trackAdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	_, err := s.adsSvc.Track(c.Request.Context(), adsdomain.TrackRequest{
		AdID:      req.AdID,
		Type:      req.Type,
		Placement: req.Placement,
		VisitorID: s.visitorID(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// AdRedirect counts the click and forwards to the ad's target.
func (s *Server) AdRedirect(c *gin.Context) {
	target, err := s.adsSvc.Redirect(c.Request.Context(), c.Query("ad_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Redirect(http.StatusFound, target)
}

// GetAdForPlacement serves the ad selected for a placement today.
func (s *Server) GetAdForPlacement(c *gin.Context) {
	ad, err := s.adsSvc.PickForPlacement(c.Request.Context(), c.Param("placement"), time.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ad)
}
