package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// VisitorCookieName identifies a browser across visits. The value is an
// opaque uuid with no account linkage until attach time.
const VisitorCookieName = "ik_vid"

const visitorCookieMaxAge = 2 * 365 * 24 * 60 * 60

// EnsureVisitorCookie assigns a visitor id on first contact and exposes it
// to handlers under "visitor_id".
func (s *Server) EnsureVisitorCookie() gin.HandlerFunc {
	return func(c *gin.Context) {
		visitorID, err := c.Cookie(VisitorCookieName)
		visitorID = strings.TrimSpace(visitorID)
		if err != nil || visitorID == "" {
			visitorID = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(VisitorCookieName, visitorID, visitorCookieMaxAge, "/", "", s.cfg.CookieSecure, true)
		}

		c.Set("visitor_id", visitorID)
		c.Next()
	}
}

func (s *Server) visitorID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString("visitor_id"))
}

// PublicRateLimit throttles an anonymous endpoint per source IP.
func (s *Server) PublicRateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.Request.Context(), scope, c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}
