package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the checkout provider's timestamped HMAC.
const SignatureHeader = "Checkout-Signature"

// HandleCheckoutWebhook applies one purchase notification. Redeliveries
// answer 200 like first deliveries, the provider must not retry them.
func (s *Server) HandleCheckoutWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.earningsSvc.HandleNotification(c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
