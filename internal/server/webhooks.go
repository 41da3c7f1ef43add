package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creatorquota/internal/observability/logger"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

func readWebhookBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		return nil, invalidRequestError()
	}
	return body, nil
}

func (s *Server) StripeWebhook(c *gin.Context) {
	payload, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.stripe.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	logger.FromContext(c.Request.Context()).Debug("stripe webhook handled",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.Bool("ignored", result.Ignored),
	)

	c.JSON(http.StatusOK, webhookResponse{Status: "ok", Duplicate: result.Duplicate})
}

func (s *Server) ReplicateWebhook(c *gin.Context) {
	payload, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.replicate.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, webhookResponse{Status: "ok", Duplicate: result.Duplicate})
}
