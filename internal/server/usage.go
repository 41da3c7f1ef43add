package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type checkUsageRequest struct {
	Amount *int64 `json:"amount"`
}

func (s *Server) CheckUsage(c *gin.Context) {
	featureKey := strings.TrimSpace(c.Param("feature"))
	if featureKey != "" {
		c.Set("feature_key", featureKey)
	}

	var req checkUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}

	result, err := s.usagesvc.Check(c.Request.Context(), userIDFrom(c), featureKey, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) GetUsageSummary(c *gin.Context) {
	summary, err := s.usagesvc.Summary(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ResetUsage clears today's counters for the caller. Only registered outside
// production.
func (s *Server) ResetUsage(c *gin.Context) {
	if err := s.usagesvc.Reset(c.Request.Context(), userIDFrom(c)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
