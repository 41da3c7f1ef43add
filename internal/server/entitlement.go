package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetEntitlement(c *gin.Context) {
	snapshot, err := s.entitlements.Snapshot(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
