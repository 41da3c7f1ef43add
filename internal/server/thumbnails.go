package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type thumbnailLookupRequest struct {
	Input json.RawMessage `json:"input"`
}

type thumbnailLookupResponse struct {
	Found       bool            `json:"found"`
	Output      json.RawMessage `json:"output,omitempty"`
	CachedUntil *time.Time      `json:"cached_until,omitempty"`
}

// LookupThumbnail returns a previously generated thumbnail for the same
// prediction input, if one is still cached.
func (s *Server) LookupThumbnail(c *gin.Context) {
	var req thumbnailLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Input) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	output, cachedUntil, ok, err := s.replicate.Lookup(c.Request.Context(), req.Input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, thumbnailLookupResponse{Found: false})
		return
	}

	c.JSON(http.StatusOK, thumbnailLookupResponse{
		Found:       true,
		Output:      output,
		CachedUntil: &cachedUntil,
	})
}
