package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creatorquota/internal/ideas"
)

type generateIdeasRequest struct {
	Niche        string   `json:"niche"`
	ChannelTitle string   `json:"channel_title"`
	RecentTitles []string `json:"recent_titles"`
	Count        int      `json:"count"`
}

func (s *Server) GenerateIdeas(c *gin.Context) {
	c.Set("feature_key", ideas.FeatureKey)

	var req generateIdeasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ideassvc.Generate(c.Request.Context(), userIDFrom(c), ideas.Request{
		Niche:        req.Niche,
		ChannelTitle: req.ChannelTitle,
		RecentTitles: req.RecentTitles,
		Count:        req.Count,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
