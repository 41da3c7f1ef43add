// Package ideas generates video ideas, serving repeats from the content
// cache without charging quota.
package ideas

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/creatorquota/internal/contentcache"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	FeatureKey = "idea_generate"

	DefaultCount   = 5
	MaxCount       = 20
	maxRecentTitle = 20
)

var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrGeneratorUnavailable = errors.New("generator_unavailable")
)

type Request struct {
	Niche        string   `json:"niche"`
	ChannelTitle string   `json:"channel_title"`
	RecentTitles []string `json:"recent_titles"`
	Count        int      `json:"count"`
}

type Idea struct {
	Title string `json:"title"`
	Hook  string `json:"hook,omitempty"`
	Angle string `json:"angle,omitempty"`
}

type Response struct {
	Ideas       []Idea                   `json:"ideas"`
	Cached      bool                     `json:"cached"`
	CachedUntil time.Time                `json:"cached_until"`
	Usage       *usagedomain.CheckResult `json:"usage,omitempty"`
}

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Usage     usagedomain.Service
	Cache     *contentcache.Service
	Generator Generator `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	usage     usagedomain.Service
	cache     *contentcache.Service
	generator Generator
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:       p.Log.Named("ideas.service"),
		usage:     p.Usage,
		cache:     p.Cache,
		generator: p.Generator,
	}
}

// Generate returns ideas for req. A fresh cached answer for the same content
// is returned without a usage check; otherwise one idea_generate unit is
// charged before the generator runs.
func (s *Service) Generate(ctx context.Context, userID string, req Request) (Response, error) {
	req, err := normalize(req)
	if err != nil {
		return Response{}, err
	}
	hash, err := contentcache.Hash(req)
	if err != nil {
		return Response{}, err
	}

	var cached []Idea
	cachedUntil, hit, err := s.cache.GetInto(ctx, contentcache.ScopeIdeas, hash, &cached)
	if err != nil {
		return Response{}, err
	}
	if hit {
		return Response{Ideas: cached, Cached: true, CachedUntil: cachedUntil}, nil
	}

	if s.generator == nil {
		return Response{}, ErrGeneratorUnavailable
	}

	usage, err := s.usage.Check(ctx, userID, FeatureKey, 1)
	if err != nil {
		return Response{}, err
	}

	ideas, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.log.Error("idea generation failed",
			zap.String("user_id", userID),
			zap.String("hash", hash),
			zap.Error(err),
		)
		return Response{}, err
	}

	cachedUntil, err = s.cache.Put(ctx, contentcache.ScopeIdeas, hash, ideas, s.cache.TTL(contentcache.ScopeIdeas))
	if err != nil {
		s.log.Warn("failed to cache ideas", zap.String("hash", hash), zap.Error(err))
		cachedUntil = time.Time{}
	}

	return Response{
		Ideas:       ideas,
		CachedUntil: cachedUntil,
		Usage:       &usage,
	}, nil
}

func normalize(req Request) (Request, error) {
	req.Niche = strings.TrimSpace(req.Niche)
	req.ChannelTitle = strings.TrimSpace(req.ChannelTitle)
	if req.Niche == "" {
		return Request{}, ErrInvalidRequest
	}

	titles := make([]string, 0, len(req.RecentTitles))
	for _, title := range req.RecentTitles {
		if title = strings.TrimSpace(title); title != "" {
			titles = append(titles, title)
		}
		if len(titles) == maxRecentTitle {
			break
		}
	}
	req.RecentTitles = titles

	switch {
	case req.Count == 0:
		req.Count = DefaultCount
	case req.Count < 0 || req.Count > MaxCount:
		return Request{}, ErrInvalidRequest
	}
	return req, nil
}
