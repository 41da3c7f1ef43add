package contentcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	obsmetrics "github.com/smallbiznis/creatorquota/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidTTL = errors.New("invalid_ttl")

type ServiceParam struct {
	fx.In

	Store   Store
	Config  config.Config
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Service reads and writes the content cache against the injected clock.
type Service struct {
	store   Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	ttls    map[string]time.Duration
}

func NewService(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		store:   p.Store,
		clock:   clk,
		log:     p.Log.Named("contentcache"),
		metrics: p.Metrics,
		ttls: map[string]time.Duration{
			ScopeIdeas:      p.Config.Cache.IdeasTTL,
			ScopeThumbnails: p.Config.Cache.ThumbnailsTTL,
		},
	}
}

// TTL returns the configured lifetime for scope, or 0 when unknown.
func (s *Service) TTL(scope string) time.Duration {
	return s.ttls[scope]
}

// Get returns the cached entry while it is fresh.
func (s *Service) Get(ctx context.Context, scope, hash string) (Entry, bool, error) {
	entry, ok, err := s.store.Get(ctx, scope, hash, s.clock.Now())
	if err != nil {
		return Entry{}, false, err
	}
	result := "miss"
	if ok {
		result = "hit"
	}
	s.metrics.RecordCacheLookup(ctx, scope, result)
	return entry, ok, nil
}

// GetInto decodes a hit into dest.
func (s *Service) GetInto(ctx context.Context, scope, hash string, dest any) (time.Time, bool, error) {
	entry, ok, err := s.Get(ctx, scope, hash)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		// An undecodable entry is treated as a miss and will be overwritten.
		s.log.Warn("discarding undecodable cache entry",
			zap.String("scope", scope),
			zap.String("hash", hash),
			zap.Error(err),
		)
		return time.Time{}, false, nil
	}
	return entry.CachedUntil, true, nil
}

// Put stores payload for ttl and returns the expiry.
func (s *Service) Put(ctx context.Context, scope, hash string, payload any, ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		return time.Time{}, ErrInvalidTTL
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return time.Time{}, err
	}
	cachedUntil := s.clock.Now().Add(ttl)
	if err := s.store.Put(ctx, Entry{
		Scope:       scope,
		Hash:        hash,
		Payload:     raw,
		CachedUntil: cachedUntil,
	}); err != nil {
		return time.Time{}, err
	}
	return cachedUntil, nil
}

// Purge removes expired entries.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.store.Purge(ctx, s.clock.Now())
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, ErrInvalidPayload
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, ErrInvalidPayload
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, ErrInvalidPayload
		}
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return raw, nil
	}
}
