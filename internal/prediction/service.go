// Package prediction receives Replicate prediction webhooks and caches
// finished outputs by the hash of their input.
package prediction

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/smallbiznis/creatorquota/internal/contentcache"
	"github.com/smallbiznis/creatorquota/internal/idempotency"
	obsmetrics "github.com/smallbiznis/creatorquota/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const provider = "replicate"

// Prediction statuses reported by Replicate.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is the subset of the webhook body this service reads.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

type Result struct {
	PredictionID string    `json:"prediction_id"`
	Status       string    `json:"status"`
	Duplicate    bool      `json:"duplicate"`
	Cached       bool      `json:"cached"`
	Hash         string    `json:"hash,omitempty"`
	CachedUntil  time.Time `json:"cached_until,omitempty"`
}

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Guard   *idempotency.Guard
	Cache   *contentcache.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	key     []byte
	log     *zap.Logger
	clock   clock.Clock
	guard   *idempotency.Guard
	cache   *contentcache.Service
	metrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	log := p.Log.Named("prediction.webhook")
	key, err := DecodeSecret(p.Config.ReplicateWebhookSecret)
	if err != nil {
		log.Warn("replicate webhook secret missing or malformed; deliveries will be rejected")
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		key:     key,
		log:     log,
		clock:   clk,
		guard:   p.Guard,
		cache:   p.Cache,
		metrics: p.Metrics,
	}
}

// HandleWebhook verifies and claims a delivery, then caches the output of a
// succeeded prediction. Each status of a prediction is claimed separately.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (Result, error) {
	if err := VerifySignature(payload, headers, s.key, s.clock.Now(), DefaultTolerance); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "", obsmetrics.OutcomeRejected)
		return Result{}, err
	}

	var prediction Prediction
	if err := json.Unmarshal(payload, &prediction); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "", obsmetrics.OutcomeRejected)
		return Result{}, ErrInvalidPayload
	}
	prediction.ID = strings.TrimSpace(prediction.ID)
	prediction.Status = strings.ToLower(strings.TrimSpace(prediction.Status))
	if prediction.ID == "" || prediction.Status == "" {
		s.metrics.RecordWebhookEvent(ctx, provider, "", obsmetrics.OutcomeRejected)
		return Result{}, ErrInvalidPayload
	}
	result := Result{PredictionID: prediction.ID, Status: prediction.Status}

	firstSeen, err := s.guard.Claim(ctx, idempotency.EventKey(provider, prediction.ID, prediction.Status))
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, prediction.Status, obsmetrics.OutcomeError)
		return result, err
	}
	if !firstSeen {
		result.Duplicate = true
		s.metrics.RecordWebhookEvent(ctx, provider, prediction.Status, obsmetrics.OutcomeDuplicate)
		return result, nil
	}

	switch prediction.Status {
	case StatusSucceeded:
		if err := s.cacheOutput(ctx, prediction, &result); err != nil {
			s.metrics.RecordWebhookEvent(ctx, provider, prediction.Status, obsmetrics.OutcomeError)
			return result, err
		}
	case StatusFailed, StatusCanceled:
		s.log.Warn("prediction did not succeed",
			zap.String("prediction_id", prediction.ID),
			zap.String("status", prediction.Status),
			zap.ByteString("error", prediction.Error),
		)
	default:
		s.log.Debug("prediction status ignored",
			zap.String("prediction_id", prediction.ID),
			zap.String("status", prediction.Status),
		)
	}

	s.metrics.RecordWebhookEvent(ctx, provider, prediction.Status, obsmetrics.OutcomeProcessed)
	return result, nil
}

func (s *Service) cacheOutput(ctx context.Context, prediction Prediction, result *Result) error {
	if len(prediction.Input) == 0 || isNull(prediction.Output) {
		s.log.Warn("succeeded prediction without input or output",
			zap.String("prediction_id", prediction.ID),
		)
		return nil
	}

	hash, err := contentcache.Hash(prediction.Input)
	if err != nil {
		return ErrInvalidPayload
	}
	cachedUntil, err := s.cache.Put(ctx, contentcache.ScopeThumbnails, hash, prediction.Output, s.cache.TTL(contentcache.ScopeThumbnails))
	if err != nil {
		return err
	}

	result.Cached = true
	result.Hash = hash
	result.CachedUntil = cachedUntil
	s.log.Info("prediction output cached",
		zap.String("prediction_id", prediction.ID),
		zap.String("hash", hash),
		zap.Time("cached_until", cachedUntil),
	)
	return nil
}

// Lookup returns a cached output for input, if a prediction with the same
// canonical input has succeeded and the entry is still fresh.
func (s *Service) Lookup(ctx context.Context, input json.RawMessage) (json.RawMessage, time.Time, bool, error) {
	if len(input) == 0 {
		return nil, time.Time{}, false, ErrInvalidPayload
	}
	hash, err := contentcache.Hash(input)
	if err != nil {
		return nil, time.Time{}, false, ErrInvalidPayload
	}
	var output json.RawMessage
	cachedUntil, ok, err := s.cache.GetInto(ctx, contentcache.ScopeThumbnails, hash, &output)
	if err != nil || !ok {
		return nil, time.Time{}, false, err
	}
	return output, cachedUntil, true, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
