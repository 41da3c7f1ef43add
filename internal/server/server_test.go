package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creatorquota/internal/auth"
	"github.com/smallbiznis/creatorquota/internal/billing"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/smallbiznis/creatorquota/internal/contentcache"
	entitlementdomain "github.com/smallbiznis/creatorquota/internal/entitlement/domain"
	entitlementrepository "github.com/smallbiznis/creatorquota/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/creatorquota/internal/entitlement/service"
	"github.com/smallbiznis/creatorquota/internal/idempotency"
	"github.com/smallbiznis/creatorquota/internal/ideas"
	"github.com/smallbiznis/creatorquota/internal/observability"
	"github.com/smallbiznis/creatorquota/internal/prediction"
	"github.com/smallbiznis/creatorquota/internal/ratelimit"
	"github.com/smallbiznis/creatorquota/internal/resetpolicy"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
	usagerepository "github.com/smallbiznis/creatorquota/internal/usage/repository"
	usageservice "github.com/smallbiznis/creatorquota/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testJWTSecret    = "jwt-test-secret"
	testStripeSecret = "whsec_stripe"
)

var (
	testReplicateKey = []byte("replicate-signing-key")
	testNow          = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
)

type stubGenerator struct {
	calls int
}

func (g *stubGenerator) Generate(_ context.Context, req ideas.Request) ([]ideas.Idea, error) {
	g.calls++
	out := make([]ideas.Idea, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		out = append(out, ideas.Idea{Title: fmt.Sprintf("%s idea %d", req.Niche, i+1)})
	}
	return out, nil
}

type testEnv struct {
	engine    *gin.Engine
	clock     *clock.FakeClock
	verifier  *auth.Verifier
	generator *stubGenerator
}

type envOption func(*config.Config, *ratelimit.Limiter, clock.Clock)

func withEnvironment(env string) envOption {
	return func(cfg *config.Config, _ *ratelimit.Limiter, _ clock.Clock) {
		cfg.Environment = env
	}
}

func withIPLimit(rate float64, burst int) envOption {
	return func(_ *config.Config, limiter *ratelimit.Limiter, clk clock.Clock) {
		*limiter = ratelimit.NewMemoryLimiter(rate, burst, clk)
	}
}

func newTestEnv(t *testing.T, opts ...envOption) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&usagedomain.UsageRecord{},
		&entitlementdomain.Subscription{},
		&idempotency.ProcessedEvent{},
	))

	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()
	cfg := config.Config{
		Environment:            "development",
		AuthJWTSecret:          testJWTSecret,
		StripeWebhookSecret:    testStripeSecret,
		StripeProPriceIDs:      []string{"price_pro_monthly"},
		ReplicateWebhookSecret: "whsec_" + base64.StdEncoding.EncodeToString(testReplicateKey),
		Cache: config.CacheConfig{
			IdeasTTL:      7 * 24 * time.Hour,
			ThumbnailsTTL: 30 * 24 * time.Hour,
		},
	}
	var limiter ratelimit.Limiter
	for _, opt := range opts {
		opt(&cfg, &limiter, clk)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	policy := resetpolicy.New("America/Chicago", -6)

	entitlements := entitlementservice.NewService(entitlementservice.ServiceParam{
		DB:    db,
		Log:   log,
		Clock: clk,
		Plans: config.NewStaticPlanConfigHolder(config.DefaultPlanConfig()),
		Repo:  entitlementrepository.Provide(),
	})
	usage := usageservice.NewService(usageservice.ServiceParam{
		Log:          log,
		Config:       cfg,
		Store:        usagerepository.NewGormStore(db, node, policy, clk),
		Entitlements: entitlements,
		Policy:       policy,
		Clock:        clk,
	})
	cache := contentcache.NewService(contentcache.ServiceParam{
		Store:  contentcache.NewMemoryStore(clk, 100),
		Config: cfg,
		Clock:  clk,
		Log:    log,
	})
	guard := idempotency.NewGuard(idempotency.GuardParam{DB: db, Log: log, Clock: clk})
	generator := &stubGenerator{}
	verifier := auth.NewVerifier(testJWTSecret, clk)

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		Log:          log,
		Verifier:     verifier,
		Limiter:      limiter,
		Usage:        usage,
		Entitlements: entitlements,
		Ideas: ideas.NewService(ideas.ServiceParam{
			Log:       log,
			Usage:     usage,
			Cache:     cache,
			Generator: generator,
		}),
		Stripe: billing.NewService(billing.Params{
			Config:       cfg,
			Log:          log,
			Clock:        clk,
			Guard:        guard,
			Entitlements: entitlements,
		}),
		Replicate: prediction.NewService(prediction.Params{
			Config: cfg,
			Log:    log,
			Clock:  clk,
			Guard:  guard,
			Cache:  cache,
		}),
	})

	return testEnv{engine: engine, clock: clk, verifier: verifier, generator: generator}
}

func (e testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (e testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e testEnv) stripe(t *testing.T, payload string, secret string) *httptest.ResponseRecorder {
	t.Helper()
	ts := strconv.FormatInt(e.clock.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(ts + "." + payload))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set(billing.SignatureHeader, fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e testEnv) replicate(t *testing.T, msgID, payload string) *httptest.ResponseRecorder {
	t.Helper()
	ts := strconv.FormatInt(e.clock.Now().Unix(), 10)
	mac := hmac.New(sha256.New, testReplicateKey)
	_, _ = mac.Write([]byte(msgID + "." + ts + "." + payload))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/replicate", strings.NewReader(payload))
	req.Header.Set(prediction.HeaderID, msgID)
	req.Header.Set(prediction.HeaderTimestamp, ts)
	req.Header.Set(prediction.HeaderSignature, "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp struct {
		Error struct {
			Type    string            `json:"type"`
			Message string            `json:"message"`
			Errors  []ValidationError `json:"errors"`
			Details json.RawMessage   `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return errorPayload{
		Type:    resp.Error.Type,
		Message: resp.Error.Message,
		Errors:  resp.Error.Errors,
		Details: resp.Error.Details,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAuthenticatedRoutesRejectMissingOrBadToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/usage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Type)

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckUsageUntilQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 3; i++ {
		w := env.do(t, http.MethodPost, "/api/usage/channel_sync/check", "user-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result usagedomain.CheckResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(i), result.Used)
		assert.Equal(t, int64(3), result.Limit)
	}

	w := env.do(t, http.MethodPost, "/api/usage/channel_sync/check", "user-1", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "quota_exceeded", payload.Type)
	assert.JSONEq(t, `{"feature":"channel_sync","used":3,"limit":3,"remaining":0,"reset_at":"2026-03-11T05:00:00Z"}`,
		string(payload.Details.(json.RawMessage)))
}

func TestCheckUsageAmount(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/usage/tag_generate/check", "user-1", map[string]any{"amount": 5})
	require.Equal(t, http.StatusOK, w.Code)
	var result usagedomain.CheckResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, int64(5), result.Used)
	assert.Equal(t, int64(15), result.Remaining)

	w = env.do(t, http.MethodPost, "/api/usage/tag_generate/check", "user-1", map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_amount", payload.Errors[0].Code)
	assert.Equal(t, "amount", payload.Errors[0].Field)

	w = env.do(t, http.MethodPost, "/api/usage/tag_generate/check", "user-1", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckUsageLockedAndUnknownFeatures(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/usage/competitor_search/check", "user-1", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "feature_locked", payload.Type)
	assert.JSONEq(t, `{"feature":"competitor_search","plan":"FREE"}`, string(payload.Details.(json.RawMessage)))

	w = env.do(t, http.MethodPost, "/api/usage/does_not_exist/check", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageSummaryAndEntitlement(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/usage/title_generate/check", "user-1", nil)

	w := env.do(t, http.MethodGet, "/api/usage", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary usagedomain.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "FREE", summary.Plan)
	assert.Equal(t, "2026-03-10", summary.DateKey)
	found := false
	for _, feature := range summary.Features {
		if feature.FeatureKey == "title_generate" {
			found = true
			assert.Equal(t, int64(1), feature.Used)
			assert.Equal(t, int64(9), feature.Remaining)
		}
	}
	assert.True(t, found)

	w = env.do(t, http.MethodGet, "/api/entitlement", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot entitlementdomain.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, entitlementdomain.PlanFree, snapshot.Plan)
}

func TestStripeCheckoutUpgradesPlan(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","mode":"subscription","client_reference_id":"user-1",
		"customer":"cus_1","subscription":"sub_1","metadata":{}}}}`

	w := env.stripe(t, payload, testStripeSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok","duplicate":false}`, w.Body.String())

	w = env.stripe(t, payload, testStripeSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","duplicate":true}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/entitlement", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot entitlementdomain.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, entitlementdomain.PlanPro, snapshot.Plan)
	assert.True(t, snapshot.IsActive)

	w = env.do(t, http.MethodPost, "/api/usage/competitor_search/check", "user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"client_reference_id":"user-1"}}}`

	w := env.stripe(t, payload, "whsec_other")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", decodeError(t, w).Type)

	// The rejected delivery was not claimed.
	w = env.stripe(t, payload, testStripeSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","duplicate":false}`, w.Body.String())
}

func TestReplicateWebhookFeedsThumbnailLookup(t *testing.T) {
	env := newTestEnv(t)
	input := map[string]any{"prompt": "neon gaming setup", "aspect_ratio": "16:9"}

	w := env.do(t, http.MethodPost, "/api/thumbnails/lookup", "user-1", map[string]any{"input": input})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"found":false}`, w.Body.String())

	body := `{"id":"pred_1","status":"succeeded","input":{"aspect_ratio":"16:9","prompt":"neon gaming setup"},
		"output":["https://cdn.example.com/thumb.png"]}`
	w = env.replicate(t, "msg_1", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok","duplicate":false}`, w.Body.String())

	w = env.replicate(t, "msg_1", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","duplicate":true}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/thumbnails/lookup", "user-1", map[string]any{"input": input})
	require.Equal(t, http.StatusOK, w.Code)
	var resp thumbnailLookupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.JSONEq(t, `["https://cdn.example.com/thumb.png"]`, string(resp.Output))
	require.NotNil(t, resp.CachedUntil)
	assert.True(t, resp.CachedUntil.Equal(testNow.Add(30*24*time.Hour)))
}

func TestGenerateIdeasChargesOnceForRepeatedContent(t *testing.T) {
	env := newTestEnv(t)
	req := map[string]any{"niche": "home espresso", "count": 3}

	w := env.do(t, http.MethodPost, "/api/ideas", "user-1", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first ideas.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.False(t, first.Cached)
	assert.Len(t, first.Ideas, 3)
	require.NotNil(t, first.Usage)
	assert.Equal(t, int64(1), first.Usage.Used)

	w = env.do(t, http.MethodPost, "/api/ideas", "user-2", req)
	require.Equal(t, http.StatusOK, w.Code)
	var second ideas.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, first.Ideas, second.Ideas)
	assert.Equal(t, 1, env.generator.calls)

	w = env.do(t, http.MethodPost, "/api/ideas", "user-1", map[string]any{"niche": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevResetRoute(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/usage/channel_sync/check", "user-1", nil)
	w := env.do(t, http.MethodPost, "/api/dev/usage/reset", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/usage/channel_sync/check", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result usagedomain.CheckResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.Used)
}

func TestDevResetRouteAbsentInProduction(t *testing.T) {
	env := newTestEnv(t, withEnvironment("production"))

	w := env.do(t, http.MethodPost, "/api/dev/usage/reset", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIPRateLimit(t *testing.T) {
	env := newTestEnv(t, withIPLimit(1, 2))

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodGet, "/api/usage", "user-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/usage", "user-1", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decodeError(t, w).Type)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, rateLimitReasonIPRate, w.Header().Get("X-Rate-Limited-Reason"))

	env.clock.Advance(2 * time.Second)
	w = env.do(t, http.MethodGet, "/api/usage", "user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMapErrorStorageFailureIsInternal(t *testing.T) {
	status, payload := mapError(fmt.Errorf("query usage: %w", gorm.ErrInvalidDB))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)

	errType, code := classifyErrorForLog(usagedomain.ErrInvalidFeature)
	assert.Equal(t, "client", errType)
	assert.Equal(t, "invalid_feature", code)
}
