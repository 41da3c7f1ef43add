package ideas

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/smallbiznis/creatorquota/internal/contentcache"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type usageMock struct {
	mock.Mock
}

func (m *usageMock) Check(ctx context.Context, userID, featureKey string, amount int64) (usagedomain.CheckResult, error) {
	args := m.Called(ctx, userID, featureKey, amount)
	return args.Get(0).(usagedomain.CheckResult), args.Error(1)
}

func (m *usageMock) Summary(ctx context.Context, userID string) (usagedomain.Summary, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(usagedomain.Summary), args.Error(1)
}

func (m *usageMock) Reset(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type fakeGenerator struct {
	calls int
	ideas []Idea
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, req Request) ([]Idea, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.ideas, nil
}

var start = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func newService(usage usagedomain.Service, gen Generator, clk clock.Clock) *Service {
	cache := contentcache.NewService(contentcache.ServiceParam{
		Store:  contentcache.NewMemoryStore(clk, 100),
		Config: config.Config{Cache: config.CacheConfig{IdeasTTL: 7 * 24 * time.Hour}},
		Clock:  clk,
		Log:    zap.NewNop(),
	})
	svc := NewService(ServiceParam{
		Log:   zap.NewNop(),
		Usage: usage,
		Cache: cache,
	})
	if gen != nil {
		svc.generator = gen
	}
	return svc
}

func TestGenerateChargesOnMissAndServesRepeatsFromCache(t *testing.T) {
	clk := clock.NewFakeClock(start)
	usage := &usageMock{}
	usage.On("Check", mock.Anything, "user-1", FeatureKey, int64(1)).
		Return(usagedomain.CheckResult{Allowed: true, Used: 1, Limit: 10, Remaining: 9}, nil).Once()
	gen := &fakeGenerator{ideas: []Idea{{Title: "I tried every budget mic"}}}
	svc := newService(usage, gen, clk)
	ctx := context.Background()

	first, err := svc.Generate(ctx, "user-1", Request{Niche: "audio gear", RecentTitles: []string{"Mic review"}})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	require.NotNil(t, first.Usage)
	assert.Equal(t, int64(9), first.Usage.Remaining)
	assert.Equal(t, start.Add(7*24*time.Hour), first.CachedUntil)

	second, err := svc.Generate(ctx, "user-2", Request{Niche: " audio gear ", RecentTitles: []string{"Mic review", " "}, Count: DefaultCount})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Nil(t, second.Usage)
	assert.Equal(t, first.Ideas, second.Ideas)
	assert.Equal(t, first.CachedUntil, second.CachedUntil)

	assert.Equal(t, 1, gen.calls)
	usage.AssertExpectations(t)
}

func TestGenerateAfterExpiryChargesAgain(t *testing.T) {
	clk := clock.NewFakeClock(start)
	usage := &usageMock{}
	usage.On("Check", mock.Anything, "user-1", FeatureKey, int64(1)).
		Return(usagedomain.CheckResult{Allowed: true}, nil).Twice()
	gen := &fakeGenerator{ideas: []Idea{{Title: "a"}}}
	svc := newService(usage, gen, clk)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1", Request{Niche: "cooking"})
	require.NoError(t, err)

	clk.Advance(7*24*time.Hour + time.Second)
	again, err := svc.Generate(ctx, "user-1", Request{Niche: "cooking"})
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Equal(t, 2, gen.calls)
	usage.AssertExpectations(t)
}

func TestGenerateQuotaExceededSkipsGenerator(t *testing.T) {
	clk := clock.NewFakeClock(start)
	denied := &usagedomain.QuotaExceededError{FeatureKey: FeatureKey, Used: 10, Limit: 10}
	usage := &usageMock{}
	usage.On("Check", mock.Anything, "user-1", FeatureKey, int64(1)).
		Return(usagedomain.CheckResult{Used: 10, Limit: 10}, denied)
	gen := &fakeGenerator{ideas: []Idea{{Title: "a"}}}
	svc := newService(usage, gen, clk)

	_, err := svc.Generate(context.Background(), "user-1", Request{Niche: "cooking"})
	var quotaErr *usagedomain.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 0, gen.calls)
}

func TestGenerateFailureIsNotCached(t *testing.T) {
	clk := clock.NewFakeClock(start)
	usage := &usageMock{}
	usage.On("Check", mock.Anything, "user-1", FeatureKey, int64(1)).
		Return(usagedomain.CheckResult{Allowed: true}, nil)
	boom := errors.New("upstream timeout")
	gen := &fakeGenerator{err: boom}
	svc := newService(usage, gen, clk)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1", Request{Niche: "cooking"})
	require.ErrorIs(t, err, boom)

	gen.err = nil
	gen.ideas = []Idea{{Title: "b"}}
	resp, err := svc.Generate(ctx, "user-1", Request{Niche: "cooking"})
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestGenerateValidation(t *testing.T) {
	clk := clock.NewFakeClock(start)
	usage := &usageMock{}
	svc := newService(usage, &fakeGenerator{}, clk)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "user-1", Request{Niche: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Generate(ctx, "user-1", Request{Niche: "x", Count: MaxCount + 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Generate(ctx, "user-1", Request{Niche: "x", Count: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	usage.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateWithoutGenerator(t *testing.T) {
	usage := &usageMock{}
	svc := newService(usage, nil, clock.NewFakeClock(start))

	_, err := svc.Generate(context.Background(), "user-1", Request{Niche: "x"})
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
	usage.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
