package authz

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/platinummonkey/spoke-ghauth/pkg/github"
	"github.com/platinummonkey/spoke-ghauth/pkg/membership"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
)

// fakeFetcher returns canned organizations per token and counts calls
type fakeFetcher struct {
	mu    sync.Mutex
	orgs  map[string][]string
	err   error
	calls int32
	gate  chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{orgs: make(map[string][]string)}
}

func (f *fakeFetcher) set(token string, orgs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgs[token] = orgs
}

func (f *fakeFetcher) FetchOrganizations(ctx context.Context, token string) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.orgs[token]...), nil
}

func (f *fakeFetcher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

// failingCache fails every operation
type failingCache struct{}

func (failingCache) Get(context.Context, string) (*membership.Record, error) {
	return nil, errors.New("connection refused")
}
func (failingCache) Put(context.Context, *membership.Record) error { return errors.New("connection refused") }
func (failingCache) Evict(context.Context, string) error            { return errors.New("connection refused") }
func (failingCache) Name() string                                   { return "failing" }

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestEngine(fetcher OrganizationFetcher, cache membership.Cache) (*Engine, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(t0)
	return NewEngine("acme", fetcher, cache, WithClock(clock)), clock
}

func TestAuthenticate_MemberGranted(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme", "team-a")
	cache := membership.NewMemoryCache(100, CacheTTL)
	engine, _ := newTestEngine(fetcher, cache)

	groups, err := engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "team-a"}, groups)
	assert.Equal(t, 1, fetcher.callCount())

	record, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", record.Username)
	assert.Equal(t, membership.HashToken("T1"), record.TokenHash)
	assert.Equal(t, []string{"acme", "team-a"}, record.Organizations)
	assert.Equal(t, t0.Add(30*time.Second), record.ExpiresAt)
}

func TestAuthenticate_NonMemberDenied(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.set("T1", "other")
	cache := membership.NewMemoryCache(100, CacheTTL)
	engine, _ := newTestEngine(fetcher, cache)

	groups, err := engine.Authenticate(ctx, "alice", "T1")
	require.Error(t, err)
	assert.Nil(t, groups)

	var denied *AccessDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "alice", denied.Username)
	assert.Equal(t, "acme", denied.Organization)
	assert.Equal(t, `user "alice" is not a member of "acme"`, err.Error())
	assert.True(t, IsAccessDenied(err))

	_, err = cache.Get(ctx, "alice")
	assert.ErrorIs(t, err, membership.ErrCacheMiss, "a denial must not create a record")
}

func TestAuthenticate_CacheReuseAndExpiry(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	fetcher.set("T2", "acme")
	cache := membership.NewMemoryCache(100, 0)
	engine, clock := newTestEngine(fetcher, cache)

	_, err := engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.callCount())

	clock.Advance(10 * time.Second)
	groups, err := engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, groups)
	assert.Equal(t, 1, fetcher.callCount(), "fresh record with same token is reused")

	_, err = engine.Authenticate(ctx, "alice", "T2")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.callCount(), "different token forces a refresh")

	record, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, membership.HashToken("T2"), record.TokenHash)
	assert.Equal(t, t0.Add(40*time.Second), record.ExpiresAt)

	// Exactly at ExpiresAt the record is stale
	clock.Advance(30 * time.Second)
	_, err = engine.Authenticate(ctx, "alice", "T2")
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.callCount())

	clock.Advance(29 * time.Second)
	_, err = engine.Authenticate(ctx, "alice", "T2")
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestAuthenticate_MembershipRevokedAfterExpiry(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	cache := membership.NewMemoryCache(100, 0)
	engine, clock := newTestEngine(fetcher, cache)

	_, err := engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err)

	fetcher.set("T1", "other")

	clock.Advance(29 * time.Second)
	_, err = engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err, "stale grant is still honoured inside the window")

	clock.Advance(time.Second)
	_, err = engine.Authenticate(ctx, "alice", "T1")
	assert.True(t, IsAccessDenied(err))
	assert.Equal(t, 2, fetcher.callCount())
}

func TestAuthenticate_UpstreamFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	cache := membership.NewMemoryCache(100, 0)
	engine, _ := newTestEngine(fetcher, cache)

	_, err := engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err)
	before, err := cache.Get(ctx, "alice")
	require.NoError(t, err)

	fetcher.err = &github.UpstreamAPIError{Op: github.OpFetchOrganizations, StatusCode: http.StatusUnauthorized, Message: "Bad credentials"}

	groups, err := engine.Authenticate(ctx, "alice", "T2")
	require.Error(t, err)
	assert.Nil(t, groups)
	assert.True(t, github.IsUpstreamError(err))
	assert.False(t, IsAccessDenied(err), "an upstream failure is not a membership denial")

	after, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAuthenticate_EmptyTokenDeniedWithoutUpstreamCall(t *testing.T) {
	fetcher := newFakeFetcher()
	engine, _ := newTestEngine(fetcher, membership.NewMemoryCache(100, 0))

	_, err := engine.Authenticate(context.Background(), "alice", "")
	assert.True(t, IsAccessDenied(err))
	assert.Zero(t, fetcher.callCount())
}

func TestAuthenticate_CacheErrorsFallBackToGitHub(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	engine, _ := newTestEngine(fetcher, failingCache{})

	groups, err := engine.Authenticate(context.Background(), "alice", "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, groups)

	_, err = engine.Authenticate(context.Background(), "alice", "T1")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestAuthenticate_ConcurrentRefreshesCollapse(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	fetcher.gate = make(chan struct{})
	engine, _ := newTestEngine(fetcher, membership.NewMemoryCache(100, 0))

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			groups, err := engine.Authenticate(context.Background(), "alice", "T1")
			if err == nil && len(groups) != 1 {
				err = errors.New("unexpected groups")
			}
			errs <- err
		}()
	}

	assert.Eventually(t, func() bool { return fetcher.callCount() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, fetcher.callCount())
}

func TestAuthenticate_CanceledCallerDoesNotFailSharedRefresh(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	fetcher.gate = make(chan struct{})
	engine, _ := newTestEngine(fetcher, membership.NewMemoryCache(100, 0))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := engine.Authenticate(firstCtx, "bob", "T1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	type result struct {
		groups []string
		err    error
	}
	second := make(chan result, 1)
	go func() {
		groups, err := engine.Authenticate(context.Background(), "bob", "T1")
		second <- result{groups, err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)

	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, []string{"acme"}, res.groups)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, 1, fetcher.callCount(), "the second caller reuses the refresh started by the first")
}

func TestAuthenticate_RecordsMetrics(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	fetcher.set("T2", "other")
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	clock := clockwork.NewFakeClockAt(t0)
	engine := NewEngine("acme", fetcher, membership.NewMemoryCache(100, 0), WithClock(clock), WithMetrics(metrics))

	_, _ = engine.Authenticate(context.Background(), "alice", "T1")
	_, _ = engine.Authenticate(context.Background(), "alice", "T1")
	_, _ = engine.Authenticate(context.Background(), "bob", "T2")

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AuthDecisionsTotal.WithLabelValues(opAuthenticate, outcomeGranted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthDecisionsTotal.WithLabelValues(opAuthenticate, outcomeDenied)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("memory", lookupHit)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("memory", lookupMiss)))
}

func TestAuthenticate_Tracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme")
	engine, _ := newTestEngine(fetcher, membership.NewMemoryCache(100, CacheTTL))

	_, err := engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err)
	_, err = engine.Authenticate(ctx, "alice", "T1")
	require.NoError(t, err)

	fetcher.err = errors.New("connection reset")
	_, err = engine.Authenticate(ctx, "bob", "T2")
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	attr := func(span tracetest.SpanStub, key string) string {
		for _, kv := range span.Attributes {
			if kv.Key == attribute.Key(key) {
				return kv.Value.Emit()
			}
		}
		return ""
	}

	assert.Equal(t, "Authenticate", spans[0].Name)
	assert.Equal(t, "miss", attr(spans[0], "cache.result"))
	assert.Equal(t, "granted", attr(spans[0], "outcome"))
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	assert.Equal(t, "hit", attr(spans[1], "cache.result"))

	assert.Equal(t, "bob", attr(spans[2], "username"))
	assert.Equal(t, codes.Error, spans[2].Status.Code)
}

func TestAllowAccess(t *testing.T) {
	engine, _ := newTestEngine(newFakeFetcher(), membership.NewMemoryCache(10, 0))

	tests := []struct {
		name    string
		groups  []string
		access  []string
		granted bool
	}{
		{"authenticated sentinel member", []string{"acme", "team-a"}, []string{"$authenticated"}, true},
		{"authenticated sentinel non-member", []string{"other"}, []string{"$authenticated"}, false},
		{"explicit organization", []string{"acme"}, []string{"acme"}, true},
		{"all entries required", []string{"acme"}, []string{"$authenticated", "team-a"}, false},
		{"all entries held", []string{"acme", "team-a"}, []string{"$authenticated", "team-a"}, true},
		{"duplicates collapse", []string{"acme"}, []string{"$authenticated", "acme", "$authenticated"}, true},
		{"empty access list", []string{}, []string{}, true},
		{"no groups", nil, []string{"acme"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := RemoteUser{Name: "alice", Groups: tt.groups}
			groups, err := engine.AllowAccess(user, PackageAccess{Name: "@acme/lib", Access: tt.access})

			if tt.granted {
				require.NoError(t, err)
				assert.Equal(t, tt.groups, groups)
				return
			}

			var denied *AccessDeniedError
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, "alice", denied.Username)
			assert.Equal(t, "acme", denied.Organization)
			assert.Nil(t, groups)
		})
	}
}

func TestAuthenticateThenAllowAccess(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("T1", "acme", "team-a")
	engine, _ := newTestEngine(fetcher, membership.NewMemoryCache(10, 0))

	groups, err := engine.Authenticate(context.Background(), "alice", "T1")
	require.NoError(t, err)

	allowed, err := engine.AllowAccess(RemoteUser{Name: "alice", Groups: groups}, PackageAccess{Access: []string{"$authenticated"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "team-a"}, allowed)
}

func TestAddUserAndChangePasswordAreNoOps(t *testing.T) {
	fetcher := newFakeFetcher()
	engine, _ := newTestEngine(fetcher, membership.NewMemoryCache(10, 0))

	assert.NoError(t, engine.AddUser(context.Background(), "alice", "secret"))
	assert.NoError(t, engine.ChangePassword(context.Background(), "alice", "old", "new"))
	assert.Zero(t, fetcher.callCount())
	assert.Equal(t, "acme", engine.Organization())
}
