package geocode

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/domain"
)

type fakeCache struct {
	entries map[string]string
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.entries[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	f.entries[key] = value
	f.ttls[key] = ttl
	return nil
}

type countingClient struct {
	calls  int
	coords domain.Coordinates
	err    error
}

func (c *countingClient) Geocode(context.Context, string) (domain.Coordinates, error) {
	c.calls++
	return c.coords, c.err
}

var cachedTestCoords = domain.Coordinates{Lat: 51.5237, Lng: -0.1585}

func TestCachedClientCachesSuccess(t *testing.T) {
	inner := &countingClient{coords: cachedTestCoords}
	cache := newFakeCache()
	c := NewCached(inner, cache, time.Hour, zap.NewNop())
	ctx := context.Background()

	got, err := c.Geocode(ctx, "221B Baker Street, London")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if got != cachedTestCoords {
		t.Errorf("coords = %+v, want %+v", got, cachedTestCoords)
	}
	if inner.calls != 1 || cache.sets != 1 {
		t.Fatalf("calls = %d, sets = %d, want 1 and 1", inner.calls, cache.sets)
	}
	if ttl := cache.ttls[cacheKey("221B Baker Street, London")]; ttl != time.Hour {
		t.Errorf("cached with ttl %v, want 1h", ttl)
	}

	// a differently spelled repeat is served from the cache
	got, err = c.Geocode(ctx, "  221b baker STREET,   london ")
	if err != nil {
		t.Fatalf("repeat Geocode: %v", err)
	}
	if got != cachedTestCoords {
		t.Errorf("repeat coords = %+v", got)
	}
	if inner.calls != 1 {
		t.Errorf("provider called %d times, repeat should hit the cache", inner.calls)
	}
}

func TestCachedClientFailureNotCached(t *testing.T) {
	inner := &countingClient{err: ErrNoResult}
	cache := newFakeCache()
	c := NewCached(inner, cache, time.Hour, zap.NewNop())
	ctx := context.Background()

	if _, err := c.Geocode(ctx, "nowhere"); !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
	if cache.sets != 0 {
		t.Errorf("failure was cached: %+v", cache.entries)
	}
	// the retry reaches the provider instead of a poisoned cache
	if _, err := c.Geocode(ctx, "nowhere"); !errors.Is(err, ErrNoResult) {
		t.Fatalf("second err = %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("provider called %d times, want 2", inner.calls)
	}
}

func TestCachedClientReadErrorDegradesToMiss(t *testing.T) {
	inner := &countingClient{coords: cachedTestCoords}
	cache := newFakeCache()
	cache.getErr = errors.New("connection refused")
	c := NewCached(inner, cache, time.Hour, zap.NewNop())

	got, err := c.Geocode(context.Background(), "somewhere")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if got != cachedTestCoords || inner.calls != 1 {
		t.Errorf("coords = %+v, calls = %d; want the provider result", got, inner.calls)
	}
}

func TestCachedClientWriteErrorStillReturns(t *testing.T) {
	inner := &countingClient{coords: cachedTestCoords}
	cache := newFakeCache()
	cache.setErr = errors.New("connection refused")
	c := NewCached(inner, cache, time.Hour, zap.NewNop())

	got, err := c.Geocode(context.Background(), "somewhere")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if got != cachedTestCoords {
		t.Errorf("coords = %+v, want %+v", got, cachedTestCoords)
	}
}

func TestCachedClientCorruptEntryFallsThrough(t *testing.T) {
	inner := &countingClient{coords: cachedTestCoords}
	cache := newFakeCache()
	cache.entries[cacheKey("somewhere")] = `{"lat": not json`
	c := NewCached(inner, cache, time.Hour, zap.NewNop())

	got, err := c.Geocode(context.Background(), "somewhere")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if got != cachedTestCoords || inner.calls != 1 {
		t.Errorf("coords = %+v, calls = %d; want the provider result", got, inner.calls)
	}
	if cache.entries[cacheKey("somewhere")] == `{"lat": not json` {
		t.Error("corrupt entry was not overwritten")
	}
}
