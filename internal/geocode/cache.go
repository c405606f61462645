package geocode

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/domain"
)

// Cache is the slice of a key-value store the cached client needs. Get
// reports a missing key as a miss, not an error.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache adapts a redis client to the Cache interface.
type RedisCache struct{ Client *r.Client }

func (c RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.Client.Get(ctx, key).Result()
	if err == r.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

// CachedClient serves repeat addresses from the cache so re-enqueues
// and unchanged-address edits skip the provider. Only successful
// lookups are cached; failures always reach the inner client. Cache
// trouble degrades to a miss.
type CachedClient struct {
	inner Client
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewCached(inner Client, cache Cache, ttl time.Duration, log *zap.Logger) *CachedClient {
	return &CachedClient{inner: inner, cache: cache, ttl: ttl, log: log}
}

type cachedCoords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func cacheKey(address string) string {
	return "geocode:addr:" + strings.ToLower(Normalize(address))
}

func (c *CachedClient) Geocode(ctx context.Context, address string) (domain.Coordinates, error) {
	key := cacheKey(address)

	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Debug("geocode cache read failed", zap.Error(err))
	}
	if ok {
		var cc cachedCoords
		if jerr := json.Unmarshal([]byte(raw), &cc); jerr == nil {
			return domain.Coordinates{Lat: cc.Lat, Lng: cc.Lng}, nil
		}
	}

	coords, err := c.inner.Geocode(ctx, address)
	if err != nil {
		return coords, err
	}

	if buf, jerr := json.Marshal(cachedCoords{Lat: coords.Lat, Lng: coords.Lng}); jerr == nil {
		if serr := c.cache.Set(ctx, key, string(buf), c.ttl); serr != nil {
			c.log.Debug("geocode cache write failed", zap.Error(serr))
		}
	}
	return coords, nil
}
