package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/domain"
)

// nominatimResult is one entry of the provider's JSON array response.
type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// NominatimClient queries a Nominatim-compatible endpoint. One GET per
// Geocode call; a circuit breaker short-circuits calls while the
// provider is unhealthy so a dead upstream fails fast instead of
// eating the per-call timeout for every item in a batch.
type NominatimClient struct {
	base    string
	email   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewNominatim(baseURL, email string, timeout time.Duration, log *zap.Logger) *NominatimClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "geocoder",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("geocoder breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &NominatimClient{
		base:    strings.TrimRight(baseURL, "/"),
		email:   email,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
		log:     log,
	}
}

// lookupOutcome carries provider verdicts that should not count as
// breaker failures (no result, throttling) through Execute as values.
type lookupOutcome struct {
	coords domain.Coordinates
	err    error
}

func (c *NominatimClient) Geocode(ctx context.Context, address string) (domain.Coordinates, error) {
	addr := Normalize(address)
	if addr == "" {
		return domain.Coordinates{}, ErrInvalidInput
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		coords, lerr := c.lookup(ctx, addr)
		if lerr != nil && errors.Is(lerr, ErrUnavailable) {
			return nil, lerr
		}
		return lookupOutcome{coords: coords, err: lerr}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Coordinates{}, errors.WithMessage(ErrUnavailable, "circuit open")
		}
		return domain.Coordinates{}, err
	}

	out := v.(lookupOutcome)
	if out.err != nil {
		return domain.Coordinates{}, out.err
	}
	return out.coords, nil
}

func (c *NominatimClient) lookup(ctx context.Context, addr string) (domain.Coordinates, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("q", addr)
	q.Set("limit", "1")
	if c.email != "" {
		q.Set("email", c.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/search?"+q.Encode(), nil)
	if err != nil {
		return domain.Coordinates{}, errors.Wrap(err, "build geocode request")
	}
	req.Header.Set("User-Agent", "foodshare-geoqueue/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Coordinates{}, errors.WithMessage(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Coordinates{}, ErrRateLimited
	case resp.StatusCode >= 500:
		return domain.Coordinates{}, errors.WithMessagef(ErrUnavailable, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.Coordinates{}, errors.WithMessagef(ErrNoResult, "status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Coordinates{}, errors.WithMessage(ErrUnavailable, err.Error())
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return domain.Coordinates{}, errors.WithMessage(ErrNoResult, "malformed response")
	}
	if len(results) == 0 {
		return domain.Coordinates{}, ErrNoResult
	}

	lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(results[0].Lon, 64)
	if latErr != nil || lngErr != nil {
		return domain.Coordinates{}, errors.WithMessage(ErrNoResult, "unparsable coordinates")
	}
	return domain.Coordinates{Lat: lat, Lng: lng}, nil
}
