// Package geocode resolves free-text addresses to coordinates through
// pluggable provider clients.
package geocode

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/foodshare/geoqueue/internal/domain"
)

// Client turns an address into coordinates. Implementations make at
// most one outbound call per invocation and never retry internally;
// pacing and retries belong to the caller.
type Client interface {
	Geocode(ctx context.Context, address string) (domain.Coordinates, error)
}

var (
	// ErrNoResult means the provider answered but had nothing usable.
	ErrNoResult = errors.New("geocode: no result")
	// ErrRateLimited means the provider throttled the request.
	ErrRateLimited = errors.New("geocode: rate limited")
	// ErrUnavailable covers transport errors, timeouts, 5xx responses
	// and an open circuit breaker.
	ErrUnavailable = errors.New("geocode: service unavailable")
	// ErrInvalidInput means the address is unusable; rejected before
	// any outbound call.
	ErrInvalidInput = errors.New("geocode: invalid input")
)

// Retryable reports whether a later attempt could succeed.
func Retryable(err error) bool {
	return !errors.Is(err, ErrInvalidInput)
}

// Normalize collapses runs of whitespace so trivially different
// spellings of the same address compare and cache equal.
func Normalize(address string) string {
	return strings.Join(strings.Fields(address), " ")
}
