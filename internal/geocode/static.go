package geocode

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/foodshare/geoqueue/internal/domain"
)

// StaticClient is an offline provider for development and tests. It
// derives stable pseudo-coordinates from the address text, so repeated
// lookups of the same address agree. Addresses containing "unknown"
// get no result, which makes failure paths reproducible.
type StaticClient struct{}

func (StaticClient) Geocode(_ context.Context, address string) (domain.Coordinates, error) {
	addr := strings.ToLower(Normalize(address))
	if addr == "" {
		return domain.Coordinates{}, ErrInvalidInput
	}
	if strings.Contains(addr, "unknown") {
		return domain.Coordinates{}, ErrNoResult
	}

	h := fnv.New64a()
	h.Write([]byte(addr))
	sum := h.Sum64()

	// keep clear of the poles and the antimeridian
	lat := float64(sum%170_000)/1000 - 85
	lng := float64((sum/170_000)%358_000)/1000 - 179
	if lat == 0 && lng == 0 {
		lat = 0.001
	}
	return domain.Coordinates{Lat: lat, Lng: lng}, nil
}
