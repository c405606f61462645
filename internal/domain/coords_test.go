package domain

import (
	"math"
	"testing"
)

func TestCoordinatesValid(t *testing.T) {
	cases := []struct {
		name string
		c    Coordinates
		want bool
	}{
		{"london", Coordinates{Lat: 51.5237, Lng: -0.1585}, true},
		{"southern hemisphere", Coordinates{Lat: -33.8688, Lng: 151.2093}, true},
		{"lat upper bound", Coordinates{Lat: 90, Lng: 180}, true},
		{"lat lower bound", Coordinates{Lat: -90, Lng: -180}, true},
		{"zero lat only", Coordinates{Lat: 0, Lng: 5}, true},
		{"zero lng only", Coordinates{Lat: 5, Lng: 0}, true},
		{"origin sentinel", Coordinates{Lat: 0, Lng: 0}, false},
		{"lat too high", Coordinates{Lat: 90.0001, Lng: 0}, false},
		{"lat too low", Coordinates{Lat: -90.0001, Lng: 0}, false},
		{"lng too high", Coordinates{Lat: 0, Lng: 180.5}, false},
		{"lng too low", Coordinates{Lat: 0, Lng: -180.5}, false},
		{"nan lat", Coordinates{Lat: math.NaN(), Lng: 10}, false},
		{"inf lng", Coordinates{Lat: 10, Lng: math.Inf(1)}, false},
		{"negative inf lat", Coordinates{Lat: math.Inf(-1), Lng: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.Valid(); got != tc.want {
				t.Errorf("Valid(%+v) = %v, want %v", tc.c, got, tc.want)
			}
		})
	}
}
