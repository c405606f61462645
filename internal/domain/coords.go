package domain

import "math"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point can be shown on a map: finite, in
// range, and not exactly 0,0. The origin is a real spot in the Gulf of
// Guinea, but listing writers use it as an unset sentinel, so it is
// rejected on purpose.
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return false
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return false
	}
	return c.Lat != 0 || c.Lng != 0
}
