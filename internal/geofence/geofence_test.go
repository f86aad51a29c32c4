package geofence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var campus = Point{Latitude: 10.762622, Longitude: 106.660172}

func TestDistanceZeroForSamePoint(t *testing.T) {
	points := []Point{
		campus,
		{Latitude: 0, Longitude: 0},
		{Latitude: -89.9, Longitude: 179.9},
		{Latitude: 51.5007, Longitude: -0.1246},
	}
	for _, p := range points {
		assert.Equal(t, 0.0, Between(p, p), "point %+v", p)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]Point{
		{campus, {Latitude: 10.823099, Longitude: 106.629664}},
		{{Latitude: 48.8584, Longitude: 2.2945}, {Latitude: 40.6892, Longitude: -74.0445}},
		{{Latitude: -33.8568, Longitude: 151.2153}, {Latitude: 35.6586, Longitude: 139.7454}},
	}
	for _, p := range pairs {
		assert.Equal(t, Between(p[0], p[1]), Between(p[1], p[0]))
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude on a 6371 km sphere.
	d := Distance(0, 0, 1, 0)
	assert.InDelta(t, 111194.93, d, 0.01)
	assert.Equal(t, d, math.Round(d*100)/100, "rounded to 2 decimals")
}

func TestValidateBoundaryInclusive(t *testing.T) {
	fix := Point{Latitude: campus.Latitude + 0.0005, Longitude: campus.Longitude}
	d := Between(fix, campus)
	require.Greater(t, d, 0.0)

	res := Validate(fix, campus, d, nil)
	assert.True(t, res.Accepted)
	assert.Equal(t, d, res.Distance)

	res = Validate(fix, campus, d-0.01, nil)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonOutOfRange, res.Reason)
	assert.Equal(t, d, res.Distance)
}

func TestValidate(t *testing.T) {
	near := Point{Latitude: campus.Latitude + 0.0002, Longitude: campus.Longitude}
	far := Point{Latitude: campus.Latitude + 0.01, Longitude: campus.Longitude}
	good, poor := 12.0, 150.0

	tests := []struct {
		name     string
		fix      Point
		center   Point
		radius   float64
		accuracy *float64
		accepted bool
		reason   Reason
	}{
		{name: "inside", fix: near, center: campus, radius: 100, accepted: true},
		{name: "inside with accuracy", fix: near, center: campus, radius: 100, accuracy: &good, accepted: true},
		{name: "outside", fix: far, center: campus, radius: 100, reason: ReasonOutOfRange},
		{name: "accuracy exceeds radius", fix: near, center: campus, radius: 100, accuracy: &poor, reason: ReasonAccuracyTooLow},
		{name: "latitude out of domain", fix: Point{Latitude: 91, Longitude: 0}, center: campus, radius: 100, reason: ReasonInvalidCoordinates},
		{name: "longitude out of domain", fix: near, center: Point{Latitude: 0, Longitude: -181}, radius: 100, reason: ReasonInvalidCoordinates},
		{name: "nan", fix: Point{Latitude: math.NaN(), Longitude: 0}, center: campus, radius: 100, reason: ReasonInvalidCoordinates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.fix, tt.center, tt.radius, tt.accuracy)
			assert.Equal(t, tt.accepted, res.Accepted)
			assert.Equal(t, tt.reason, res.Reason)
			if tt.reason != ReasonInvalidCoordinates {
				assert.Equal(t, Between(tt.fix, tt.center), res.Distance, "distance reported for auditing")
			}
		})
	}
}
