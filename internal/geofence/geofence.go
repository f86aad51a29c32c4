// Package geofence decides whether a reported GPS fix falls inside a circular fence.
package geofence

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371 * 1000.0

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point lies inside the latitude/longitude domain.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) || math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Reason explains why a fix was rejected.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidCoordinates Reason = "invalid-coordinates"
	ReasonAccuracyTooLow     Reason = "accuracy-too-low"
	ReasonOutOfRange         Reason = "out-of-range"
)

// Result is the outcome of Validate. Distance is set whenever both points are valid.
type Result struct {
	Accepted bool
	Distance float64
	Radius   float64
	Reason   Reason
}

// Distance returns the great-circle distance in meters between two points,
// rounded to two decimal places.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := math.Abs(toRadians(lat2 - lat1))
	dLambda := math.Abs(toRadians(lon2 - lon1))

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return math.Round(EarthRadiusMeters*c*100) / 100
}

// Between is Distance for two Points.
func Between(a, b Point) float64 {
	return Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Validate checks a fix against a fence centered on center. A reported accuracy
// larger than the radius cannot prove presence and is rejected. The boundary is
// inclusive: a fix exactly radiusMeters away is accepted.
func Validate(fix, center Point, radiusMeters float64, accuracy *float64) Result {
	res := Result{Radius: radiusMeters}
	if !fix.Valid() || !center.Valid() {
		res.Reason = ReasonInvalidCoordinates
		return res
	}

	res.Distance = Between(fix, center)

	if accuracy != nil && *accuracy > radiusMeters {
		res.Reason = ReasonAccuracyTooLow
		return res
	}
	if res.Distance > radiusMeters {
		res.Reason = ReasonOutOfRange
		return res
	}
	res.Accepted = true
	return res
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
