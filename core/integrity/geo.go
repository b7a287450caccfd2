package integrity

import "math"

// EarthRadius is the mean earth radius (meters) shared with the server-side geofence checks.
const EarthRadius = 6371000.0

// Distance returns the haversine great-circle distance in meters between two points given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := radians(lat1)
	φ2 := radians(lat2)
	Δφ := radians(lat2 - lat1)
	Δλ := radians(lon2 - lon1)

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadius * c
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// DistanceTo returns the distance in meters from the geofence center to the sample.
func (l AllowedLocation) DistanceTo(s LocationSample) float64 {
	return Distance(l.Latitude, l.Longitude, s.Latitude, s.Longitude)
}

// Contains reports whether a point d meters away from the center is compliant. The boundary is inside.
func (l AllowedLocation) Contains(d float64) bool {
	return d <= l.Radius
}
