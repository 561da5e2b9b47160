package domain

import (
	"math"
	"strconv"
)

// earthRadiusMeters is the IUGG mean earth radius.
const earthRadiusMeters = 6_371_008.8

// GeoPoint is a WGS 84 fix. Points are compared with Distance, never with ==.
type GeoPoint struct {
	Latitude  float64 `json:"lat" yaml:"latitude"`
	Longitude float64 `json:"lng" yaml:"longitude"`
}

// String renders the point as "lat/lng: (LAT,LNG)", the form the upload
// service stores in its location field.
func (p GeoPoint) String() string {
	return "lat/lng: (" +
		strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(p.Longitude, 'f', -1, 64) + ")"
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
