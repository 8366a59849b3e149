package core

import "math"

// EarthRadiusKm is the mean Earth radius used by every distance computation.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether the point lies within physical coordinate ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

// HaversineKm returns the great-circle distance between a and b in kilometers.
// It is the only distance routine in the module; route totals and proximity
// search both go through it.
func HaversineKm(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// RoundKm rounds a distance to 2 decimal places.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// TotalDistanceKm sums the rounded pairwise distances of consecutive points and
// rounds the total. Routes with fewer than two points have zero length.
func TotalDistanceKm(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += RoundKm(HaversineKm(points[i-1], points[i]))
	}
	return RoundKm(total)
}

// BoundingBox is a coarse lat/lon window used to prefilter proximity queries.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	// AllLongitudes is set when the box touches a pole or wraps the antimeridian.
	AllLongitudes bool
}

// BoundingBoxAround returns a box that contains every point within radiusKm of center.
func BoundingBoxAround(center Point, radiusKm float64) BoundingBox {
	dLat := toDegrees(radiusKm / EarthRadiusKm)
	box := BoundingBox{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.AllLongitudes = true
		box.MinLon, box.MaxLon = -180, 180
		return box
	}
	// Widest longitude span occurs at the latitude edge closest to a pole.
	maxAbsLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	dLon := toDegrees(radiusKm / (EarthRadiusKm * math.Cos(toRadians(maxAbsLat))))
	box.MinLon = center.Lon - dLon
	box.MaxLon = center.Lon + dLon
	if dLon >= 180 || box.MinLon < -180 || box.MaxLon > 180 {
		box.AllLongitudes = true
		box.MinLon, box.MaxLon = -180, 180
	}
	return box
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
