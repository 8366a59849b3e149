package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	a := Point{Lat: 40.7128, Lon: -74.0060}
	b := Point{Lat: 34.0522, Lon: -118.2437}

	assert.Zero(t, HaversineKm(a, a))
	assert.InDelta(t, HaversineKm(a, b), HaversineKm(b, a), 1e-9)
	assert.InDelta(t, 3935.7, HaversineKm(a, b), 1.0)

	// One degree of latitude on the mean sphere.
	assert.InDelta(t, 111.19, HaversineKm(Point{0, 0}, Point{1, 0}), 0.01)
}

func TestTotalDistanceKm(t *testing.T) {
	assert.Zero(t, TotalDistanceKm(nil))
	assert.Zero(t, TotalDistanceKm([]Point{{Lat: 1, Lon: 1}}))

	route := []Point{{0, 0}, {1, 0}, {1, 0}, {2, 0}}
	assert.InDelta(t, 222.38, TotalDistanceKm(route), 0.001)
	assert.Equal(t, RoundKm(TotalDistanceKm(route)), TotalDistanceKm(route))
}

func TestRoundKm(t *testing.T) {
	assert.Equal(t, 1.23, RoundKm(1.234))
	assert.Equal(t, 1.24, RoundKm(1.235001))
	assert.Equal(t, 0.0, RoundKm(0.004))
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	center := Point{Lat: 48.8566, Lon: 2.3522}
	box := BoundingBoxAround(center, 10)
	assert.False(t, box.AllLongitudes)

	north := Point{Lat: center.Lat + 0.089, Lon: center.Lon}
	east := Point{Lat: center.Lat, Lon: center.Lon + 0.135}
	for _, p := range []Point{north, east} {
		assert.LessOrEqual(t, HaversineKm(center, p), 10.0)
		assert.True(t, p.Lat >= box.MinLat && p.Lat <= box.MaxLat)
		assert.True(t, p.Lon >= box.MinLon && p.Lon <= box.MaxLon)
	}
}

func TestBoundingBoxEdges(t *testing.T) {
	assert.True(t, BoundingBoxAround(Point{Lat: 89.99, Lon: 0}, 5).AllLongitudes)
	assert.True(t, BoundingBoxAround(Point{Lat: 0, Lon: 179.99}, 5).AllLongitudes)
	assert.False(t, BoundingBoxAround(Point{Lat: 0, Lon: 0}, 5).AllLongitudes)
}
