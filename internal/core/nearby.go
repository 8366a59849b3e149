package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	minNearbyRadiusKm = 0.1
	maxNearbyRadiusKm = 50.0
)

// NearbyRequest describes a proximity search around a coordinate.
type NearbyRequest struct {
	Latitude     float64
	Longitude    float64
	RadiusKm     float64
	AssignmentID string
	Range        TimeRange
}

// NearbyResult is a sample with its distance from the search center.
type NearbyResult struct {
	Sample     *LocationSample
	DistanceKm float64
}

// FindNearby returns samples within RadiusKm of the center, nearest first.
// The store prefilters by bounding box; the exact cut uses HaversineKm.
func (a *Analytics) FindNearby(ctx context.Context, req NearbyRequest, page Page) ([]NearbyResult, PageInfo, error) {
	page = page.Normalize(DefaultLocationPageSize, maxLocationPageSize)
	center := Point{Lat: req.Latitude, Lon: req.Longitude}
	if !center.Valid() {
		return nil, PageInfo{}, Validationf("latitude must be between -90 and 90 and longitude between -180 and 180")
	}
	if !(req.RadiusKm > minNearbyRadiusKm && req.RadiusKm <= maxNearbyRadiusKm) {
		return nil, PageInfo{}, Validationf("radius_km must be greater than %.1f and at most %.0f", minNearbyRadiusKm, maxNearbyRadiusKm)
	}
	if err := validateRange(req.Range); err != nil {
		return nil, PageInfo{}, err
	}

	candidates, err := a.store.LocationsInBox(ctx, BoxQuery{
		Box:          BoundingBoxAround(center, req.RadiusKm),
		AssignmentID: strings.TrimSpace(req.AssignmentID),
		Range:        req.Range,
	})
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("locations in box: %w", err)
	}

	type scored struct {
		sample *LocationSample
		km     float64
	}
	matches := make([]scored, 0, len(candidates))
	for _, s := range candidates {
		km := HaversineKm(center, s.Point())
		if km <= req.RadiusKm {
			matches = append(matches, scored{sample: s, km: km})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].km != matches[j].km {
			return matches[i].km < matches[j].km
		}
		return matches[i].sample.RecordedAt.After(matches[j].sample.RecordedAt)
	})

	window := paginate(matches, page)
	out := make([]NearbyResult, len(window))
	for i, m := range window {
		out[i] = NearbyResult{Sample: m.sample, DistanceKm: RoundKm(m.km)}
	}
	return out, newPageInfo(page, len(matches)), nil
}
