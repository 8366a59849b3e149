package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fieldtrack/internal/core"
	"fieldtrack/internal/export"
)

type locationRequest struct {
	AssignmentID   string   `json:"assignment_id"`
	UserID         string   `json:"user_id"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Accuracy       *float64 `json:"accuracy"`
	Address        *string  `json:"address"`
	TrackingStatus string   `json:"tracking_status"`
	RecordedAt     *string  `json:"recorded_at"`
}

// batchLocationRequest keeps items raw so one malformed item cannot fail the batch.
type batchLocationRequest struct {
	Locations []json.RawMessage `json:"locations"`
}

type locationResponse struct {
	ID             string   `json:"id"`
	AssignmentID   string   `json:"assignment_id"`
	UserID         string   `json:"user_id"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Accuracy       *float64 `json:"accuracy"`
	Address        *string  `json:"address"`
	TrackingStatus string   `json:"tracking_status"`
	RecordedAt     string   `json:"recorded_at"`
	CreatedAt      string   `json:"created_at"`
}

type batchItemError struct {
	Index  int    `json:"index"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type batchResponse struct {
	Status       string             `json:"status"`
	CreatedCount int                `json:"created_count"`
	ErrorCount   int                `json:"error_count"`
	Errors       []batchItemError   `json:"errors"`
	Locations    []locationResponse `json:"locations"`
}

type currentLocationResponse struct {
	UserID   string            `json:"user_id"`
	Location *locationResponse `json:"location"`
}

type routeResponse struct {
	AssignmentID    string             `json:"assignment_id"`
	UserID          string             `json:"user_id"`
	TotalPoints     int                `json:"total_points"`
	TotalDistanceKm float64            `json:"total_distance_km"`
	StartTime       *string            `json:"start_time"`
	EndTime         *string            `json:"end_time"`
	Points          []locationResponse `json:"points"`
}

type nearbyResponse struct {
	locationResponse
	DistanceKm float64 `json:"distance_km"`
}

func (s *Server) handleRecordLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, s.logger, "record location", err)
		return
	}
	record, err := req.toRecord()
	if err != nil {
		writeDomainError(w, s.logger, "record location", err)
		return
	}
	sample, err := s.ingestor.Record(r.Context(), actorFromContext(r.Context()), record)
	if err != nil {
		writeDomainError(w, s.logger, "record location", err)
		return
	}
	writeJSON(w, http.StatusCreated, locationToResponse(sample))
}

// handleRecordBatch answers 201 when anything was stored and 422 when every item failed.
func (s *Server) handleRecordBatch(w http.ResponseWriter, r *http.Request) {
	var req batchLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, s.logger, "record location batch", err)
		return
	}
	if len(req.Locations) == 0 || len(req.Locations) > core.MaxBatchSize {
		writeError(w, http.StatusBadRequest, string(core.KindValidation),
			"locations must contain between 1 and "+strconv.Itoa(core.MaxBatchSize)+" items")
		return
	}

	// Items that cannot even be decoded fail individually like any other item.
	items := make([]core.RecordRequest, 0, len(req.Locations))
	positions := make([]int, 0, len(req.Locations))
	var decodeErrors []batchItemError
	for i, raw := range req.Locations {
		record, err := decodeBatchItem(raw)
		if err != nil {
			decodeErrors = append(decodeErrors, batchItemError{Index: i, Code: string(core.KindOf(err)), Reason: err.Error()})
			continue
		}
		items = append(items, record)
		positions = append(positions, i)
	}

	result := &core.BatchResult{}
	if len(items) > 0 {
		var err error
		result, err = s.ingestor.RecordBatch(r.Context(), actorFromContext(r.Context()), items)
		if err != nil {
			writeDomainError(w, s.logger, "record location batch", err)
			return
		}
	}

	resp := batchResponse{
		CreatedCount: result.CreatedCount,
		Errors:       mergeBatchErrors(decodeErrors, result.Errors, positions),
		Locations:    make([]locationResponse, 0, len(result.Samples)),
	}
	resp.ErrorCount = len(resp.Errors)
	for _, sample := range result.Samples {
		resp.Locations = append(resp.Locations, locationToResponse(sample))
	}
	outcome := core.BatchResult{CreatedCount: resp.CreatedCount, ErrorCount: resp.ErrorCount}
	resp.Status = string(outcome.Outcome())

	status := http.StatusCreated
	if !outcome.Succeeded() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// mergeBatchErrors maps ingestor indexes back to request positions and keeps input order.
func mergeBatchErrors(decodeErrors []batchItemError, itemErrors []core.BatchItemError, positions []int) []batchItemError {
	out := make([]batchItemError, 0, len(decodeErrors)+len(itemErrors))
	i, j := 0, 0
	for i < len(decodeErrors) || j < len(itemErrors) {
		if j >= len(itemErrors) || (i < len(decodeErrors) && decodeErrors[i].Index < positions[itemErrors[j].Index]) {
			out = append(out, decodeErrors[i])
			i++
			continue
		}
		e := itemErrors[j]
		out = append(out, batchItemError{Index: positions[e.Index], Code: e.Code, Reason: e.Reason})
		j++
	}
	return out
}

func (s *Server) handleAssignmentLocations(w http.ResponseWriter, r *http.Request) {
	rng, err := rangeFromQuery(r)
	if err != nil {
		writeDomainError(w, s.logger, "list locations", err)
		return
	}
	id := chi.URLParam(r, "assignmentID")
	samples, info, err := s.analytics.Locations(r.Context(), id, r.URL.Query().Get("user_id"), rng, pageFromQuery(r))
	if err != nil {
		writeDomainError(w, s.logger, "list locations", err)
		return
	}
	writeJSON(w, http.StatusOK, paged(locationsToResponse(samples), info))
}

func (s *Server) handleCurrentLocations(w http.ResponseWriter, r *http.Request) {
	current, err := s.analytics.CurrentLocations(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeDomainError(w, s.logger, "load current locations", err)
		return
	}
	resp := make([]currentLocationResponse, 0, len(current))
	for _, c := range current {
		item := currentLocationResponse{UserID: c.UserID}
		if c.Sample != nil {
			loc := locationToResponse(c.Sample)
			item.Location = &loc
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadRoute(r *http.Request) (*core.Route, error) {
	rng, err := rangeFromQuery(r)
	if err != nil {
		return nil, err
	}
	return s.analytics.Route(r.Context(), chi.URLParam(r, "assignmentID"), r.URL.Query().Get("user_id"), rng)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.loadRoute(r)
	if err != nil {
		writeDomainError(w, s.logger, "load route", err)
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{
		AssignmentID:    route.AssignmentID,
		UserID:          route.UserID,
		TotalPoints:     route.TotalPoints,
		TotalDistanceKm: route.TotalDistanceKm,
		StartTime:       formatOptionalTime(route.StartTime),
		EndTime:         formatOptionalTime(route.EndTime),
		Points:          locationsToResponse(route.Points),
	})
}

func (s *Server) handleRouteExport(w http.ResponseWriter, r *http.Request) {
	route, err := s.loadRoute(r)
	if err != nil {
		writeDomainError(w, s.logger, "export route", err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteRoute(&buf, route, s.location); err != nil {
		writeDomainError(w, s.logger, "export route", err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(route)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := parseOptionalFloat(q.Get("latitude"), "latitude")
	if err != nil {
		writeDomainError(w, s.logger, "search nearby", err)
		return
	}
	lon, err := parseOptionalFloat(q.Get("longitude"), "longitude")
	if err != nil {
		writeDomainError(w, s.logger, "search nearby", err)
		return
	}
	radius, err := parseOptionalFloat(q.Get("radius_km"), "radius_km")
	if err != nil {
		writeDomainError(w, s.logger, "search nearby", err)
		return
	}
	if lat == nil || lon == nil || radius == nil {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), "latitude, longitude and radius_km are required")
		return
	}
	rng, err := rangeFromQuery(r)
	if err != nil {
		writeDomainError(w, s.logger, "search nearby", err)
		return
	}

	results, info, err := s.analytics.FindNearby(r.Context(), core.NearbyRequest{
		Latitude:     *lat,
		Longitude:    *lon,
		RadiusKm:     *radius,
		AssignmentID: q.Get("assignment_id"),
		Range:        rng,
	}, pageFromQuery(r))
	if err != nil {
		writeDomainError(w, s.logger, "search nearby", err)
		return
	}
	resp := make([]nearbyResponse, 0, len(results))
	for _, res := range results {
		resp = append(resp, nearbyResponse{locationResponse: locationToResponse(res.Sample), DistanceKm: res.DistanceKm})
	}
	writeJSON(w, http.StatusOK, paged(resp, info))
}

func decodeBatchItem(raw json.RawMessage) (core.RecordRequest, error) {
	var item locationRequest
	if err := decodeStrict(bytes.NewReader(raw), &item); err != nil {
		return core.RecordRequest{}, err
	}
	return item.toRecord()
}

func (req locationRequest) toRecord() (core.RecordRequest, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return core.RecordRequest{}, core.Validationf("latitude and longitude are required")
	}
	recordedAt, err := parseOptionalTime(derefString(req.RecordedAt), "recorded_at")
	if err != nil {
		return core.RecordRequest{}, err
	}
	return core.RecordRequest{
		AssignmentID:   req.AssignmentID,
		UserID:         req.UserID,
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		Accuracy:       req.Accuracy,
		Address:        req.Address,
		TrackingStatus: core.TrackingStatus(req.TrackingStatus),
		RecordedAt:     recordedAt,
	}, nil
}

func locationToResponse(sample *core.LocationSample) locationResponse {
	return locationResponse{
		ID:             sample.ID,
		AssignmentID:   sample.AssignmentID,
		UserID:         sample.UserID,
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		Accuracy:       sample.Accuracy,
		Address:        sample.Address,
		TrackingStatus: string(sample.TrackingStatus),
		RecordedAt:     formatTime(sample.RecordedAt),
		CreatedAt:      formatTime(sample.CreatedAt),
	}
}

func locationsToResponse(samples []*core.LocationSample) []locationResponse {
	out := make([]locationResponse, 0, len(samples))
	for _, sample := range samples {
		out = append(out, locationToResponse(sample))
	}
	return out
}
