package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// MaxBatchSize is the largest number of samples accepted in one batch.
const MaxBatchSize = 100

// RecordRequest is a single location sample submitted by a device.
type RecordRequest struct {
	AssignmentID   string
	UserID         string
	Latitude       float64
	Longitude      float64
	Accuracy       *float64
	Address        *string
	TrackingStatus TrackingStatus
	RecordedAt     *time.Time
}

// BatchOutcome summarizes a batch for the caller.
type BatchOutcome string

const (
	BatchSuccess        BatchOutcome = "success"
	BatchPartialSuccess BatchOutcome = "partial_success"
	BatchFailure        BatchOutcome = "failure"
)

// BatchItemError reports why one batch item was not stored.
type BatchItemError struct {
	Index  int
	Code   string
	Reason string
}

// BatchResult is returned by RecordBatch. Failed items never roll back stored ones.
type BatchResult struct {
	CreatedCount int
	ErrorCount   int
	Errors       []BatchItemError
	Samples      []*LocationSample
}

// Outcome is partial success whenever at least one sample was stored.
func (r *BatchResult) Outcome() BatchOutcome {
	switch {
	case r.CreatedCount == 0:
		return BatchFailure
	case r.ErrorCount > 0:
		return BatchPartialSuccess
	default:
		return BatchSuccess
	}
}

// Succeeded reports whether the batch stored anything.
func (r *BatchResult) Succeeded() bool {
	return r.CreatedCount > 0
}

// Ingestor validates and persists location samples.
type Ingestor struct {
	store Store
	opts  options
}

// NewIngestor constructs the location ingestor.
func NewIngestor(store Store, opts ...Option) *Ingestor {
	return &Ingestor{store: store, opts: applyOptions(opts)}
}

// Record validates and stores one sample. Validation order: the assignment
// exists, the user is a member, the assignment is in progress, the
// coordinates are in range.
func (i *Ingestor) Record(ctx context.Context, actor Actor, req RecordRequest) (*LocationSample, error) {
	req.AssignmentID = strings.TrimSpace(req.AssignmentID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = actor.ID
	}
	if req.AssignmentID == "" {
		return nil, Validationf("assignment_id is required")
	}
	if req.UserID == "" {
		return nil, Validationf("user_id is required")
	}

	a, err := i.store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	guard := CanRecordLocation(RecordContext{
		AssignmentID: a.ID,
		UserID:       req.UserID,
		Status:       a.Status,
		IsMember:     a.HasMember(req.UserID),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
	})
	if err := guard.Error(); err != nil {
		return nil, err
	}
	if err := validateSample(req); err != nil {
		return nil, err
	}

	now := i.opts.now().UTC()
	recordedAt := now
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}
	tracking := req.TrackingStatus
	if tracking == "" {
		tracking = TrackingAuto
	}
	sample := &LocationSample{
		ID:             NewID(),
		AssignmentID:   a.ID,
		UserID:         req.UserID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		Accuracy:       req.Accuracy,
		Address:        req.Address,
		TrackingStatus: tracking,
		RecordedAt:     recordedAt,
		CreatedAt:      now,
	}
	if err := i.store.InsertLocation(ctx, sample); err != nil {
		return nil, fmt.Errorf("insert location: %w", err)
	}
	i.opts.logger.Debug("location recorded", "assignment_id", a.ID, "user_id", req.UserID, "tracking", tracking)
	return sample, nil
}

// RecordBatch stores each item independently. A failing item is reported by
// index and processing continues; errors come back in input order.
func (i *Ingestor) RecordBatch(ctx context.Context, actor Actor, items []RecordRequest) (*BatchResult, error) {
	if len(items) == 0 {
		return nil, Validationf("locations must contain at least one item")
	}
	if len(items) > MaxBatchSize {
		return nil, Validationf("locations must contain at most %d items", MaxBatchSize)
	}

	type outcome struct {
		sample *LocationSample
		err    error
	}
	results := make([]outcome, len(items))

	workers := i.opts.batchWorkers
	if workers > len(items) {
		workers = len(items)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				sample, err := i.Record(ctx, actor, items[idx])
				results[idx] = outcome{sample: sample, err: err}
			}
		}()
	}
	for idx := range items {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	res := &BatchResult{Errors: []BatchItemError{}, Samples: []*LocationSample{}}
	for idx, r := range results {
		if r.err != nil {
			code := string(KindOf(r.err))
			if code == "" {
				code = "internal_error"
				i.opts.logger.Error("batch item failed", "index", idx, "err", r.err)
			}
			res.Errors = append(res.Errors, BatchItemError{Index: idx, Code: code, Reason: r.err.Error()})
			continue
		}
		res.Samples = append(res.Samples, r.sample)
	}
	res.CreatedCount = len(res.Samples)
	res.ErrorCount = len(res.Errors)
	i.opts.logger.Info("location batch processed", "items", len(items), "created", res.CreatedCount, "errors", res.ErrorCount)
	return res, nil
}

func validateSample(req RecordRequest) error {
	if math.IsNaN(req.Latitude) || req.Latitude < -90 || req.Latitude > 90 {
		return Validationf("latitude must be between -90 and 90")
	}
	if math.IsNaN(req.Longitude) || req.Longitude < -180 || req.Longitude > 180 {
		return Validationf("longitude must be between -180 and 180")
	}
	if req.Accuracy != nil && (math.IsNaN(*req.Accuracy) || *req.Accuracy < 0) {
		return Validationf("accuracy must be a non-negative number of meters")
	}
	switch req.TrackingStatus {
	case "", TrackingAuto, TrackingManual:
	default:
		return Validationf("tracking_status must be auto or manual")
	}
	return nil
}
