package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fieldtrack/internal/client"
	"fieldtrack/internal/core"
	"fieldtrack/internal/logging"
)

// State is the lifecycle state of a sampling session.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateActive               State = "active"
)

// MarkerMaxAge bounds how old a session marker may be and still resume.
const MarkerMaxAge = 24 * time.Hour

const submitTimeout = 20 * time.Second

var (
	// ErrPermissionDenied aborts Start when foreground location access is refused.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrSessionActive rejects Start while the device marker belongs to another assignment.
	ErrSessionActive = errors.New("another sampling session is active on this device")
	// ErrNotTrackable is the server's answer while the assignment is not in progress.
	ErrNotTrackable = core.ErrNotTrackable
)

// Fix is one position reading from the device.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
}

// Permissions asks the device owner for location access.
type Permissions interface {
	RequestForeground(ctx context.Context) error
	RequestBackground(ctx context.Context) error
}

// LocationProvider reads the current position.
type LocationProvider interface {
	CurrentFix(ctx context.Context) (Fix, error)
}

// Geocoder turns coordinates into a human-readable address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Submitter delivers samples to the ingestion API.
type Submitter interface {
	RecordLocation(ctx context.Context, in client.LocationInput) (*client.Location, error)
}

// Devices bundles the device-side collaborators of a sampler.
type Devices struct {
	Permissions Permissions
	Locations   LocationProvider
	// Geocoder is optional; without one addresses fall back to coordinates.
	Geocoder  Geocoder
	Submitter Submitter
}

// Snapshot describes the session for status output.
type Snapshot struct {
	State        State
	AssignmentID string
	StartedAt    *time.Time
	LastSampleAt *time.Time
	LastError    string
	Interval     time.Duration
}

// Sampler periodically submits the device position for one assignment.
// At most one acquisition and submission is in flight at a time.
type Sampler struct {
	devices  Devices
	markers  MarkerStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	state        State
	cron         *cron.Cron
	assignmentID string
	owner        string
	startedAt    time.Time
	lastSampleAt *time.Time
	lastErr      error

	// sampleMu serialises the immediate sample with scheduled ticks.
	sampleMu sync.Mutex
}

// New constructs an idle sampler.
func New(devices Devices, markers MarkerStore, interval time.Duration, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		devices:  devices,
		markers:  markers,
		interval: interval,
		logger:   logger.With("component", "sampler"),
		now:      time.Now,
		state:    StateIdle,
	}
}

// Start begins sampling for the assignment. Starting while a session is
// already running succeeds without doing anything. A fresh marker left by
// another assignment fails with ErrSessionActive.
func (s *Sampler) Start(ctx context.Context, assignmentID string) error {
	return s.start(ctx, assignmentID, s.now().UTC())
}

func (s *Sampler) start(ctx context.Context, assignmentID string, startedAt time.Time) error {
	if assignmentID == "" {
		return errors.New("assignment id is required")
	}

	s.mu.Lock()
	if s.state != StateIdle {
		current := s.assignmentID
		s.mu.Unlock()
		s.logger.Debug("sampler already running", "assignment_id", current, "requested", assignmentID)
		return nil
	}
	s.state = StateRequestingPermission
	s.mu.Unlock()

	existing, err := s.markers.Load()
	if err != nil {
		s.setIdle()
		return fmt.Errorf("load session marker: %w", err)
	}
	if existing != nil && s.now().Sub(existing.StartedAt) <= MarkerMaxAge {
		if existing.AssignmentID != assignmentID {
			s.setIdle()
			return fmt.Errorf("%w: assignment %s", ErrSessionActive, existing.AssignmentID)
		}
		startedAt = existing.StartedAt
	}

	if err := s.devices.Permissions.RequestForeground(ctx); err != nil {
		s.setIdle()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := s.devices.Permissions.RequestBackground(ctx); err != nil {
		s.logger.Warn("background location not granted, sampling only while in foreground", "err", err)
	}

	owner := core.NewID()
	if err := s.markers.Save(Marker{AssignmentID: assignmentID, StartedAt: startedAt, Owner: owner}); err != nil {
		s.setIdle()
		return fmt.Errorf("persist session marker: %w", err)
	}

	c := cron.New(
		cron.WithLogger(logging.CronLogger(s.logger)),
		cron.WithChain(cron.SkipIfStillRunning(logging.CronLogger(s.logger))),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))

	s.mu.Lock()
	s.state = StateActive
	s.assignmentID = assignmentID
	s.owner = owner
	s.startedAt = startedAt
	s.lastErr = nil
	s.cron = c
	s.mu.Unlock()

	s.logger.Info("sampling started", "assignment_id", assignmentID, "interval", s.interval.String())

	// The server may not report the assignment in progress yet.
	if err := s.sampleOnce(); err != nil {
		s.logger.Warn("initial sample failed", "assignment_id", assignmentID, "err", err)
	}

	// Stop may have run during the initial sample; a halted cron must never start.
	s.mu.Lock()
	if s.cron == c && s.state == StateActive {
		c.Start()
	}
	s.mu.Unlock()
	return nil
}

// Resume restarts the session recorded in the marker, keeping its original
// start time. It reports whether a session was resumed; stale markers are
// discarded.
func (s *Sampler) Resume(ctx context.Context) (bool, error) {
	marker, err := s.markers.Load()
	if err != nil {
		return false, fmt.Errorf("load session marker: %w", err)
	}
	if marker == nil {
		return false, nil
	}
	if age := s.now().Sub(marker.StartedAt); age > MarkerMaxAge {
		s.logger.Info("discarding stale session marker", "assignment_id", marker.AssignmentID, "age", age.Round(time.Minute).String())
		if err := s.markers.Clear(); err != nil {
			return false, fmt.Errorf("clear session marker: %w", err)
		}
		return false, nil
	}
	if err := s.start(ctx, marker.AssignmentID, marker.StartedAt); err != nil {
		return false, err
	}
	return true, nil
}

// Stop ends the session and clears the marker. An in-flight submission is
// left to finish on its own. Stopping an idle sampler does nothing.
func (s *Sampler) Stop() error {
	if !s.halt("stopped") {
		return nil
	}
	if err := s.markers.Clear(); err != nil {
		return fmt.Errorf("clear session marker: %w", err)
	}
	return nil
}

// Detach stops scheduling but keeps the marker, so a later Resume continues
// the same session. Used when the process exits.
func (s *Sampler) Detach() {
	s.halt("detached")
}

// halt cancels scheduling and returns the sampler to idle.
func (s *Sampler) halt(reason string) bool {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	c := s.cron
	id := s.assignmentID
	s.cron = nil
	s.state = StateIdle
	s.assignmentID = ""
	s.owner = ""
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	s.logger.Info("sampling "+reason, "assignment_id", id)
	return true
}

// Snapshot returns the current session state.
func (s *Sampler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, AssignmentID: s.assignmentID, Interval: s.interval}
	if s.state == StateActive {
		started := s.startedAt
		snap.StartedAt = &started
	}
	if s.lastSampleAt != nil {
		last := *s.lastSampleAt
		snap.LastSampleAt = &last
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Sampler) setIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Sampler) tick() {
	// Another process may have ended or taken over the session.
	marker, err := s.markers.Load()
	s.mu.Lock()
	owner := s.owner
	s.mu.Unlock()
	switch {
	case err != nil:
		s.logger.Error("load session marker", "err", err)
	case marker == nil:
		s.halt("ended externally")
		return
	case marker.Owner != owner:
		s.halt("superseded by session for " + marker.AssignmentID)
		return
	}
	if err := s.sampleOnce(); err != nil {
		s.logger.Error("sample failed", "err", err)
	}
}

// sampleOnce acquires, geocodes and submits one sample. A not-trackable
// answer is transient and returns nil.
func (s *Sampler) sampleOnce() error {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	s.mu.Lock()
	id := s.assignmentID
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return nil
	}

	// Not derived from any caller context so Stop never cancels a submission.
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	fix, err := s.devices.Locations.CurrentFix(ctx)
	if err != nil {
		return s.recordError(fmt.Errorf("acquire position: %w", err))
	}
	address := s.address(ctx, fix)
	recordedAt := s.now().UTC()

	_, err = s.devices.Submitter.RecordLocation(ctx, client.LocationInput{
		AssignmentID:   id,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		Accuracy:       fix.Accuracy,
		Address:        &address,
		TrackingStatus: string(core.TrackingAuto),
		RecordedAt:     &recordedAt,
	})
	if errors.Is(err, ErrNotTrackable) {
		s.logger.Debug("assignment not trackable yet, retrying next tick", "assignment_id", id)
		s.recordError(err)
		return nil
	}
	if err != nil {
		return s.recordError(fmt.Errorf("submit sample: %w", err))
	}

	s.mu.Lock()
	s.lastSampleAt = &recordedAt
	s.lastErr = nil
	s.mu.Unlock()
	s.logger.Debug("sample submitted", "assignment_id", id, "latitude", fix.Latitude, "longitude", fix.Longitude)
	return nil
}

func (s *Sampler) address(ctx context.Context, fix Fix) string {
	if s.devices.Geocoder != nil {
		addr, err := s.devices.Geocoder.Reverse(ctx, fix.Latitude, fix.Longitude)
		if err == nil && addr != "" {
			return addr
		}
		if err != nil {
			s.logger.Debug("reverse geocoding failed", "err", err)
		}
	}
	return CoordinateAddress(fix.Latitude, fix.Longitude)
}

func (s *Sampler) recordError(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// CoordinateAddress is the address used when geocoding is unavailable.
func CoordinateAddress(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}
