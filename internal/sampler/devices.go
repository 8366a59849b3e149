package sampler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConsentPermissions answers permission requests from configured consent.
type ConsentPermissions struct {
	Foreground bool
	Background bool
}

func (p ConsentPermissions) RequestForeground(ctx context.Context) error {
	if !p.Foreground {
		return errors.New("foreground location consent not given")
	}
	return nil
}

func (p ConsentPermissions) RequestBackground(ctx context.Context) error {
	if !p.Background {
		return errors.New("background location consent not given")
	}
	return nil
}

// StaticProvider always reports the same position.
type StaticProvider struct {
	Fix Fix
}

func (p StaticProvider) CurrentFix(ctx context.Context) (Fix, error) {
	return p.Fix, nil
}

// ReplayProvider replays a recorded track, one point per call, looping at the end.
type ReplayProvider struct {
	mu     sync.Mutex
	points []Fix
	next   int
}

// NewReplayProvider reads a CSV track of latitude,longitude[,accuracy] rows.
// A header row is skipped when its first field is not a number.
func NewReplayProvider(path string) (*ReplayProvider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay track: %w", err)
	}
	defer file.Close()
	return ReadReplayTrack(file)
}

// ReadReplayTrack parses a CSV track from r.
func ReadReplayTrack(r io.Reader) (*ReplayProvider, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse replay track: %w", err)
	}

	var points []Fix
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("replay track line %d: expected latitude,longitude", i+1)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("replay track line %d: invalid latitude %q", i+1, row[0])
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("replay track line %d: invalid longitude %q", i+1, row[1])
		}
		fix := Fix{Latitude: lat, Longitude: lon}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			acc, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("replay track line %d: invalid accuracy %q", i+1, row[2])
			}
			fix.Accuracy = &acc
		}
		points = append(points, fix)
	}
	if len(points) == 0 {
		return nil, errors.New("replay track has no points")
	}
	return &ReplayProvider{points: points}, nil
}

func (p *ReplayProvider) CurrentFix(ctx context.Context) (Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fix := p.points[p.next]
	p.next = (p.next + 1) % len(p.points)
	return fix, nil
}

// NominatimGeocoder reverse geocodes through a Nominatim-compatible HTTP service.
type NominatimGeocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatimGeocoder creates a geocoder for baseURL, e.g. https://nominatim.openstreetmap.org.
func NewNominatimGeocoder(baseURL string) (*NominatimGeocoder, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("geocoder url is empty")
	}
	return &NominatimGeocoder{
		baseURL:   baseURL,
		userAgent: "fieldtrack-sampler",
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/reverse?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create geocode request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("geocoder returned status: %d", resp.StatusCode)
	}
	var body struct {
		DisplayName string `json:"display_name"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode geocoder response: %w", err)
	}
	if body.Error != "" {
		return "", errors.New(body.Error)
	}
	return body.DisplayName, nil
}
