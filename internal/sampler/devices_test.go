package sampler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReplayTrack(t *testing.T) {
	p, err := ReadReplayTrack(strings.NewReader("latitude,longitude,accuracy\n48.1,2.1,5\n48.2,2.2,\n"))
	require.NoError(t, err)

	first, _ := p.CurrentFix(context.Background())
	second, _ := p.CurrentFix(context.Background())
	third, _ := p.CurrentFix(context.Background())

	assert.Equal(t, 48.1, first.Latitude)
	require.NotNil(t, first.Accuracy)
	assert.Equal(t, 5.0, *first.Accuracy)
	assert.Equal(t, 2.2, second.Longitude)
	assert.Nil(t, second.Accuracy)
	assert.Equal(t, first, third, "track loops")
}

func TestReadReplayTrackErrors(t *testing.T) {
	_, err := ReadReplayTrack(strings.NewReader("latitude,longitude\n"))
	assert.Error(t, err)
	_, err = ReadReplayTrack(strings.NewReader("48.1,2.1\nabc,2.2\n"))
	assert.Error(t, err)
	_, err = ReadReplayTrack(strings.NewReader("48.1\n"))
	assert.Error(t, err)
}

func TestConsentPermissions(t *testing.T) {
	p := ConsentPermissions{Foreground: true}
	assert.NoError(t, p.RequestForeground(context.Background()))
	assert.Error(t, p.RequestBackground(context.Background()))
}

func TestNominatimGeocoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "48.856600", r.URL.Query().Get("lat"))
		assert.Equal(t, "fieldtrack-sampler", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"display_name":"Hôtel de Ville, Paris"}`))
	}))
	defer srv.Close()

	g, err := NewNominatimGeocoder(srv.URL + "/")
	require.NoError(t, err)
	addr, err := g.Reverse(context.Background(), 48.8566, 2.3522)
	require.NoError(t, err)
	assert.Equal(t, "Hôtel de Ville, Paris", addr)
}

func TestNominatimGeocoderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	g, err := NewNominatimGeocoder(srv.URL)
	require.NoError(t, err)
	_, err = g.Reverse(context.Background(), 0, 0)
	assert.EqualError(t, err, "Unable to geocode")

	_, err = NewNominatimGeocoder("")
	assert.Error(t, err)
}

func TestFileMarkerStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store, err := NewFileMarkerStore(dir)
	require.NoError(t, err)

	marker, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, marker)

	started := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.Save(Marker{AssignmentID: "a1", StartedAt: started}))
	require.NoError(t, store.Save(Marker{AssignmentID: "a2", StartedAt: started}))

	marker, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, "a2", marker.AssignmentID)
	assert.True(t, marker.StartedAt.Equal(started))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")

	// a second store over the same directory sees the same session
	other, err := NewFileMarkerStore(dir)
	require.NoError(t, err)
	require.NoError(t, other.Clear())
	marker, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, marker)
	require.NoError(t, store.Clear())
}

func TestFileMarkerStoreRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileMarkerStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{"), 0o600))
	_, err = store.Load()
	assert.Error(t, err)
}
