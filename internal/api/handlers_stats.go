package api

import (
	"net/http"
	"sort"

	"fieldtrack/internal/core"
)

type countEntry struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type statsResponse struct {
	AssignmentID    string       `json:"assignment_id,omitempty"`
	UserID          string       `json:"user_id,omitempty"`
	TotalLocations  int          `json:"total_locations"`
	AutoLocations   int          `json:"auto_locations"`
	ManualLocations int          `json:"manual_locations"`
	ByUser          []countEntry `json:"by_user,omitempty"`
	ByAssignment    []countEntry `json:"by_assignment,omitempty"`
	FirstRecordedAt *string      `json:"first_recorded_at"`
	LastRecordedAt  *string      `json:"last_recorded_at"`
}

func (s *Server) handleLocationStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := core.StatsScope{AssignmentID: q.Get("assignment_id"), UserID: q.Get("user_id")}
	stats, err := s.analytics.Statistics(r.Context(), scope)
	if err != nil {
		writeDomainError(w, s.logger, "load location stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		AssignmentID:    scope.AssignmentID,
		UserID:          scope.UserID,
		TotalLocations:  stats.Total,
		AutoLocations:   stats.Auto,
		ManualLocations: stats.Manual,
		ByUser:          sortedCounts(stats.ByUser),
		ByAssignment:    sortedCounts(stats.ByAssignment),
		FirstRecordedAt: formatOptionalTime(stats.FirstRecordedAt),
		LastRecordedAt:  formatOptionalTime(stats.LastRecordedAt),
	})
}

// sortedCounts orders entries by count descending, then id.
func sortedCounts(counts map[string]int) []countEntry {
	if counts == nil {
		return nil
	}
	out := make([]countEntry, 0, len(counts))
	for id, n := range counts {
		out = append(out, countEntry{ID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	return out
}
