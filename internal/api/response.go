package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldtrack/internal/core"
)

const maxBodyBytes = 1 << 20

type pageMeta struct {
	Page     int `json:"page"`
	PerPage  int `json:"per_page"`
	Total    int `json:"total"`
	LastPage int `json:"last_page"`
}

type pagedResponse struct {
	Data any      `json:"data"`
	Meta pageMeta `json:"meta"`
}

func paged(data any, info core.PageInfo) pagedResponse {
	return pagedResponse{
		Data: data,
		Meta: pageMeta{Page: info.Page, PerPage: info.PerPage, Total: info.Total, LastPage: info.LastPage},
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}

// statusForKind maps a domain error kind to its HTTP status.
func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindAuthorization:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidTransition, core.KindNotTrackable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders classified errors with their own message and hides
// everything else behind a generic internal error.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if kind := core.KindOf(err); kind != "" {
		writeError(w, statusForKind(kind), string(kind), err.Error())
		return
	}
	logger.Error(op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
}

func decodeJSON(r *http.Request, dst any) error {
	return decodeStrict(io.LimitReader(r.Body, maxBodyBytes), dst)
}

// decodeStrict rejects unknown fields and reports failures as validation errors.
func decodeStrict(src io.Reader, dst any) error {
	dec := json.NewDecoder(src)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return core.Validationf("invalid value for field %s", typeErr.Field)
		case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return core.Validationf("invalid JSON payload")
		default:
			return core.Validationf("invalid JSON payload: %v", err)
		}
	}
	return nil
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func pageFromQuery(r *http.Request) core.Page {
	q := r.URL.Query()
	return core.Page{
		Number:  parseIntDefault(q.Get("page"), 1),
		PerPage: parseIntDefault(q.Get("per_page"), 0),
	}
}

func parseOptionalDate(value, field string) (*core.Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := core.ParseDate(value)
	if err != nil {
		return nil, core.Validationf("%s must be a YYYY-MM-DD date", field)
	}
	return &d, nil
}

func parseOptionalTime(value, field string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, core.Validationf("%s must be an RFC3339 timestamp", field)
	}
	return &t, nil
}

func parseOptionalFloat(value, field string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, core.Validationf("%s must be a number", field)
	}
	return &f, nil
}

// rangeFromQuery reads the from/to recorded_at bounds.
func rangeFromQuery(r *http.Request) (core.TimeRange, error) {
	q := r.URL.Query()
	from, err := parseOptionalTime(q.Get("from"), "from")
	if err != nil {
		return core.TimeRange{}, err
	}
	to, err := parseOptionalTime(q.Get("to"), "to")
	if err != nil {
		return core.TimeRange{}, err
	}
	return core.TimeRange{From: from, To: to}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatTime(*t)
	return &formatted
}
