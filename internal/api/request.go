package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/therapycompanion/reminders/internal/model"
)

const maxBodyBytes = 1 << 20

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest{"request body is empty"}
		}
		return badRequest{fmt.Sprintf("malformed JSON body: %v", err)}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest{fmt.Sprintf("invalid %s %q", name, raw)}
	}
	return id, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseTime reads an ISO-8601 timestamp. Values without an offset are UTC.
func parseTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, badRequest{fmt.Sprintf("%s: cannot parse %q as an ISO-8601 timestamp", field, raw)}
}

func optionalTime(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := parseTime(field, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// dateBound parses a list filter bound. A bare date covers the whole day, so
// date_to=2025-01-31 includes messages sent on the 31st.
func dateBound(field, raw string, upper bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		if upper {
			d = d.Add(24*time.Hour - time.Nanosecond)
		}
		return &d, nil
	}
	t, err := parseTime(field, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseFilter(r *http.Request) (model.MessageFilter, error) {
	q := r.URL.Query()
	var f model.MessageFilter

	if raw := q.Get("patient_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, badRequest{fmt.Sprintf("invalid patient_id %q", raw)}
		}
		f.PatientID = &id
	}

	for _, v := range q["status"] {
		for _, raw := range strings.Split(v, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			st, ok := model.ParseStatus(raw)
			if !ok {
				return f, badRequest{fmt.Sprintf("unknown status %q", raw)}
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	var err error
	if f.DateFrom, err = dateBound("date_from", q.Get("date_from"), false); err != nil {
		return f, err
	}
	if f.DateTo, err = dateBound("date_to", q.Get("date_to"), true); err != nil {
		return f, err
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, badRequest{fmt.Sprintf("invalid limit %q", raw)}
		}
		f.Limit = n
	}
	return f, nil
}

// ifMatch reads the expected version from an If-Match header such as "3" or
// W/"3". The body field wins when both are present.
func ifMatch(r *http.Request, body *int) (*int, error) {
	if body != nil {
		return body, nil
	}
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, badRequest{fmt.Sprintf("invalid If-Match header %q", r.Header.Get("If-Match"))}
	}
	return &v, nil
}
