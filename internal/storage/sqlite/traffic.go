package sqlite

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/storage"
)

// InsertUpstreamTraffic batch-inserts upstream exchange records in a single
// multi-row statement.
func (s *Store) InsertUpstreamTraffic(ctx context.Context, evs []gateway.UpstreamTrafficEvent) error {
	if len(evs) == 0 {
		return nil
	}
	const cols = 17
	placeholders := make([]string, 0, len(evs))
	args := make([]any, 0, len(evs)*cols)
	for i := range evs {
		ev := &evs[i]
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			ev.At.UTC().Unix(), ev.Meta.Provider, ev.Meta.CredentialID,
			ev.Meta.Operation, ev.Meta.Model, ev.Meta.Method, ev.Meta.URL,
			headerJSON(ev.Meta.Header), ev.Meta.Body,
			ev.Status, headerJSON(ev.RespHeader), ev.RespBody,
			usageJSON(&ev.Usage), ev.DurationMs,
			ev.Meta.UserID, ev.Meta.KeyID, ev.Meta.TraceID,
		)
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO upstream_traffic
		 (created_at, provider, credential_id, operation, model, method, url,
		  request_headers, request_body, status, response_headers, response_body,
		  usage_json, duration_ms, user_id, key_id, trace_id)
		 VALUES `+strings.Join(placeholders, ", "),
		args...)
	return err
}

// InsertDownstreamTraffic batch-inserts downstream exchange records.
func (s *Store) InsertDownstreamTraffic(ctx context.Context, evs []gateway.DownstreamTrafficEvent) error {
	if len(evs) == 0 {
		return nil
	}
	const cols = 16
	placeholders := make([]string, 0, len(evs))
	args := make([]any, 0, len(evs)*cols)
	for i := range evs {
		ev := &evs[i]
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			ev.At.UTC().Unix(), ev.Meta.Provider, ev.Meta.Operation,
			ev.Meta.Model, ev.Meta.Method, ev.Meta.Path, ev.Meta.Query,
			headerJSON(ev.Meta.Header), ev.Meta.Body,
			ev.Status, ev.RespBody, usageJSON(&ev.Usage), ev.DurationMs,
			ev.Meta.UserID, ev.Meta.KeyID, ev.Meta.TraceID,
		)
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO downstream_traffic
		 (created_at, provider, operation, model, method, path, query,
		  request_headers, request_body, status, response_body,
		  usage_json, duration_ms, user_id, key_id, trace_id)
		 VALUES `+strings.Join(placeholders, ", "),
		args...)
	return err
}

// Stats summarizes recorded traffic counts.
func (s *Store) Stats(ctx context.Context) (*storage.TrafficStats, error) {
	st := &storage.TrafficStats{ByProvider: make(map[string]int64)}

	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upstream_traffic`).Scan(&st.UpstreamRequests)
	if err != nil {
		return nil, err
	}
	err = s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downstream_traffic`).Scan(&st.DownstreamRequests)
	if err != nil {
		return nil, err
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT provider, COUNT(*) FROM upstream_traffic GROUP BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		st.ByProvider[name] = n
	}
	return st, rows.Err()
}

func headerJSON(h http.Header) string {
	if len(h) == 0 {
		return "{}"
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func usageJSON(u *gateway.TrafficUsage) string {
	if u.Empty() {
		return "{}"
	}
	b, err := json.Marshal(u)
	if err != nil {
		return "{}"
	}
	return string(b)
}
