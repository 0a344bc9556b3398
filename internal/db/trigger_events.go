package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type TriggerEvent struct {
	EventID   string    `json:"event_id"`
	ClientID  string    `json:"client_id"`
	SessionID string    `json:"session_id"`
	Signal    string    `json:"signal"`
	PageURL   string    `json:"page_url"`
	FiredAt   time.Time `json:"fired_at"`
}

// RecordTriggerEvent stores one proactive open and returns its id.
func (d *DB) RecordTriggerEvent(ctx context.Context, ev TriggerEvent) (string, error) {
	if ev.ClientID == "" || ev.Signal == "" {
		return "", errors.New("client id and signal required")
	}
	if ev.EventID == "" {
		ev.EventID = newID("trg")
	}
	if ev.FiredAt.IsZero() {
		ev.FiredAt = time.Now()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO trigger_events (event_id, client_id, session_id, signal, page_url, fired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.EventID, ev.ClientID, ev.SessionID, ev.Signal, ev.PageURL, ev.FiredAt.UTC())
	if err != nil {
		return "", err
	}
	return ev.EventID, nil
}

// ListTriggerEvents returns a client's most recent trigger events.
func (d *DB) ListTriggerEvents(ctx context.Context, clientID string, limit, offset int) ([]TriggerEvent, error) {
	limit, offset = clampPagination(limit, offset)
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'event_id', event_id,
			'client_id', client_id,
			'session_id', session_id,
			'signal', signal,
			'page_url', page_url,
			'fired_at', fired_at
		) ORDER BY fired_at DESC
	), '[]'::jsonb)
	FROM (
		SELECT event_id, client_id, session_id, signal, page_url, fired_at
		FROM trigger_events
		WHERE client_id = $1
		ORDER BY fired_at DESC
		LIMIT $2 OFFSET $3
	) AS recent`
	row := d.conn.QueryRowContext(ctx, query, clientID, limit, offset)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	var events []TriggerEvent
	if err := json.Unmarshal(out, &events); err != nil {
		return nil, err
	}
	return events, nil
}
