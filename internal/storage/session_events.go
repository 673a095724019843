package storage

// session_events.go contains SQLiteStore methods for the session event log.

import (
	"fmt"
	"log"
	"time"
)

// SessionEvent is one durable lifecycle or client-count record.
type SessionEvent struct {
	ID        int64
	SessionID string
	Kind      string
	Port      int
	Clients   int
	Reason    string
	At        time.Time
}

// EventFilter narrows ListSessionEvents.
type EventFilter struct {
	// SessionID limits results to one session when set.
	SessionID string

	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// SaveAndPruneSessionEvent inserts an event and prunes the oldest rows
// beyond maxRows in a single transaction. maxRows <= 0 disables pruning.
func (s *SQLiteStore) SaveAndPruneSessionEvent(event *SessionEvent, maxRows int) error {
	if event == nil {
		return fmt.Errorf("session event cannot be nil")
	}
	if event.SessionID == "" || event.Kind == "" {
		return fmt.Errorf("session event requires session_id and kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	const insertQuery = `
		INSERT INTO session_events (session_id, kind, port, clients, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(insertQuery,
		event.SessionID,
		event.Kind,
		event.Port,
		event.Clients,
		event.Reason,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}

	if maxRows > 0 {
		const pruneQuery = `
			DELETE FROM session_events
			WHERE id NOT IN (SELECT id FROM session_events ORDER BY id DESC LIMIT ?)
		`
		if _, err := tx.Exec(pruneQuery, maxRows); err != nil {
			return fmt.Errorf("prune session events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session event: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	event.At = at

	log.Printf("storage: saved session event kind=%s session=%s", event.Kind, event.SessionID)
	return nil
}

// ListSessionEvents returns events newest first.
func (s *SQLiteStore) ListSessionEvents(filter EventFilter) ([]*SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, session_id, kind, port, clients, reason, at
		FROM session_events
	`
	var args []interface{}
	if filter.SessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, filter.SessionID)
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []*SessionEvent
	for rows.Next() {
		var (
			event SessionEvent
			atStr string
		)
		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Kind,
			&event.Port,
			&event.Clients,
			&event.Reason,
			&atStr,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session event row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, fmt.Errorf("parse session event at: %w", err)
		}
		event.At = t
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session event rows: %w", err)
	}

	return events, nil
}

// CountSessionEvents returns the number of stored events.
func (s *SQLiteStore) CountSessionEvents() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM session_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count session events: %w", err)
	}
	return n, nil
}
