package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetEventRetention configures the automatic handshake-event pruning horizon.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	s.eventRetention = retention
}

// RecordHandshake inserts one handshake event and applies retention pruning.
func (s *Store) RecordHandshake(event HandshakeEvent) error {
	if strings.TrimSpace(event.RemoteAddr) == "" {
		return errors.New("remote_addr is required")
	}
	if err := validateDirection(event.Direction); err != nil {
		return err
	}
	if err := validateOutcome(event.Outcome); err != nil {
		return err
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO handshake_events (
			peer_id,
			remote_addr,
			direction,
			outcome,
			detail,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(strings.TrimSpace(event.PeerID)),
		event.RemoteAddr,
		event.Direction,
		event.Outcome,
		event.Detail,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert handshake event for %q: %w", event.RemoteAddr, err)
	}

	if s.eventRetention > 0 {
		cutoff := time.Now().Add(-s.eventRetention).UnixMilli()
		if _, err := s.PruneHandshakeEvents(cutoff); err != nil {
			return fmt.Errorf("prune handshake events: %w", err)
		}
	}

	return nil
}

// ListHandshakeEvents returns handshake events newest first.
func (s *Store) ListHandshakeEvents(filter HandshakeEventFilter) ([]HandshakeEvent, error) {
	if filter.Direction != "" {
		if err := validateDirection(filter.Direction); err != nil {
			return nil, err
		}
	}
	if filter.Outcome != "" {
		if err := validateOutcome(filter.Outcome); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		peer_id,
		remote_addr,
		direction,
		outcome,
		detail,
		timestamp
	FROM handshake_events`)

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if filter.PeerID != "" {
		where = append(where, "peer_id = ?")
		args = append(args, filter.PeerID)
	}
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list handshake events: %w", err)
	}
	defer rows.Close()

	events := make([]HandshakeEvent, 0)
	for rows.Next() {
		event, err := scanHandshakeEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan handshake event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handshake event rows: %w", err)
	}

	return events, nil
}

// PruneHandshakeEvents removes events older than cutoffTimestamp.
func (s *Store) PruneHandshakeEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM handshake_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune handshake events: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for handshake event prune: %w", err)
	}

	return rowsAffected, nil
}

func scanHandshakeEvent(row scanner) (*HandshakeEvent, error) {
	var (
		event  HandshakeEvent
		peerID sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&peerID,
		&event.RemoteAddr,
		&event.Direction,
		&event.Outcome,
		&event.Detail,
		&event.Timestamp,
	); err != nil {
		return nil, err
	}

	event.PeerID = peerID.String
	return &event, nil
}
