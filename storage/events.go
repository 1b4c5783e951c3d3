package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "anonsend/errors"
	"anonsend/models"
)

// SetEventRetention configures the automatic event pruning horizon.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	s.eventRetention = retention
}

// RecordEvent inserts a journal event and applies retention pruning.
func (s *Store) RecordEvent(ctx context.Context, event models.Event) error {
	if strings.TrimSpace(event.Type) == "" {
		return errors.New("event_type is required")
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}
	if err := validateSeverity(event.Severity); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	details := []byte("{}")
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		details = raw
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (
			event_type,
			subject,
			details,
			severity,
			timestamp
		) VALUES (?, ?, ?, ?, ?)`,
		event.Type,
		nullString(strings.TrimSpace(event.Subject)),
		string(details),
		event.Severity,
		event.Timestamp.UnixMilli(),
	)
	if err != nil {
		return apperrors.Store("record event", fmt.Errorf("insert event %q: %w", event.Type, err))
	}

	if s.eventRetention > 0 {
		cutoff := time.Now().Add(-s.eventRetention)
		if _, err := s.PruneEvents(ctx, cutoff); err != nil {
			return fmt.Errorf("prune events: %w", err)
		}
	}

	return nil
}

// GetEvents returns recent events matching filter, newest first.
func (s *Store) GetEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if filter.Severity != "" {
		if err := validateSeverity(filter.Severity); err != nil {
			return nil, apperrors.NewValidationError("severity", err.Error())
		}
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		event_type,
		subject,
		details,
		severity,
		timestamp
	FROM events`)

	where := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ?")
	args = append(args, filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, apperrors.Store("get events", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.Store("get events", fmt.Errorf("scan event row: %w", err))
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("get events", fmt.Errorf("iterate event rows: %w", err))
	}

	return events, nil
}

// PruneEvents removes events older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff is required")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, apperrors.Store("prune events", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Store("prune events", fmt.Errorf("read rows affected: %w", err))
	}

	return rowsAffected, nil
}

func scanEvent(row scanner) (*models.Event, error) {
	var (
		event     models.Event
		subject   sql.NullString
		details   string
		timestamp int64
	)
	if err := row.Scan(
		&event.ID,
		&event.Type,
		&subject,
		&details,
		&event.Severity,
		&timestamp,
	); err != nil {
		return nil, err
	}

	if subject.Valid {
		event.Subject = subject.String
	}
	if details != "" && details != "{}" {
		if err := json.Unmarshal([]byte(details), &event.Details); err != nil {
			return nil, fmt.Errorf("decode event details: %w", err)
		}
	}
	event.Timestamp = time.UnixMilli(timestamp)
	return &event, nil
}
