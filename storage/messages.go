package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	apperrors "anonsend/errors"
	"anonsend/models"
)

// InsertMessage persists one unsent message and returns its id. The id comes
// from the AUTOINCREMENT sequence stored in the database file, so it is larger
// than every id ever handed out, across restarts and deletions alike. The
// insert is a single statement: on failure no row exists.
func (s *Store) InsertMessage(ctx context.Context, message models.StoredMessage) (int64, error) {
	if message.Recipient == "" {
		return 0, apperrors.NewValidationError("recipient", "is required")
	}
	if len(message.Ciphertext) == 0 {
		return 0, apperrors.NewValidationError("ciphertext", "is required")
	}
	createdAt := nowUnixMilli()
	if !message.CreatedAt.IsZero() {
		createdAt = message.CreatedAt.UnixMilli()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			recipient,
			subject,
			ciphertext,
			sent,
			sent_at,
			created_at
		) VALUES (?, ?, ?, 0, NULL, ?)`,
		message.Recipient,
		message.Subject,
		message.Ciphertext,
		createdAt,
	)
	if err != nil {
		return 0, apperrors.Store("insert message", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Store("insert message", fmt.Errorf("read last insert id: %w", err))
	}

	return id, nil
}

// ListUnsent returns up to limit unsent messages with an id above afterID,
// oldest id first.
func (s *Store) ListUnsent(ctx context.Context, afterID int64, limit int) ([]models.StoredMessage, error) {
	if limit <= 0 {
		return nil, apperrors.NewValidationError("limit", "must be positive")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			id,
			recipient,
			subject,
			ciphertext,
			sent,
			sent_at,
			created_at
		FROM messages
		WHERE sent = 0 AND id > ?
		ORDER BY id ASC
		LIMIT ?`,
		afterID,
		limit,
	)
	if err != nil {
		return nil, apperrors.Store("list unsent", err)
	}
	defer rows.Close()

	messages := make([]models.StoredMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, apperrors.Store("list unsent", fmt.Errorf("scan message row: %w", err))
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("list unsent", fmt.Errorf("iterate message rows: %w", err))
	}

	return messages, nil
}

// MarkMessageResult records a delivery outcome. A successful send flips sent
// to 1 and stamps sent_at only if it was never stamped, so repeating the call
// is a no-op. A failed send leaves the row queued; the only effect is the
// existence check.
func (s *Store) MarkMessageResult(ctx context.Context, id int64, sent bool, at time.Time) error {
	if !sent {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)`,
			id,
		).Scan(&exists); err != nil {
			return apperrors.Store("mark result", err)
		}
		if exists == 0 {
			return apperrors.NewNotFoundError("message", strconv.FormatInt(id, 10))
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		SET sent = 1, sent_at = COALESCE(sent_at, ?)
		WHERE id = ?`,
		at.UnixMilli(),
		id,
	)
	if err != nil {
		return apperrors.Store("mark result", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Store("mark result", fmt.Errorf("read rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError("message", strconv.FormatInt(id, 10))
	}

	return nil
}

// QueueDepth counts messages that are still waiting for delivery.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE sent = 0`).Scan(&depth); err != nil {
		return 0, apperrors.Store("queue depth", err)
	}
	return depth, nil
}

func scanMessage(row scanner) (*models.StoredMessage, error) {
	var (
		message   models.StoredMessage
		sent      int
		sentAt    sql.NullInt64
		createdAt int64
	)

	if err := row.Scan(
		&message.ID,
		&message.Recipient,
		&message.Subject,
		&message.Ciphertext,
		&sent,
		&sentAt,
		&createdAt,
	); err != nil {
		return nil, err
	}

	message.Sent = sent == 1
	message.SentAt = timePtr(sentAt)
	message.CreatedAt = time.UnixMilli(createdAt)

	return &message, nil
}
