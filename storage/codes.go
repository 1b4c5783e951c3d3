package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "anonsend/errors"
	"anonsend/models"
)

// InsertCodes seeds unused access codes in one transaction. Codes that already
// exist keep their state; the returned count covers new rows only.
func (s *Store) InsertCodes(ctx context.Context, codes []string, source string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	if source == "" {
		source = codeSourceBulk
	}
	if err := validateCodeSource(source); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Store("insert codes", fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO access_codes (code, used, source, created_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(code) DO NOTHING`,
	)
	if err != nil {
		return 0, apperrors.Store("insert codes", fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	now := nowUnixMilli()
	inserted := 0
	for _, code := range codes {
		if code == "" {
			return 0, apperrors.NewValidationError("code", "is required")
		}
		res, err := stmt.ExecContext(ctx, code, source, now)
		if err != nil {
			return 0, apperrors.Store("insert codes", fmt.Errorf("insert code: %w", err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, apperrors.Store("insert codes", fmt.Errorf("read rows affected: %w", err))
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Store("insert codes", fmt.Errorf("commit: %w", err))
	}

	return inserted, nil
}

// LookupUnused returns the code only if it exists and has not been used.
func (s *Store) LookupUnused(ctx context.Context, code string) (*models.AccessCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, used, created_at, used_at
		FROM access_codes
		WHERE code = ? AND used = 0`,
		code,
	)

	var (
		ac        models.AccessCode
		used      int
		createdAt int64
		usedAt    sql.NullInt64
	)
	if err := row.Scan(&ac.Value, &used, &createdAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("access code", models.CodeTag(code))
		}
		return nil, apperrors.Store("lookup code", err)
	}

	ac.Used = used == 1
	ac.CreatedAt = time.UnixMilli(createdAt)
	ac.UsedAt = timePtr(usedAt)
	return &ac, nil
}

// MarkUsed flips used from 0 to 1 in a single conditional UPDATE. Exactly one
// of any number of concurrent callers for the same code observes a changed
// row; the rest get a not-found error.
func (s *Store) MarkUsed(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE access_codes
		SET used = 1, used_at = ?
		WHERE code = ? AND used = 0`,
		nowUnixMilli(),
		code,
	)
	if err != nil {
		return apperrors.Store("mark used", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Store("mark used", fmt.Errorf("read rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError("access code", models.CodeTag(code))
	}

	return nil
}

// CodeStats counts total and unused access codes.
func (s *Store) CodeStats(ctx context.Context) (models.CodeStats, error) {
	var stats models.CodeStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN used = 0 THEN 1 ELSE 0 END), 0) FROM access_codes`,
	).Scan(&stats.Total, &stats.Unused); err != nil {
		return models.CodeStats{}, apperrors.Store("code stats", err)
	}
	return stats, nil
}
