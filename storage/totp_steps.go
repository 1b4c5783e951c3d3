package storage

import (
	"context"
	"fmt"

	apperrors "anonsend/errors"
)

// RedeemTOTPStep records that the TOTP time step has authorized a session. It
// returns false when the step was already redeemed; the INSERT is the only
// arbiter, so concurrent redeemers of one step see exactly one true.
func (s *Store) RedeemTOTPStep(ctx context.Context, step int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO totp_steps (step, redeemed_at)
		VALUES (?, ?)
		ON CONFLICT(step) DO NOTHING`,
		step,
		nowUnixMilli(),
	)
	if err != nil {
		return false, apperrors.Store("redeem totp step", fmt.Errorf("insert step %d: %w", step, err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Store("redeem totp step", fmt.Errorf("read rows affected: %w", err))
	}

	return rowsAffected == 1, nil
}

// HasRedeemedTOTPStep reports whether a time step was already redeemed.
func (s *Store) HasRedeemedTOTPStep(ctx context.Context, step int64) (bool, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM totp_steps WHERE step = ?)`,
		step,
	).Scan(&exists); err != nil {
		return false, apperrors.Store("check totp step", fmt.Errorf("check step %d: %w", step, err))
	}

	return exists == 1, nil
}

// PruneTOTPSteps removes redeemed steps older than beforeStep. Steps that far
// back can no longer verify, so forgetting them is safe.
func (s *Store) PruneTOTPSteps(ctx context.Context, beforeStep int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM totp_steps WHERE step < ?`, beforeStep)
	if err != nil {
		return 0, apperrors.Store("prune totp steps", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Store("prune totp steps", fmt.Errorf("read rows affected: %w", err))
	}

	return rowsAffected, nil
}
