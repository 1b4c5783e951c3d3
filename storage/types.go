package storage

import (
	"database/sql"
	"fmt"
	"time"

	apperrors "anonsend/errors"
	"anonsend/models"
)

// ErrNotFound indicates a requested row does not exist.
var ErrNotFound = apperrors.ErrNotFound

const (
	codeSourceBulk   = "bulk"
	codeSourceImport = "import"
)

type scanner interface {
	Scan(dest ...any) error
}

func validateCodeSource(source string) error {
	switch source {
	case codeSourceBulk, codeSourceImport:
		return nil
	default:
		return fmt.Errorf("invalid code source %q", source)
	}
}

func validateSeverity(severity string) error {
	switch severity {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid event severity %q", severity)
	}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	v := time.UnixMilli(ni.Int64)
	return &v
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
