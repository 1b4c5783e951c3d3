// Package gormstore persists access codes, queued messages, TOTP steps and
// the event journal through GORM, so the same data can live in PostgreSQL,
// MySQL or SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	apperrors "anonsend/errors"
	"anonsend/models"
)

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// DefaultEventRetention matches the SQLite store.
const DefaultEventRetention = 90 * 24 * time.Hour

type Store struct {
	db             *gorm.DB
	eventRetention time.Duration
}

// Open connects with the named dialect and migrates the schema.
func Open(dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectMySQL:
		dialector = mysql.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if err := db.AutoMigrate(&accessCodeRow{}, &messageRow{}, &totpStepRow{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("migrate %s schema: %w", dialect, err)
	}

	return &Store{db: db, eventRetention: DefaultEventRetention}, nil
}

// SetEventRetention configures the automatic event pruning horizon.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	s.eventRetention = retention
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertCodes seeds unused codes in one transaction; existing codes keep
// their state. It returns the number of new rows.
func (s *Store) InsertCodes(ctx context.Context, codes []string, source string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	if source == "" {
		source = "bulk"
	}

	inserted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, code := range codes {
			if code == "" {
				return apperrors.NewValidationError("code", "is required")
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&accessCodeRow{
				Code:      code,
				Source:    source,
				CreatedAt: now,
			})
			if res.Error != nil {
				return res.Error
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Store("insert codes", err)
	}
	return inserted, nil
}

// LookupUnused returns code if it exists and has not been used.
func (s *Store) LookupUnused(ctx context.Context, code string) (*models.AccessCode, error) {
	var row accessCodeRow
	err := s.db.WithContext(ctx).Where("code = ? AND used = ?", code, false).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("access code", models.CodeTag(code))
		}
		return nil, apperrors.Store("lookup code", err)
	}
	return &models.AccessCode{Value: row.Code, Used: row.Used, CreatedAt: row.CreatedAt, UsedAt: row.UsedAt}, nil
}

// MarkUsed is a conditional UPDATE; only the caller that changes the row wins.
func (s *Store) MarkUsed(ctx context.Context, code string) error {
	res := s.db.WithContext(ctx).Model(&accessCodeRow{}).
		Where("code = ? AND used = ?", code, false).
		Updates(map[string]any{"used": true, "used_at": time.Now().UTC()})
	if res.Error != nil {
		return apperrors.Store("mark used", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFoundError("access code", models.CodeTag(code))
	}
	return nil
}

// InsertMessage persists one unsent message; the id comes from the
// auto-increment primary key.
func (s *Store) InsertMessage(ctx context.Context, message models.StoredMessage) (int64, error) {
	if message.Recipient == "" {
		return 0, apperrors.NewValidationError("recipient", "is required")
	}
	if len(message.Ciphertext) == 0 {
		return 0, apperrors.NewValidationError("ciphertext", "is required")
	}
	createdAt := message.CreatedAt.UTC()
	if message.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := messageRow{
		Recipient:  message.Recipient,
		Subject:    message.Subject,
		Ciphertext: message.Ciphertext,
		CreatedAt:  createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, apperrors.Store("insert message", err)
	}
	return row.ID, nil
}

// ListUnsent returns up to limit unsent messages with an id above afterID,
// oldest first.
func (s *Store) ListUnsent(ctx context.Context, afterID int64, limit int) ([]models.StoredMessage, error) {
	if limit <= 0 {
		return nil, apperrors.NewValidationError("limit", "must be positive")
	}

	var rows []messageRow
	if err := s.db.WithContext(ctx).Where("sent = ? AND id > ?", false, afterID).Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, apperrors.Store("list unsent", err)
	}

	out := make([]models.StoredMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, toStoredMessage(r))
	}
	return out, nil
}

// MarkMessageResult keeps the first sent_at. Some servers report zero
// affected rows for an unchanged row, so a zero count is confirmed with an
// existence check before it becomes not-found.
func (s *Store) MarkMessageResult(ctx context.Context, id int64, sent bool, at time.Time) error {
	db := s.db.WithContext(ctx)
	if sent {
		res := db.Model(&messageRow{}).Where("id = ?", id).
			Updates(map[string]any{
				"sent":    true,
				"sent_at": gorm.Expr("COALESCE(sent_at, ?)", at.UTC()),
			})
		if res.Error != nil {
			return apperrors.Store("mark result", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}

	var count int64
	if err := db.Model(&messageRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return apperrors.Store("mark result", err)
	}
	if count == 0 {
		return apperrors.NewNotFoundError("message", strconv.FormatInt(id, 10))
	}
	return nil
}

// QueueDepth counts messages still waiting for delivery.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&messageRow{}).Where("sent = ?", false).Count(&count).Error; err != nil {
		return 0, apperrors.Store("queue depth", err)
	}
	return int(count), nil
}

// RedeemTOTPStep reports true only for the first caller per step.
func (s *Store) RedeemTOTPStep(ctx context.Context, step int64) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&totpStepRow{Step: step, RedeemedAt: time.Now().UTC()})
	if res.Error != nil {
		return false, apperrors.Store("redeem totp step", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// HasRedeemedTOTPStep reports whether step was already redeemed.
func (s *Store) HasRedeemedTOTPStep(ctx context.Context, step int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&totpStepRow{}).Where("step = ?", step).Count(&count).Error; err != nil {
		return false, apperrors.Store("has redeemed totp step", err)
	}
	return count > 0, nil
}

// PruneTOTPSteps removes redeemed steps older than beforeStep.
func (s *Store) PruneTOTPSteps(ctx context.Context, beforeStep int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("step < ?", beforeStep).Delete(&totpStepRow{})
	if res.Error != nil {
		return 0, apperrors.Store("prune totp steps", res.Error)
	}
	return res.RowsAffected, nil
}

// RecordEvent appends to the journal and prunes entries past retention.
func (s *Store) RecordEvent(ctx context.Context, event models.Event) error {
	if event.Type == "" {
		return apperrors.NewValidationError("event_type", "is required")
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	details := "{}"
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		details = string(raw)
	}

	db := s.db.WithContext(ctx)
	if err := db.Create(&eventRow{
		EventType: event.Type,
		Subject:   event.Subject,
		Details:   details,
		Severity:  event.Severity,
		Timestamp: event.Timestamp.UTC(),
	}).Error; err != nil {
		return apperrors.Store("record event", err)
	}

	cutoff := time.Now().Add(-s.eventRetention).UTC()
	if err := db.Where("timestamp < ?", cutoff).Delete(&eventRow{}).Error; err != nil {
		return apperrors.Store("prune events", err)
	}
	return nil
}

// GetEvents returns events matching filter, newest first.
func (s *Store) GetEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if filter.Severity != "" && !models.ValidSeverity(filter.Severity) {
		return nil, apperrors.NewValidationError("severity", fmt.Sprintf("unknown severity %q", filter.Severity))
	}

	query := s.db.WithContext(ctx).Model(&eventRow{})
	if filter.Type != "" {
		query = query.Where("event_type = ?", filter.Type)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if !filter.Since.IsZero() {
		query = query.Where("timestamp >= ?", filter.Since.UTC())
	}

	var rows []eventRow
	if err := query.Order("timestamp DESC, id DESC").Limit(filter.EffectiveLimit()).Find(&rows).Error; err != nil {
		return nil, apperrors.Store("get events", err)
	}

	out := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		ev := models.Event{
			ID:        r.ID,
			Type:      r.EventType,
			Subject:   r.Subject,
			Severity:  r.Severity,
			Timestamp: r.Timestamp,
		}
		if r.Details != "" && r.Details != "{}" {
			if err := json.Unmarshal([]byte(r.Details), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode event details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func toStoredMessage(r messageRow) models.StoredMessage {
	return models.StoredMessage{
		ID:         r.ID,
		Recipient:  r.Recipient,
		Subject:    r.Subject,
		Ciphertext: r.Ciphertext,
		Sent:       r.Sent,
		SentAt:     r.SentAt,
		CreatedAt:  r.CreatedAt,
	}
}

// CodeStats counts all codes and the unused ones.
func (s *Store) CodeStats(ctx context.Context) (models.CodeStats, error) {
	var total, unused int64
	db := s.db.WithContext(ctx).Model(&accessCodeRow{})
	if err := db.Count(&total).Error; err != nil {
		return models.CodeStats{}, apperrors.Store("code stats", err)
	}
	if err := s.db.WithContext(ctx).Model(&accessCodeRow{}).Where("used = ?", false).Count(&unused).Error; err != nil {
		return models.CodeStats{}, apperrors.Store("code stats", err)
	}
	return models.CodeStats{Total: int(total), Unused: int(unused)}, nil
}
