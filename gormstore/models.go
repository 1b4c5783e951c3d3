package gormstore

import "time"

type accessCodeRow struct {
	Code      string `gorm:"primaryKey;size:64"`
	Used      bool   `gorm:"not null;default:false"`
	Source    string `gorm:"size:16;not null;default:bulk"`
	CreatedAt time.Time
	UsedAt    *time.Time
}

func (accessCodeRow) TableName() string { return "access_codes" }

type messageRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Recipient  string `gorm:"size:320;not null"`
	Subject    string `gorm:"size:1024;not null;default:''"`
	Ciphertext []byte `gorm:"not null"`
	Sent       bool   `gorm:"not null;default:false;index:idx_messages_unsent,priority:1"`
	SentAt     *time.Time
	CreatedAt  time.Time
}

func (messageRow) TableName() string { return "messages" }

type totpStepRow struct {
	Step       int64 `gorm:"primaryKey;autoIncrement:false"`
	RedeemedAt time.Time
}

func (totpStepRow) TableName() string { return "totp_steps" }

type eventRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EventType string    `gorm:"size:64;not null;index:idx_events_type"`
	Subject   string    `gorm:"size:128"`
	Details   string    `gorm:"type:text"`
	Severity  string    `gorm:"size:16;not null"`
	Timestamp time.Time `gorm:"not null;index:idx_events_time"`
}

func (eventRow) TableName() string { return "events" }
