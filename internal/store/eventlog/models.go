package eventlog

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent mirrors the webhook_events table.
type WebhookEvent struct {
	EventID   string         `gorm:"primaryKey"`
	Source    string         `gorm:"not null;index:idx_webhook_events_source_created,priority:1"`
	Type      string         `gorm:"not null"`
	EntityID  string         `gorm:"index"`
	Payload   datatypes.JSON `gorm:"not null"`
	Status    string         `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_webhook_events_source_created,priority:2"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
