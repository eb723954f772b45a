package model

import "time"

// ゲートウェイWebhookの処理済み記録。
// event_idのユニーク制約で二重配信をはじく。
type WebhookEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EventID   string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	EventType string    `gorm:"type:varchar(100);not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
