package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord logs tokens consumed by one completed assistant turn
type UsageRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ChatID     uuid.UUID `gorm:"type:uuid;not null;index" json:"chat_id"`
	MessageID  uuid.UUID `gorm:"type:uuid;not null" json:"message_id"`
	TokensUsed int64     `gorm:"not null;default:0" json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}
