package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a message in a chat. Assistant messages start out
// empty while a stream is in flight and are overwritten once on finalize.
type Message struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID             uuid.UUID      `gorm:"type:uuid;not null;index" json:"chat_id"`
	Role               string         `gorm:"not null" json:"role"` // "user" for ask, "assistant" for answer
	Content            string         `gorm:"not null;default:''" json:"content"`
	ImageURL           *string        `json:"image_url,omitempty"`
	AudioURL           *string        `json:"audio_url,omitempty"`
	AudioTranscription *string        `json:"audio_transcription,omitempty"`
	AudioDuration      *float64       `json:"audio_duration,omitempty"`
	FunctionCalls      datatypes.JSON `json:"function_calls,omitempty"`
	PersonalityUsed    *string        `json:"personality_used,omitempty"`
	ConversationID     *string        `json:"conversation_id,omitempty"` // upstream correlation id
	IsEdited           bool           `gorm:"default:false" json:"is_edited"`
	EditedAt           *time.Time     `json:"edited_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// MessageEdit records the prior content of a user message before an edit.
// Rows are append-only.
type MessageEdit struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID       uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	PreviousContent string    `gorm:"not null" json:"previous_content"`
	CreatedAt       time.Time `json:"created_at"`
}
