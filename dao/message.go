package dao

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"radon-backend/models"
)

// MessageDAO handles message-related database operations
type MessageDAO struct {
	db *gorm.DB
}

func NewMessageDAO(db *gorm.DB) *MessageDAO {
	return &MessageDAO{db: db}
}

// Create adds a message to a chat. Content may be empty: assistant
// placeholders are created empty and filled in on finalize.
func (d *MessageDAO) Create(msg *models.Message) (*models.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if err := d.db.Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// UpdateContent overwrites the message content in full. No edit-history row
// is produced here; that is the user-facing edit path's job.
func (d *MessageDAO) UpdateContent(messageID uuid.UUID, content string) error {
	return d.db.Model(&models.Message{}).Where("id = ?", messageID).Update("content", content).Error
}

// Get retrieves one message by id
func (d *MessageDAO) Get(messageID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := d.db.First(&msg, "id = ?", messageID).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetInChat retrieves a message scoped to a chat
func (d *MessageDAO) GetInChat(messageID, chatID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := d.db.Where("id = ? AND chat_id = ?", messageID, chatID).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByChat retrieves all messages in a chat in chronological order
func (d *MessageDAO) ListByChat(chatID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	if err := d.db.Where("chat_id = ?", chatID).Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// RecentBefore retrieves at most limit messages created before the given
// time, returned in chronological order. Used to build regeneration context.
func (d *MessageDAO) RecentBefore(chatID uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := d.db.Where("chat_id = ? AND created_at < ?", chatID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// Most-recent-first from the query, reversed to chronological
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Edit overwrites a user message's content, recording the prior content in
// an immutable edit-history row first.
func (d *MessageDAO) Edit(messageID uuid.UUID, previousContent, newContent string) (*models.Message, error) {
	var updated models.Message
	err := d.db.Transaction(func(tx *gorm.DB) error {
		edit := &models.MessageEdit{
			ID:              uuid.New(),
			MessageID:       messageID,
			PreviousContent: previousContent,
		}
		if err := tx.Create(edit).Error; err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Model(&models.Message{}).Where("id = ?", messageID).Updates(map[string]interface{}{
			"content":   newContent,
			"edited_at": now,
			"is_edited": true,
		}).Error; err != nil {
			return err
		}
		return tx.First(&updated, "id = ?", messageID).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// EditHistory lists the edit records for a message, newest first
func (d *MessageDAO) EditHistory(messageID uuid.UUID) ([]models.MessageEdit, error) {
	var edits []models.MessageEdit
	if err := d.db.Where("message_id = ?", messageID).Order("created_at DESC").Find(&edits).Error; err != nil {
		return nil, err
	}
	return edits, nil
}

// Delete removes a message
func (d *MessageDAO) Delete(messageID uuid.UUID) error {
	return d.db.Delete(&models.Message{}, "id = ?", messageID).Error
}
