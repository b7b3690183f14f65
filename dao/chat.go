package dao

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"radon-backend/models"
)

// ChatDAO handles chat-related database operations
type ChatDAO struct {
	db *gorm.DB
}

func NewChatDAO(db *gorm.DB) *ChatDAO {
	return &ChatDAO{db: db}
}

// Create creates a new chat for the owner
func (d *ChatDAO) Create(userID uuid.UUID, title string) (*models.Chat, error) {
	chat := &models.Chat{
		ID:     uuid.New(),
		UserID: userID,
		Title:  title,
	}
	if err := d.db.Create(chat).Error; err != nil {
		return nil, err
	}
	return chat, nil
}

// FindForOwner is the owner-scoped lookup. A chat that does not exist and a
// chat owned by someone else both come back as gorm.ErrRecordNotFound.
func (d *ChatDAO) FindForOwner(chatID, userID uuid.UUID) (*models.Chat, error) {
	var chat models.Chat
	if err := d.db.Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListForUser retrieves all chats owned by the user, most recent first
func (d *ChatDAO) ListForUser(userID uuid.UUID) ([]models.Chat, error) {
	var chats []models.Chat
	if err := d.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// Rename updates the chat title
func (d *ChatDAO) Rename(chatID uuid.UUID, title string) error {
	return d.db.Model(&models.Chat{}).Where("id = ?", chatID).Update("title", title).Error
}

// Touch bumps the chat's last-activity marker
func (d *ChatDAO) Touch(chatID uuid.UUID) error {
	return d.db.Model(&models.Chat{}).Where("id = ?", chatID).Update("updated_at", time.Now()).Error
}

// Delete removes a chat and its messages
func (d *ChatDAO) Delete(chatID uuid.UUID) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Chat{}, "id = ?", chatID).Error
	})
}
