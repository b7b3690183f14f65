package logic

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"radon-backend/dao"
	"radon-backend/models"
	"radon-backend/pkg"
	"radon-backend/pkg/bus"
)

const defaultChatTitle = "New chat"

// ChatLogic handles chat-related business logic
type ChatLogic struct {
	userDAO *dao.UserDAO
	chatDAO *dao.ChatDAO
	bus     bus.Bus
	log     *slog.Logger
}

func NewChatLogic(userDAO *dao.UserDAO, chatDAO *dao.ChatDAO, eventBus bus.Bus, log *slog.Logger) *ChatLogic {
	return &ChatLogic{userDAO: userDAO, chatDAO: chatDAO, bus: eventBus, log: log}
}

func (l *ChatLogic) owner(externalUserID string) (*models.User, error) {
	user, err := l.userDAO.GetByExternalID(externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find user", Err: err}
	}
	return user, nil
}

// CreateChat creates a chat for the caller
func (l *ChatLogic) CreateChat(externalUserID, title string) (*models.Chat, error) {
	user, err := l.owner(externalUserID)
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultChatTitle
	}

	chat, err := l.chatDAO.Create(user.ID, title)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "create chat", Err: err}
	}
	l.publish(bus.TopicChatCreated, chat.ID)
	return chat, nil
}

// ListChats returns the caller's chats, most recently active first
func (l *ChatLogic) ListChats(externalUserID string) ([]models.Chat, error) {
	user, err := l.owner(externalUserID)
	if err != nil {
		return nil, err
	}
	chats, err := l.chatDAO.ListForUser(user.ID)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "list chats", Err: err}
	}
	return chats, nil
}

// GetChat returns one owner-scoped chat
func (l *ChatLogic) GetChat(externalUserID string, chatID uuid.UUID) (*models.Chat, error) {
	user, err := l.owner(externalUserID)
	if err != nil {
		return nil, err
	}
	chat, err := l.chatDAO.FindForOwner(chatID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find chat", Err: err}
	}
	return chat, nil
}

// RenameChat updates the title of an owner-scoped chat
func (l *ChatLogic) RenameChat(externalUserID string, chatID uuid.UUID, title string) (*models.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &pkg.ValidationError{Msg: "title is required"}
	}
	chat, err := l.GetChat(externalUserID, chatID)
	if err != nil {
		return nil, err
	}
	if err := l.chatDAO.Rename(chat.ID, title); err != nil {
		return nil, &pkg.PersistenceError{Op: "rename chat", Err: err}
	}
	chat.Title = title
	l.publish(bus.TopicChatUpdated, chat.ID)
	return chat, nil
}

// DeleteChat removes an owner-scoped chat and all its messages
func (l *ChatLogic) DeleteChat(externalUserID string, chatID uuid.UUID) error {
	chat, err := l.GetChat(externalUserID, chatID)
	if err != nil {
		return err
	}
	if err := l.chatDAO.Delete(chat.ID); err != nil {
		return &pkg.PersistenceError{Op: "delete chat", Err: err}
	}
	l.publish(bus.TopicChatDeleted, chat.ID)
	return nil
}

func (l *ChatLogic) publish(topic bus.Topic, chatID uuid.UUID) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(context.Background(), topic, map[string]string{"chat_id": chatID.String()}); err != nil {
		l.log.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
