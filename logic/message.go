package logic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"radon-backend/dao"
	"radon-backend/models"
	"radon-backend/pkg"
	"radon-backend/pkg/bus"
)

// contextWindow bounds how many prior messages are fed to the model when
// regenerating a turn
const contextWindow = 10

const defaultPersonality = "helpful"

// Inference is the slice of the Radon client the message logic needs
type Inference interface {
	Complete(ctx context.Context, prompt string, opts pkg.Options) (*pkg.Completion, error)
	OpenStream(ctx context.Context, prompt string, opts pkg.Options) (pkg.Stream, error)
}

// GenerationDefaults carries the configured generation parameters
type GenerationDefaults struct {
	MaxNewTokens int
	Temperature  float64
}

// MessageLogic handles message-related business logic: the streaming relay,
// regeneration, listing, editing, and deletion.
type MessageLogic struct {
	userDAO    *dao.UserDAO
	chatDAO    *dao.ChatDAO
	messageDAO *dao.MessageDAO
	radon      Inference
	bus        bus.Bus
	defaults   GenerationDefaults
	log        *slog.Logger
}

func NewMessageLogic(
	userDAO *dao.UserDAO,
	chatDAO *dao.ChatDAO,
	messageDAO *dao.MessageDAO,
	radon Inference,
	eventBus bus.Bus,
	defaults GenerationDefaults,
	log *slog.Logger,
) *MessageLogic {
	return &MessageLogic{
		userDAO:    userDAO,
		chatDAO:    chatDAO,
		messageDAO: messageDAO,
		radon:      radon,
		bus:        eventBus,
		defaults:   defaults,
		log:        log,
	}
}

// StreamRequest is the inbound body of a streaming turn
type StreamRequest struct {
	Content  string
	ImageURL string
}

// TurnSession correlates one placeholder assistant message with one open
// stream. It exists only for the duration of the request; nothing else may
// write the placeholder while the session is live.
type TurnSession struct {
	Chat        *models.Chat
	User        *models.User
	UserMessage *models.Message
	Placeholder *models.Message
}

// PrepareTurn validates the request, persists the user message, and creates
// the empty assistant placeholder. Any error here happens before the stream
// opens, so the caller can still report it with a proper status code.
func (l *MessageLogic) PrepareTurn(externalUserID string, chatID uuid.UUID, req StreamRequest) (*TurnSession, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, &pkg.ValidationError{Msg: "content is required"}
	}

	user, err := l.userDAO.GetByExternalID(externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find user", Err: err}
	}

	chat, err := l.chatDAO.FindForOwner(chatID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find chat", Err: err}
	}

	userMsg := &models.Message{
		ChatID:  chat.ID,
		Role:    models.RoleUser,
		Content: content,
	}
	if req.ImageURL != "" {
		userMsg.ImageURL = &req.ImageURL
	}
	if _, err := l.messageDAO.Create(userMsg); err != nil {
		return nil, &pkg.PersistenceError{Op: "create user message", Err: err}
	}

	placeholder := &models.Message{
		ChatID:  chat.ID,
		Role:    models.RoleAssistant,
		Content: "", // filled in on finalize
	}
	if _, err := l.messageDAO.Create(placeholder); err != nil {
		return nil, &pkg.PersistenceError{Op: "create placeholder", Err: err}
	}

	return &TurnSession{
		Chat:        chat,
		User:        user,
		UserMessage: userMsg,
		Placeholder: placeholder,
	}, nil
}

// RunStream drives the inference stream for a prepared session, invoking
// emit once per fragment in arrival order. On normal completion the
// accumulated text is written into the placeholder and returned. On an
// upstream error the placeholder keeps its last durable content (empty) so
// the turn reads as failed rather than silently truncated. An emit error
// means the client went away: pumping stops and the transport is released,
// but nothing about the turn is rolled back.
func (l *MessageLogic) RunStream(ctx context.Context, session *TurnSession, emit func(content string) error) (string, error) {
	stream, err := l.radon.OpenStream(ctx, session.UserMessage.Content, pkg.Options{
		MaxNewTokens:    l.defaults.MaxNewTokens,
		Temperature:     l.defaults.Temperature,
		EnableFunctions: true,
		Personality:     defaultPersonality,
		ConversationID:  session.Chat.ID.String(),
		UserID:          session.User.ExternalID,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	var tokensUsed int64

	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		full.WriteString(frag.Content)
		if frag.TokensUsed > 0 {
			tokensUsed = frag.TokensUsed
		}
		if err := emit(frag.Content); err != nil {
			return "", err
		}
	}

	fullResponse := full.String()
	if err := l.messageDAO.UpdateContent(session.Placeholder.ID, fullResponse); err != nil {
		return "", &pkg.PersistenceError{Op: "finalize message", Err: err}
	}

	// Best-effort: a stale activity marker is not worth failing the turn
	if err := l.chatDAO.Touch(session.Chat.ID); err != nil {
		l.log.Warn("failed to touch chat", "chat_id", session.Chat.ID, "error", err)
	}

	l.publishMessageSent(session.User.ID, session.Chat.ID, session.Placeholder.ID, tokensUsed)

	return fullResponse, nil
}

// Regenerate re-runs the model for a previously sent user message using the
// one-shot endpoint behind the retry wrapper, producing a new assistant
// message. The prior assistant message, if any, is left untouched.
func (l *MessageLogic) Regenerate(ctx context.Context, externalUserID string, messageID uuid.UUID) (*models.Message, error) {
	user, err := l.userDAO.GetByExternalID(externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find user", Err: err}
	}

	msg, err := l.messageDAO.Get(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find message", Err: err}
	}

	// Owner-scoped: a foreign chat is indistinguishable from a missing one
	chat, err := l.chatDAO.FindForOwner(msg.ChatID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find chat", Err: err}
	}

	if msg.Role != models.RoleUser {
		return nil, &pkg.ValidationError{Msg: "only user messages can be regenerated"}
	}

	prompt := msg.Content
	history, err := l.messageDAO.RecentBefore(chat.ID, msg.CreatedAt, contextWindow)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "load context", Err: err}
	}
	if len(history) > 0 {
		prompt = buildContextPrompt(history) + "\nUser: " + msg.Content
	}

	completion, err := pkg.CompleteWithRetry(ctx, l.radon, prompt, pkg.Options{
		MaxNewTokens:    l.defaults.MaxNewTokens,
		Temperature:     l.defaults.Temperature,
		EnableFunctions: true,
		Personality:     defaultPersonality,
		ConversationID:  chat.ID.String(),
		UserID:          user.ExternalID,
	})
	if err != nil {
		return nil, err
	}

	answer := &models.Message{
		ChatID:  chat.ID,
		Role:    models.RoleAssistant,
		Content: completion.Text,
	}
	if len(completion.FunctionCalls) > 0 {
		answer.FunctionCalls = []byte(completion.FunctionCalls)
	}
	if completion.PersonalityUsed != "" {
		answer.PersonalityUsed = &completion.PersonalityUsed
	}
	if completion.ConversationID != "" {
		answer.ConversationID = &completion.ConversationID
	}
	if _, err := l.messageDAO.Create(answer); err != nil {
		return nil, &pkg.PersistenceError{Op: "create regenerated message", Err: err}
	}

	if err := l.chatDAO.Touch(chat.ID); err != nil {
		l.log.Warn("failed to touch chat", "chat_id", chat.ID, "error", err)
	}

	l.publishMessageSent(user.ID, chat.ID, answer.ID, completion.TokensUsed)

	return answer, nil
}

// ListMessages retrieves all messages in an owner-scoped chat
func (l *MessageLogic) ListMessages(externalUserID string, chatID uuid.UUID) ([]models.Message, error) {
	user, err := l.userDAO.GetByExternalID(externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find user", Err: err}
	}
	if _, err := l.chatDAO.FindForOwner(chatID, user.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find chat", Err: err}
	}
	msgs, err := l.messageDAO.ListByChat(chatID)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "list messages", Err: err}
	}
	return msgs, nil
}

// EditMessage overwrites a user message's content, recording the previous
// content in the edit history first. Only user-role messages are editable.
func (l *MessageLogic) EditMessage(externalUserID string, chatID, messageID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &pkg.ValidationError{Msg: "content is required"}
	}

	msg, err := l.resolveUserMessage(externalUserID, chatID, messageID)
	if err != nil {
		return nil, err
	}

	updated, err := l.messageDAO.Edit(msg.ID, msg.Content, content)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "edit message", Err: err}
	}

	l.publishEvent(bus.TopicMessageUpdated, updated.ChatID, updated.ID)
	return updated, nil
}

// DeleteMessage removes a user message. Assistant messages cannot be removed
// by the end user.
func (l *MessageLogic) DeleteMessage(externalUserID string, chatID, messageID uuid.UUID) error {
	msg, err := l.resolveUserMessage(externalUserID, chatID, messageID)
	if err != nil {
		return err
	}
	if err := l.messageDAO.Delete(msg.ID); err != nil {
		return &pkg.PersistenceError{Op: "delete message", Err: err}
	}
	l.publishEvent(bus.TopicMessageDeleted, msg.ChatID, msg.ID)
	return nil
}

// EditHistory lists the prior versions of a message, newest first
func (l *MessageLogic) EditHistory(externalUserID string, chatID, messageID uuid.UUID) ([]models.MessageEdit, error) {
	msg, err := l.resolveMessage(externalUserID, chatID, messageID)
	if err != nil {
		return nil, err
	}
	edits, err := l.messageDAO.EditHistory(msg.ID)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "list edits", Err: err}
	}
	return edits, nil
}

// resolveMessage loads a message after the owner-scoped chat check
func (l *MessageLogic) resolveMessage(externalUserID string, chatID, messageID uuid.UUID) (*models.Message, error) {
	user, err := l.userDAO.GetByExternalID(externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find user", Err: err}
	}
	if _, err := l.chatDAO.FindForOwner(chatID, user.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find chat", Err: err}
	}
	msg, err := l.messageDAO.GetInChat(messageID, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find message", Err: err}
	}
	return msg, nil
}

func (l *MessageLogic) resolveUserMessage(externalUserID string, chatID, messageID uuid.UUID) (*models.Message, error) {
	msg, err := l.resolveMessage(externalUserID, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != models.RoleUser {
		return nil, &pkg.ValidationError{Msg: "can only modify user messages"}
	}
	return msg, nil
}

func (l *MessageLogic) publishMessageSent(userID, chatID, messageID uuid.UUID, tokens int64) {
	if l.bus == nil {
		return
	}
	payload := bus.MessageSentPayload{
		UserID:     userID,
		ChatID:     chatID,
		MessageID:  messageID,
		TokensUsed: tokens,
	}
	if err := l.bus.Publish(context.Background(), bus.TopicMessageSent, payload); err != nil {
		l.log.Warn("failed to publish message.sent", "error", err)
	}
}

func (l *MessageLogic) publishEvent(topic bus.Topic, chatID, messageID uuid.UUID) {
	if l.bus == nil {
		return
	}
	payload := map[string]string{"chat_id": chatID.String(), "message_id": messageID.String()}
	if err := l.bus.Publish(context.Background(), topic, payload); err != nil {
		l.log.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// buildContextPrompt renders prior turns into a plain-text transcript
func buildContextPrompt(history []models.Message) string {
	var b strings.Builder
	for i, msg := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		speaker := "Radon AI"
		if msg.Role == models.RoleUser {
			speaker = "User"
		}
		fmt.Fprintf(&b, "%s: %s", speaker, msg.Content)
	}
	return b.String()
}
