package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"radon-backend/logic"
	"radon-backend/pkg"
)

// SSE frame shapes. The error frame deliberately carries nothing but the
// error: once headers are committed this is the only failure channel left.
type dataFrame struct {
	MessageID    string  `json:"messageId"`
	Content      string  `json:"content"`
	Done         bool    `json:"done"`
	FullResponse *string `json:"fullResponse,omitempty"`
}

type errorFrame struct {
	Error string `json:"error"`
	Done  bool   `json:"done"`
}

// MessageController handles HTTP requests for messages, including the
// streaming turn endpoint.
type MessageController struct {
	messageLogic *logic.MessageLogic
	log          *slog.Logger
}

func NewMessageController(messageLogic *logic.MessageLogic, log *slog.Logger) *MessageController {
	return &MessageController{messageLogic: messageLogic, log: log}
}

func sseHeaders(ctx *gin.Context) {
	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
}

// writeFrame encodes one data: frame and flushes it to the client
func writeFrame(ctx *gin.Context, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(ctx.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	ctx.Writer.Flush()
	return nil
}

// failBeforeStream reports a pre-stream failure: headers are not committed
// yet, so the status code can still carry the error class, with the message
// encoded as a single SSE error frame for clients already reading the body.
func failBeforeStream(ctx *gin.Context, status int, msg string) {
	sseHeaders(ctx)
	ctx.Status(status)
	data, _ := json.Marshal(errorFrame{Error: msg, Done: true})
	fmt.Fprintf(ctx.Writer, "data: %s\n\n", data)
	ctx.Writer.Flush()
}

// StreamTurn handles POST /chats/:id/stream. It persists the user message,
// announces an empty assistant placeholder, relays fragments from the
// inference stream as they arrive, and finalizes the placeholder when the
// stream completes.
func (c *MessageController) StreamTurn(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		failBeforeStream(ctx, http.StatusUnauthorized, "Unauthorized")
		return
	}

	chatID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		failBeforeStream(ctx, http.StatusNotFound, "Chat not found")
		return
	}

	type Request struct {
		Content  string `json:"content"`
		ImageURL string `json:"imageUrl"`
	}
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		failBeforeStream(ctx, http.StatusBadRequest, "Content is required")
		return
	}

	session, err := c.messageLogic.PrepareTurn(userID, chatID, logic.StreamRequest{
		Content:  req.Content,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		status, msg := statusFor(err)
		if errors.Is(err, pkg.ErrNotFound) {
			msg = "Chat not found"
		}
		failBeforeStream(ctx, status, msg)
		return
	}

	// Headers commit here; everything after this is in-band
	sseHeaders(ctx)
	ctx.Status(http.StatusOK)

	messageID := session.Placeholder.ID.String()
	if err := writeFrame(ctx, dataFrame{MessageID: messageID, Content: "", Done: false}); err != nil {
		return
	}

	fullResponse, err := c.messageLogic.RunStream(ctx.Request.Context(), session, func(content string) error {
		return writeFrame(ctx, dataFrame{MessageID: messageID, Content: content, Done: false})
	})
	if err != nil {
		if pkg.IsClientAbort(err) || ctx.Request.Context().Err() != nil {
			// Nobody left to tell; resources are already released
			c.log.Debug("client disconnected mid-stream", "chat_id", chatID, "message_id", messageID)
			return
		}
		c.log.Error("streaming failed", "chat_id", chatID, "message_id", messageID, "error", err)
		writeFrame(ctx, errorFrame{Error: err.Error(), Done: true})
		return
	}

	writeFrame(ctx, dataFrame{
		MessageID:    messageID,
		Content:      "",
		Done:         true,
		FullResponse: &fullResponse,
	})
}

// GetMessages handles GET /chats/:id/messages
func (c *MessageController) GetMessages(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	chatID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}

	messages, err := c.messageLogic.ListMessages(userID, chatID)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, messages)
}

// EditMessage handles PUT /chats/:id/messages/:messageId
func (c *MessageController) EditMessage(ctx *gin.Context) {
	type Request struct {
		Content string `json:"content" binding:"required"`
	}
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	chatID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}
	messageID, err := uuid.Parse(ctx.Param("messageId"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}

	msg, err := c.messageLogic.EditMessage(userID, chatID, messageID, req.Content)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /chats/:id/messages/:messageId
func (c *MessageController) DeleteMessage(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	chatID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}
	messageID, err := uuid.Parse(ctx.Param("messageId"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}

	if err := c.messageLogic.DeleteMessage(userID, chatID, messageID); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// GetEditHistory handles GET /chats/:id/messages/:messageId/history
func (c *MessageController) GetEditHistory(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	chatID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}
	messageID, err := uuid.Parse(ctx.Param("messageId"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}

	edits, err := c.messageLogic.EditHistory(userID, chatID, messageID)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, edits)
}

// Regenerate handles POST /messages/regenerate
func (c *MessageController) Regenerate(ctx *gin.Context) {
	type Request struct {
		MessageID string `json:"messageId" binding:"required"`
	}
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}

	msg, err := c.messageLogic.Regenerate(ctx.Request.Context(), userID, messageID)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, msg)
}
