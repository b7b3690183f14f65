package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"radon-backend/logic"
)

// ChatController handles HTTP requests for chats
type ChatController struct {
	chatLogic *logic.ChatLogic
}

func NewChatController(chatLogic *logic.ChatLogic) *ChatController {
	return &ChatController{chatLogic: chatLogic}
}

// CreateChat handles POST /chats
func (c *ChatController) CreateChat(ctx *gin.Context) {
	type Request struct {
		Title string `json:"title"`
	}
	var req Request
	// An empty body is fine: the title defaults
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	chat, err := c.chatLogic.CreateChat(userID, req.Title)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, chat)
}

// GetChats handles GET /chats
func (c *ChatController) GetChats(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	chats, err := c.chatLogic.ListChats(userID)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, chats)
}

// RenameChat handles PUT /chats/:id
func (c *ChatController) RenameChat(ctx *gin.Context) {
	type Request struct {
		Title string `json:"title" binding:"required"`
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

	chat, err := c.chatLogic.RenameChat(userID, chatID, req.Title)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, chat)
}

// DeleteChat handles DELETE /chats/:id
func (c *ChatController) DeleteChat(ctx *gin.Context) {
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

	if err := c.chatLogic.DeleteChat(userID, chatID); err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
