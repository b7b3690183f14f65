package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"radon-backend/dao"
	"radon-backend/logic"
	"radon-backend/middleware"
	"radon-backend/models"
	"radon-backend/pkg"
	"radon-backend/pkg/bus"
)

const testSecret = "test-secret"

type scriptedStream struct {
	frags    []pkg.Fragment
	terminal error
	idx      int
}

func (s *scriptedStream) Recv() (pkg.Fragment, error) {
	if s.idx < len(s.frags) {
		frag := s.frags[s.idx]
		s.idx++
		return frag, nil
	}
	if s.terminal != nil {
		return pkg.Fragment{}, s.terminal
	}
	return pkg.Fragment{}, io.EOF
}

func (s *scriptedStream) Close() {}

type scriptedInference struct {
	stream     *scriptedStream
	completion *pkg.Completion
	opened     int
}

func (s *scriptedInference) OpenStream(ctx context.Context, prompt string, opts pkg.Options) (pkg.Stream, error) {
	s.opened++
	return s.stream, nil
}

func (s *scriptedInference) Complete(ctx context.Context, prompt string, opts pkg.Options) (*pkg.Completion, error) {
	if s.completion == nil {
		return nil, errors.New("no completion scripted")
	}
	return s.completion, nil
}

type apiFixture struct {
	router     *gin.Engine
	db         *gorm.DB
	messageDAO *dao.MessageDAO
	radon      *scriptedInference
	user       *models.User
	chat       *models.Chat
	token      string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Chat{}, &models.Message{},
		&models.MessageEdit{}, &models.UsageRecord{},
	))

	userDAO := dao.NewUserDAO(db)
	chatDAO := dao.NewChatDAO(db)
	messageDAO := dao.NewMessageDAO(db)

	user, _, err := userDAO.FindOrCreate("ext-user", "u@example.com", "Test User")
	require.NoError(t, err)
	chat, err := chatDAO.Create(user.ID, "api test chat")
	require.NoError(t, err)

	radon := &scriptedInference{}
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageLogic := logic.NewMessageLogic(userDAO, chatDAO, messageDAO, radon, memBus,
		logic.GenerationDefaults{MaxNewTokens: 512, Temperature: 0.7}, log)
	messageCtrl := NewMessageController(messageLogic, log)
	chatLogic := logic.NewChatLogic(userDAO, chatDAO, memBus, log)
	chatCtrl := NewChatController(chatLogic)

	r := gin.New()
	auth := middleware.Auth(testSecret)
	r.POST("/chats", auth, chatCtrl.CreateChat)
	r.POST("/chats/:id/stream", auth, messageCtrl.StreamTurn)
	r.GET("/chats/:id/messages", auth, messageCtrl.GetMessages)
	r.POST("/messages/regenerate", auth, messageCtrl.Regenerate)

	return &apiFixture{
		router: r, db: db, messageDAO: messageDAO,
		radon: radon, user: user, chat: chat,
		token: signToken(t, user.ExternalID),
	}
}

func signToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *apiFixture) streamRequest(t *testing.T, chatID, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chats/"+chatID+"/stream", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type frame struct {
	MessageID    string  `json:"messageId"`
	Content      string  `json:"content"`
	Done         bool    `json:"done"`
	FullResponse *string `json:"fullResponse"`
	Error        string  `json:"error"`
}

// parseFrames splits an SSE body into its decoded data frames
func parseFrames(t *testing.T, body string) []frame {
	t.Helper()
	var frames []frame
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "unexpected SSE chunk: %q", chunk)
		var fr frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &fr))
		frames = append(frames, fr)
	}
	return frames
}

func TestStreamTurnHappyPath(t *testing.T) {
	f := newAPIFixture(t)
	f.radon.stream = &scriptedStream{frags: []pkg.Fragment{
		{Content: "Hi "},
		{Content: "there!", TokensUsed: 9},
	}}

	w := f.streamRequest(t, f.chat.ID.String(), f.token, `{"content":"hello"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := parseFrames(t, w.Body.String())
	require.Len(t, frames, 4)

	// Placeholder announcement
	assert.NotEmpty(t, frames[0].MessageID)
	assert.Equal(t, "", frames[0].Content)
	assert.False(t, frames[0].Done)

	// Fragments in arrival order, all on the same message id
	assert.Equal(t, "Hi ", frames[1].Content)
	assert.Equal(t, "there!", frames[2].Content)
	assert.Equal(t, frames[0].MessageID, frames[1].MessageID)
	assert.Equal(t, frames[0].MessageID, frames[2].MessageID)

	// Terminal frame carries the complete text
	assert.True(t, frames[3].Done)
	require.NotNil(t, frames[3].FullResponse)
	assert.Equal(t, "Hi there!", *frames[3].FullResponse)

	// Durable state matches what the client was told
	placeholderID, err := uuid.Parse(frames[0].MessageID)
	require.NoError(t, err)
	stored, err := f.messageDAO.Get(placeholderID)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", stored.Content)
	assert.Equal(t, models.RoleAssistant, stored.Role)
}

func TestStreamTurnUnauthenticated(t *testing.T) {
	f := newAPIFixture(t)

	w := f.streamRequest(t, f.chat.ID.String(), "", `{"content":"hello"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, f.radon.opened)

	msgs, err := f.messageDAO.ListByChat(f.chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStreamTurnEmptyContent(t *testing.T) {
	f := newAPIFixture(t)

	w := f.streamRequest(t, f.chat.ID.String(), f.token, `{"content":"   "}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, f.radon.opened)

	frames := parseFrames(t, w.Body.String())
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Done)
	assert.NotEmpty(t, frames[0].Error)

	msgs, err := f.messageDAO.ListByChat(f.chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStreamTurnForeignChat(t *testing.T) {
	f := newAPIFixture(t)
	strangerToken := func() string {
		userDAO := dao.NewUserDAO(f.db)
		_, _, err := userDAO.FindOrCreate("ext-stranger", "", "")
		require.NoError(t, err)
		return signToken(t, "ext-stranger")
	}()

	foreign := f.streamRequest(t, f.chat.ID.String(), strangerToken, `{"content":"hello"}`)
	missing := f.streamRequest(t, uuid.New().String(), f.token, `{"content":"hello"}`)

	// Foreign and missing chats are indistinguishable to the caller
	assert.Equal(t, http.StatusNotFound, foreign.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, 0, f.radon.opened)

	frames := parseFrames(t, foreign.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "Chat not found", frames[0].Error)
}

func TestStreamTurnUpstreamErrorAfterCommit(t *testing.T) {
	f := newAPIFixture(t)
	f.radon.stream = &scriptedStream{
		frags:    []pkg.Fragment{{Content: "Par"}},
		terminal: errors.New("model overloaded"),
	}

	w := f.streamRequest(t, f.chat.ID.String(), f.token, `{"content":"hello"}`)

	// Headers were already committed, so the failure rides in-band
	assert.Equal(t, http.StatusOK, w.Code)
	frames := parseFrames(t, w.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "Par", frames[1].Content)
	assert.True(t, frames[2].Done)
	assert.Contains(t, frames[2].Error, "model overloaded")

	// Placeholder must not be finalized with the partial text
	placeholderID, err := uuid.Parse(frames[0].MessageID)
	require.NoError(t, err)
	stored, err := f.messageDAO.Get(placeholderID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.Content)
}

func TestStreamTurnDeadSocketWritesNoErrorFrame(t *testing.T) {
	f := newAPIFixture(t)
	f.radon.stream = &scriptedStream{
		frags: []pkg.Fragment{{Content: "Hal"}},
		terminal: &net.OpError{
			Op:  "write",
			Err: os.NewSyscallError("write", syscall.EPIPE),
		},
	}

	w := f.streamRequest(t, f.chat.ID.String(), f.token, `{"content":"hello"}`)

	// A broken pipe means the client is gone: no error frame follows
	frames := parseFrames(t, w.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "Hal", frames[1].Content)
	assert.False(t, frames[1].Done)

	placeholderID, err := uuid.Parse(frames[0].MessageID)
	require.NoError(t, err)
	stored, err := f.messageDAO.Get(placeholderID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.Content)
}

func TestRegenerateEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	userMsg, err := f.messageDAO.Create(&models.Message{
		ChatID: f.chat.ID, Role: models.RoleUser, Content: "explain gravity",
	})
	require.NoError(t, err)
	f.radon.completion = &pkg.Completion{Text: "Mass attracts mass.", TokensUsed: 7}

	body, _ := json.Marshal(gin.H{"messageId": userMsg.ID.String()})
	req := httptest.NewRequest(http.MethodPost, "/messages/regenerate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.RoleAssistant, got.Role)
	assert.Equal(t, "Mass attracts mass.", got.Content)

	msgs, err := f.messageDAO.ListByChat(f.chat.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestGetMessagesRequiresOwnership(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.messageDAO.Create(&models.Message{
		ChatID: f.chat.ID, Role: models.RoleUser, Content: "mine",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/chats/"+f.chat.ID.String()+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "mine", msgs[0].Content)

	req = httptest.NewRequest(http.MethodGet, "/chats/"+f.chat.ID.String()+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "nobody"))
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
