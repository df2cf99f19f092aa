// Chat HTTP handlers - multipart chat endpoint with SSE streaming
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memochat/memochat/pkg/models"
	"github.com/memochat/memochat/pkg/service"
	"github.com/memochat/memochat/pkg/utils"
)

// maxUploadSize bounds a single uploaded file part.
const maxUploadSize = 10 << 20 // 10 MiB

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chatService *service.ChatService
	history     *service.HistoryStore
	uploadDir   string
	logger      *slog.Logger
}

// NewChatHandler creates a new chat handler. Uploaded files are written
// under uploadDir and referenced from there by persisted turns.
func NewChatHandler(chatService *service.ChatService, history *service.HistoryStore, uploadDir string) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		history:     history,
		uploadDir:   uploadDir,
		logger:      utils.GetLogger(),
	}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Streaming chat endpoint
	r.POST("/gemini/chat", h.StreamChat)

	// Conversation management
	chat := r.Group("/chat")
	{
		chat.POST("/create", h.CreateConversation)
		chat.GET("/get", h.ListConversations)
		chat.GET("/messages/:chatId", h.GetMessages)
		chat.PUT("/rename/:chatId", h.RenameConversation)
	}
}

// StreamChat handles the multipart chat request and streams the model's
// answer back as SSE.
// POST /api/gemini/chat
func (h *ChatHandler) StreamChat(c *gin.Context) {
	req := &models.ChatRequest{
		UserID:         c.DefaultPostForm("userId", models.GuestUserID),
		ConversationID: c.PostForm("chatId"),
		Message:        c.PostForm("message"),
	}

	form, err := c.MultipartForm()
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid multipart form", "error": err.Error()})
		return
	}
	var files []*multipart.FileHeader
	if form != nil {
		for _, fh := range form.File["files"] {
			if fh.Size > maxUploadSize {
				c.JSON(http.StatusBadRequest, gin.H{
					"message": "File too large",
					"error":   fmt.Sprintf("%s exceeds the %d byte limit", fh.Filename, maxUploadSize),
				})
				return
			}
			files = append(files, fh)
		}
	}

	if req.Message == "" && len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Message or files are required"})
		return
	}

	for _, fh := range files {
		dst := filepath.Join(h.uploadDir, uuid.New().String()+filepath.Ext(fh.Filename))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to store upload", "error": err.Error()})
			return
		}
		req.Attachments = append(req.Attachments, models.AttachmentRef{
			Location:     dst,
			DeclaredMIME: fh.Header.Get("Content-Type"),
		})
	}

	sse := NewSSEWriter(c.Writer)
	// Finalizer step failures are logged inside the pipeline.
	_, err = h.chatService.StreamChat(c.Request.Context(), req, sse.WriteEvent)
	if err != nil {
		// Nothing streamed yet, plain error response still possible.
		h.logger.Error("Chat pipeline failed before streaming", "chatId", req.ConversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to generate response", "error": err.Error()})
		return
	}
}

// CreateConversation creates a new chat thread
// POST /api/chat/create
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request format", "error": err.Error()})
		return
	}

	conversation, err := h.history.CreateConversation(req.UserID, req.Name)
	if err != nil {
		h.logger.Error("Failed to create conversation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create chat", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": conversation})
}

// ListConversations lists a user's chat threads
// GET /api/chat/get?userId=
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "userId is required"})
		return
	}

	conversations, err := h.history.ListConversations(userID)
	if err != nil {
		h.logger.Error("Failed to list conversations", "userId", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to get chats", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": conversations})
}

// RenameConversation updates a chat thread's heading
// PUT /api/chat/rename/:chatId
func (h *ChatHandler) RenameConversation(c *gin.Context) {
	chatID := c.Param("chatId")

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request format", "error": err.Error()})
		return
	}

	if err := h.history.RenameConversation(chatID, req.Name); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Chat not found"})
			return
		}
		h.logger.Error("Failed to rename conversation", "chatId", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to rename chat", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat renamed"})
}

// GetMessages returns all turns of a conversation in creation order
// GET /api/chat/messages/:chatId
func (h *ChatHandler) GetMessages(c *gin.Context) {
	chatID := c.Param("chatId")

	if _, err := h.history.GetConversation(chatID); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Chat not found"})
			return
		}
		h.logger.Error("Failed to get conversation", "chatId", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to get chat", "error": err.Error()})
		return
	}

	messages, err := h.history.Messages(chatID)
	if err != nil {
		h.logger.Error("Failed to get messages", "chatId", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to get messages", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SSEWriter wraps gin.ResponseWriter for proper SSE streaming. Headers
// go out with the first event, so a request that fails before streaming
// can still send a plain error response.
type SSEWriter struct {
	writer  gin.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w gin.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{
		writer:  w,
		flusher: flusher,
	}
}

// WriteEvent writes one SSE data event and flushes it
func (w *SSEWriter) WriteEvent(event models.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if !w.started {
		w.started = true
		header := w.writer.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	}

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
