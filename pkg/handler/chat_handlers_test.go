package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/memochat/memochat/pkg/db"
	"github.com/memochat/memochat/pkg/models"
	"github.com/memochat/memochat/pkg/service"
)

type stubStream struct {
	chunks []string
	err    error
	pos    int
}

func (s *stubStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *stubStream) Close() {}

type stubGateway struct {
	chunks    []string
	streamErr error
	openErr   error
}

func (g *stubGateway) OpenStream(ctx context.Context, history []models.Entry, parts []models.Segment) (service.ChunkStream, error) {
	if g.openErr != nil {
		return nil, g.openErr
	}
	return &stubStream{chunks: g.chunks, err: g.streamErr}, nil
}

func (g *stubGateway) RequiresUserFirst() bool { return true }

type stubMemory struct{}

func (stubMemory) Retrieve(ctx context.Context, userID, query string) ([]models.MemoryFact, error) {
	return nil, nil
}

func (stubMemory) Store(ctx context.Context, userID string, facts []models.MemoryFact) error {
	return nil
}

func newTestRouter(t *testing.T, gateway service.ModelGateway) (*gin.Engine, *service.HistoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	history := service.NewHistoryStore(gormDB)
	chatService := service.NewChatService(history, stubMemory{}, service.NewAttachmentResolver(), gateway)
	h := NewChatHandler(chatService, history, t.TempDir())

	router := gin.New()
	h.RegisterRoutes(router.Group("/api"))
	return router, history
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestStreamChat_SSEFraming(t *testing.T) {
	router, _ := newTestRouter(t, &stubGateway{chunks: []string{"Hel", "lo"}})

	body, contentType := multipartBody(t, map[string]string{"message": "hi"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/gemini/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	want := `data: {"type":"text","content":"Hel"}` + "\n\n" +
		`data: {"type":"text","content":"lo"}` + "\n\n" +
		`data: {"type":"done","fileUrls":[]}` + "\n\n"
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestStreamChat_ValidationError(t *testing.T) {
	router, _ := newTestRouter(t, &stubGateway{chunks: []string{"x"}})

	body, contentType := multipartBody(t, map[string]string{"userId": "u1"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/gemini/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStreamChat_PreStreamFailure(t *testing.T) {
	router, _ := newTestRouter(t, &stubGateway{openErr: errors.New("model down")})

	body, contentType := multipartBody(t, map[string]string{"message": "hi"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/gemini/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if resp["message"] == "" || resp["error"] == "" {
		t.Fatalf("error body = %v", resp)
	}
}

func TestStreamChat_EmptyStreamErrorYields500(t *testing.T) {
	router, _ := newTestRouter(t, &stubGateway{streamErr: errors.New("quota exceeded")})

	body, contentType := multipartBody(t, map[string]string{"message": "hi"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/gemini/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("no SSE stream should have been opened, Content-Type = %q", ct)
	}
}

func TestStreamChat_FilesPersistedAndReported(t *testing.T) {
	router, history := newTestRouter(t, &stubGateway{chunks: []string{"seen"}})

	conv, err := history.CreateConversation("u1", "c")
	if err != nil {
		t.Fatal(err)
	}

	body, contentType := multipartBody(t,
		map[string]string{"userId": "u1", "chatId": conv.ID},
		map[string][]byte{"pic.png": {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/gemini/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"fileUrls":["`) {
		t.Fatalf("done event missing file urls: %s", rec.Body.String())
	}

	msgs, err := history.Messages(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(msgs))
	}
	if msgs[0].Content != "User uploaded file(s)" || len(msgs[0].Files) != 1 {
		t.Fatalf("user turn = %+v", msgs[0])
	}
	if msgs[1].Content != "seen" {
		t.Fatalf("assistant turn = %+v", msgs[1])
	}
}

func TestCreateAndListConversations(t *testing.T) {
	router, _ := newTestRouter(t, &stubGateway{})

	payload, _ := json.Marshal(models.CreateConversationRequest{Name: "My Chat", UserID: "u1"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/create", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat/get?userId=u1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Chats []db.Conversation `json:"chats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Chats) != 1 || resp.Chats[0].Heading != "My Chat" {
		t.Fatalf("chats = %+v", resp.Chats)
	}
}

func TestRenameConversation(t *testing.T) {
	router, history := newTestRouter(t, &stubGateway{})

	conv, err := history.CreateConversation("u1", "old name")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/chat/rename/"+conv.ID, strings.NewReader(`{"name":"new name"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got, err := history.GetConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Heading != "new name" {
		t.Fatalf("heading = %q, want %q", got.Heading, "new name")
	}

	req = httptest.NewRequest(http.MethodPut, "/api/chat/rename/missing", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetMessages_UnknownChat(t *testing.T) {
	router, _ := newTestRouter(t, &stubGateway{})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/messages/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
