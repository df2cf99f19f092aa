package service

import (
	"context"
	"io"
	"iter"
	"log/slog"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/memochat/memochat/pkg/config"
	"github.com/memochat/memochat/pkg/models"
	"github.com/memochat/memochat/pkg/utils"
)

// ChunkStream yields text fragments from a streaming model response.
// Recv returns io.EOF when the upstream stream is exhausted; any other
// error means the stream failed mid-flight.
type ChunkStream interface {
	Recv() (string, error)
	Close()
}

// ModelGateway abstracts the upstream generative model. OpenStream
// starts a streaming turn with the given prior context and the new
// turn's content segments.
type ModelGateway interface {
	OpenStream(ctx context.Context, history []models.Entry, parts []models.Segment) (ChunkStream, error)
	// RequiresUserFirst reports whether the upstream rejects a context
	// that opens with a model-role entry.
	RequiresUserFirst() bool
}

// GeminiGateway talks to the Gemini API through the google genai client.
type GeminiGateway struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
	logger          *slog.Logger
}

// NewGeminiGateway initializes the genai client against the Gemini API
// backend using the configured key.
func NewGeminiGateway(ctx context.Context, cfg *config.AppConfig) (*GeminiGateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init gemini client")
	}
	return &GeminiGateway{
		client:          client,
		model:           cfg.Model(),
		maxOutputTokens: int32(cfg.MaxOutputTokens()),
		logger:          utils.GetLogger(),
	}, nil
}

// RequiresUserFirst is true for Gemini: a chat history opening with a
// model turn is rejected upstream.
func (g *GeminiGateway) RequiresUserFirst() bool { return true }

// OpenStream creates a chat session seeded with history and streams the
// response to the new turn's parts.
func (g *GeminiGateway) OpenStream(ctx context.Context, history []models.Entry, parts []models.Segment) (ChunkStream, error) {
	chat, err := g.client.Chats.Create(ctx, g.model, &genai.GenerateContentConfig{
		MaxOutputTokens: g.maxOutputTokens,
	}, toContents(history))
	if err != nil {
		return nil, errors.Wrap(err, "create chat session")
	}

	next, stop := iter.Pull2(chat.SendMessageStream(ctx, toParts(parts)...))
	return &geminiStream{next: next, stop: stop}, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		// Empty fragments (safety metadata, usage-only chunks) are
		// skipped rather than surfaced as empty text events.
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() { s.stop() }

func toContents(entries []models.Entry) []*genai.Content {
	contents := make([]*genai.Content, 0, len(entries))
	for _, entry := range entries {
		role := string(genai.RoleUser)
		if entry.Role == models.EntryRoleModel {
			role = string(genai.RoleModel)
		}
		segs := toParts(entry.Segments)
		parts := make([]*genai.Part, len(segs))
		for i := range segs {
			parts[i] = &segs[i]
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func toParts(segments []models.Segment) []genai.Part {
	parts := make([]genai.Part, 0, len(segments))
	for _, seg := range segments {
		switch seg.Type {
		case models.SegmentTypeText:
			parts = append(parts, genai.Part{Text: seg.Text})
		case models.SegmentTypeInline:
			parts = append(parts, genai.Part{InlineData: &genai.Blob{
				MIMEType: seg.MIMEType,
				Data:     seg.Data,
			}})
		}
	}
	return parts
}
