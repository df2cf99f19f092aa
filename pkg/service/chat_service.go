// Chat pipeline: context retrieval, streaming relay, post-stream persistence
package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/memochat/memochat/pkg/db"
	"github.com/memochat/memochat/pkg/models"
	"github.com/memochat/memochat/pkg/utils"
)

// attachmentOnlyQuery stands in for the message text when a turn carries
// files but no words, both for memory retrieval and for the persisted
// user turn.
const attachmentOnlyQuery = "User uploaded file(s)"

// Finalizer step names reported in StepResult.
const (
	StepHistory = "history"
	StepMemory  = "memory"
)

// HistoryRepository is the slice of the history store the pipeline needs.
type HistoryRepository interface {
	Messages(conversationID string) ([]db.Message, error)
	AppendMessage(msg *db.Message) (*db.Message, error)
}

// MemoryAdapter is the long-term memory surface the pipeline needs.
type MemoryAdapter interface {
	Retrieve(ctx context.Context, userID, query string) ([]models.MemoryFact, error)
	Store(ctx context.Context, userID string, facts []models.MemoryFact) error
}

// ChatService runs one chat exchange end to end: gather context, stream
// the model's answer through emit, then persist the finished exchange.
type ChatService struct {
	history   HistoryRepository
	memory    MemoryAdapter
	resolver  *AttachmentResolver
	assembler *ContextAssembler
	gateway   ModelGateway
	logger    *slog.Logger
}

// NewChatService wires the pipeline from its collaborators.
func NewChatService(history HistoryRepository, memory MemoryAdapter, resolver *AttachmentResolver, gateway ModelGateway) *ChatService {
	return &ChatService{
		history:   history,
		memory:    memory,
		resolver:  resolver,
		assembler: NewContextAssembler(resolver),
		gateway:   gateway,
		logger:    utils.GetLogger(),
	}
}

// StreamChat executes the exchange. Events are delivered through emit in
// arrival order; an emit error means the client is gone and stops the
// drain. The returned error is non-nil only for failures before the
// first byte of the stream; everything after that is absorbed into the
// stream's early termination and the best-effort finalizer, whose step
// outcomes are returned for inspection.
func (s *ChatService) StreamChat(ctx context.Context, req *models.ChatRequest, emit func(models.StreamEvent) error) ([]models.StepResult, error) {
	query := req.Message
	if query == "" {
		query = attachmentOnlyQuery
	}

	// Retrieval fan-in. Every source is best-effort: a failed read
	// contributes nothing and the exchange proceeds with whatever
	// context remains.
	var (
		wg          sync.WaitGroup
		memEntries  []models.Entry
		histEntries []models.Entry
		attachments []models.Segment
	)

	// Guests never write memory, so there is nothing to read back.
	if !req.IsGuest() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			facts, err := s.memory.Retrieve(ctx, req.UserID, query)
			if err != nil {
				s.logger.Warn("Memory retrieval failed, continuing without facts", "userId", req.UserID, "error", err)
				return
			}
			memEntries = s.assembler.FromMemory(facts)
		}()
	}

	if req.ConversationID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, err := s.history.Messages(req.ConversationID)
			if err != nil {
				s.logger.Warn("History fetch failed, continuing without history", "chatId", req.ConversationID, "error", err)
				return
			}
			histEntries = s.assembler.FromHistory(ctx, msgs)
		}()
	}

	if len(req.Attachments) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attachments = s.resolver.Resolve(ctx, req.Attachments)
		}()
	}
	wg.Wait()

	var parts []models.Segment
	if req.Message != "" {
		parts = append(parts, models.TextSegment(req.Message))
	}
	parts = append(parts, attachments...)

	history := s.assembler.Assemble(memEntries, histEntries, s.gateway.RequiresUserFirst())

	stream, err := s.gateway.OpenStream(ctx, history, parts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var answer string
	received := false
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Before the first chunk the stream never really opened;
			// that is the caller's fatal error, nothing to persist.
			if !received {
				return nil, err
			}
			// Mid-stream failure: keep what we have, the done event
			// and the finalizer still run.
			s.logger.Warn("Model stream ended early", "chatId", req.ConversationID, "error", err)
			break
		}
		received = true
		answer += chunk
		if emitErr := emit(models.TextEvent(chunk)); emitErr != nil {
			s.logger.Warn("Client went away mid-stream", "chatId", req.ConversationID, "error", emitErr)
			break
		}
	}

	fileURLs := make([]string, 0, len(req.Attachments))
	for _, ref := range req.Attachments {
		fileURLs = append(fileURLs, ref.Location)
	}
	if emitErr := emit(models.DoneEvent(fileURLs)); emitErr != nil {
		s.logger.Warn("Failed to deliver done event", "chatId", req.ConversationID, "error", emitErr)
	}

	// Finalization must outlive a client disconnect.
	return s.finalize(context.WithoutCancel(ctx), req, answer, fileURLs), nil
}

// finalize writes the finished exchange: the user and assistant turns to
// the history store when the exchange belongs to a conversation, and
// both sides to long-term memory for authenticated users. The two writes
// are isolated; each outcome is reported and logged, never retried.
func (s *ChatService) finalize(ctx context.Context, req *models.ChatRequest, answer string, fileURLs []string) []models.StepResult {
	userText := req.Message
	if userText == "" {
		userText = attachmentOnlyQuery
	}

	var results []models.StepResult

	if req.ConversationID != "" {
		results = append(results, models.StepResult{
			Step: StepHistory,
			Err:  s.appendTurns(req.ConversationID, userText, answer, fileURLs),
		})
	}

	if !req.IsGuest() {
		results = append(results, models.StepResult{
			Step: StepMemory,
			Err: s.memory.Store(ctx, req.UserID, []models.MemoryFact{
				{Role: db.RoleUser, Text: userText},
				{Role: db.RoleAssistant, Text: answer},
			}),
		})
	}

	for _, res := range results {
		if !res.OK() {
			s.logger.Warn("Finalizer step failed", "step", res.Step, "chatId", req.ConversationID, "error", res.Err)
		}
	}
	return results
}

func (s *ChatService) appendTurns(conversationID, userText, answer string, fileURLs []string) error {
	if _, err := s.history.AppendMessage(&db.Message{
		ConversationID: conversationID,
		Role:           db.RoleUser,
		Content:        userText,
		Files:          fileURLs,
	}); err != nil {
		return err
	}
	_, err := s.history.AppendMessage(&db.Message{
		ConversationID: conversationID,
		Role:           db.RoleAssistant,
		Content:        answer,
	})
	return err
}
