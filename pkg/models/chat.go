// API types for the chat endpoint
package models

// ChatRequest is the parsed multipart chat request.
// UserID defaults to "guest"; guests get no long-term memory.
// ConversationID is optional; without it nothing is persisted.
type ChatRequest struct {
	UserID         string          `json:"user_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        string          `json:"message,omitempty"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
}

// GuestUserID is the anonymous caller identity.
const GuestUserID = "guest"

// IsGuest reports whether the request came from an unauthenticated caller.
func (r *ChatRequest) IsGuest() bool {
	return r.UserID == "" || r.UserID == GuestUserID
}

// Stream event kinds on the SSE wire.
const (
	EventTypeText = "text"
	EventTypeDone = "done"
)

// StreamEvent is one SSE data payload.
// Text events carry Content; the single final done event carries FileURLs.
type StreamEvent struct {
	Type     string   `json:"type"`
	Content  string   `json:"content,omitempty"`
	FileURLs []string `json:"fileUrls,omitzero"`
}

// TextEvent builds a text stream event.
func TextEvent(content string) StreamEvent {
	return StreamEvent{Type: EventTypeText, Content: content}
}

// DoneEvent builds the terminal stream event. fileUrls is always present
// in the payload, even when empty.
func DoneEvent(fileURLs []string) StreamEvent {
	if fileURLs == nil {
		fileURLs = []string{}
	}
	return StreamEvent{Type: EventTypeDone, FileURLs: fileURLs}
}

// StepResult reports the outcome of one best-effort side effect from the
// post-stream finalizer. A nil Err means the step succeeded; a non-nil
// Err was logged and swallowed, never surfaced to the client.
type StepResult struct {
	Step string
	Err  error
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool { return r.Err == nil }

// CreateConversationRequest creates a chat thread.
type CreateConversationRequest struct {
	Name   string `json:"name" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}
