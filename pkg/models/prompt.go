// Prompt context types passed to the model gateway.
// These are transient request-scoped structures; nothing here is persisted.
package models

// EntryRole is the speaker role of a prompt context entry.
// The Gemini API knows exactly two: "user" and "model".
type EntryRole string

const (
	EntryRoleUser  EntryRole = "user"
	EntryRoleModel EntryRole = "model"
)

// SegmentType discriminates the Segment variants.
type SegmentType string

const (
	SegmentTypeText   SegmentType = "text"
	SegmentTypeInline SegmentType = "inline"
)

// Segment is one piece of entry content: either plain text or inline
// binary data (an attachment resolved to bytes plus its MIME type).
type Segment struct {
	Type     SegmentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	MIMEType string      `json:"mime_type,omitempty"`
	Data     []byte      `json:"data,omitempty"`
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Type: SegmentTypeText, Text: text}
}

// InlineBinarySegment builds an inline binary segment.
func InlineBinarySegment(mimeType string, data []byte) Segment {
	return Segment{Type: SegmentTypeInline, MIMEType: mimeType, Data: data}
}

// Entry is one ordered element of the assembled prompt context.
type Entry struct {
	Role     EntryRole `json:"role"`
	Segments []Segment `json:"segments"`
}

// MemoryFact is an opaque record held by the external memory service,
// keyed by user. Validated at the adapter boundary; Role is always
// "user" or "assistant" after validation.
type MemoryFact struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// AttachmentRef points at attachment content that has not been resolved
// yet: either a local path on disk or a remote URL. DeclaredMIME is the
// type the uploader claimed, which may be empty.
type AttachmentRef struct {
	Location     string `json:"location"`
	DeclaredMIME string `json:"mime_type,omitempty"`
}
