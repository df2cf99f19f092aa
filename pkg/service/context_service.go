// Prompt context assembly: memory facts + stored history, filtered into
// an alternating sequence the model will accept
package service

import (
	"context"
	"log/slog"

	"github.com/memochat/memochat/pkg/db"
	"github.com/memochat/memochat/pkg/models"
	"github.com/memochat/memochat/pkg/utils"
)

// ContextAssembler merges long-term memory facts and stored turns into
// the ordered prompt context. Getting the alternation wrong makes the
// upstream model reject the whole call, so the filter is a single
// deterministic left-to-right scan: offending entries are dropped in
// place, never reordered.
type ContextAssembler struct {
	resolver *AttachmentResolver
	logger   *slog.Logger
}

// NewContextAssembler creates an assembler using the given resolver for
// historical attachments.
func NewContextAssembler(resolver *AttachmentResolver) *ContextAssembler {
	return &ContextAssembler{
		resolver: resolver,
		logger:   utils.GetLogger(),
	}
}

// FromMemory maps memory facts onto prompt entries. The fact's stored
// speaker decides the role: the user's own statements stay "user",
// assistant statements become "model". Relative order is preserved.
func (a *ContextAssembler) FromMemory(facts []models.MemoryFact) []models.Entry {
	entries := make([]models.Entry, 0, len(facts))
	for _, fact := range facts {
		if fact.Text == "" {
			continue
		}
		role := models.EntryRoleUser
		if fact.Role == db.RoleAssistant {
			role = models.EntryRoleModel
		}
		entries = append(entries, models.Entry{
			Role:     role,
			Segments: []models.Segment{models.TextSegment(fact.Text)},
		})
	}
	return entries
}

// FromHistory maps stored turns onto prompt entries, resolving each
// turn's attachments into inline segments. An unretrievable attachment
// contributes nothing; the turn's remaining content still flows through.
func (a *ContextAssembler) FromHistory(ctx context.Context, messages []db.Message) []models.Entry {
	entries := make([]models.Entry, 0, len(messages))
	for _, msg := range messages {
		var segments []models.Segment
		if msg.Content != "" {
			segments = append(segments, models.TextSegment(msg.Content))
		}

		if len(msg.Files) > 0 {
			refs := make([]models.AttachmentRef, 0, len(msg.Files))
			for _, f := range msg.Files {
				refs = append(refs, models.AttachmentRef{Location: f})
			}
			segments = append(segments, a.resolver.Resolve(ctx, refs)...)
		}

		role := models.EntryRoleUser
		if msg.Role == db.RoleAssistant {
			role = models.EntryRoleModel
		}
		entries = append(entries, models.Entry{Role: role, Segments: segments})
	}
	return entries
}

// Assemble concatenates memory entries then history entries (each source
// keeps its own chronological order; the two are not interleaved) and
// filters the result in one pass:
//
//  1. entries with no content segments are dropped;
//  2. an entry whose role equals the previous kept entry's role is
//     dropped, enforcing alternation;
//  3. when requireUserFirst is set, a leading run of model entries is
//     dropped until the first user entry.
func (a *ContextAssembler) Assemble(memory, history []models.Entry, requireUserFirst bool) []models.Entry {
	combined := make([]models.Entry, 0, len(memory)+len(history))
	combined = append(combined, memory...)
	combined = append(combined, history...)

	out := make([]models.Entry, 0, len(combined))
	for _, entry := range combined {
		if len(entry.Segments) == 0 {
			continue
		}
		if requireUserFirst && len(out) == 0 && entry.Role == models.EntryRoleModel {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Role == entry.Role {
			continue
		}
		out = append(out, entry)
	}

	if dropped := len(combined) - len(out); dropped > 0 {
		a.logger.Debug("Context filter dropped entries", "dropped", dropped, "kept", len(out))
	}
	return out
}
