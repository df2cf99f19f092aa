// Attachment resolution: file references to inline binary prompt segments
package service

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/memochat/memochat/pkg/models"
	"github.com/memochat/memochat/pkg/utils"
)

const (
	attachmentFetchTimeout = 10 * time.Second
	genericMIMEType        = "application/octet-stream"
)

// AttachmentResolver turns attachment references into inline binary
// segments. Results are not cached: every call re-fetches.
type AttachmentResolver struct {
	client *http.Client
	logger *slog.Logger
}

// NewAttachmentResolver creates a resolver with a bounded fetch timeout.
func NewAttachmentResolver() *AttachmentResolver {
	return &AttachmentResolver{
		client: &http.Client{Timeout: attachmentFetchTimeout},
		logger: utils.GetLogger(),
	}
}

// Resolve fetches every reference concurrently and returns the segments
// that resolved, in the order the references were given. A failed item
// is logged and dropped; it never fails the batch.
func (r *AttachmentResolver) Resolve(ctx context.Context, refs []models.AttachmentRef) []models.Segment {
	if len(refs) == 0 {
		return nil
	}

	resolved := make([]*models.Segment, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			seg, err := r.resolveOne(gctx, ref)
			if err != nil {
				r.logger.Warn("Skipping unresolvable attachment", "location", ref.Location, "error", err)
				return nil
			}
			resolved[i] = &seg
			return nil
		})
	}
	// Workers swallow their own errors; Wait only orders the fan-in.
	_ = g.Wait()

	segments := make([]models.Segment, 0, len(refs))
	for _, seg := range resolved {
		if seg != nil {
			segments = append(segments, *seg)
		}
	}
	return segments
}

func (r *AttachmentResolver) resolveOne(ctx context.Context, ref models.AttachmentRef) (models.Segment, error) {
	if strings.HasPrefix(ref.Location, "http://") || strings.HasPrefix(ref.Location, "https://") {
		return r.fetchRemote(ctx, ref)
	}
	return r.readLocal(ref)
}

// fetchRemote downloads a remote attachment. For origins that support
// on-the-fly transcoding (Cloudinary-style), f_auto/fl_lossy ask for a
// normalized lossy rendition to bound payload size.
func (r *AttachmentResolver) fetchRemote(ctx context.Context, ref models.AttachmentRef) (models.Segment, error) {
	u, err := url.Parse(ref.Location)
	if err != nil {
		return models.Segment{}, errors.Wrap(err, "parse attachment url")
	}

	q := u.Query()
	q.Set("f_auto", "true")
	q.Set("fl_lossy", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Segment{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return models.Segment{}, errors.Wrap(err, "fetch attachment")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Segment{}, errors.Errorf("attachment origin returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Segment{}, errors.Wrap(err, "read attachment body")
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == genericMIMEType {
		mimeType = detectMIME(data, u.Path)
	}

	return models.InlineBinarySegment(mimeType, data), nil
}

func (r *AttachmentResolver) readLocal(ref models.AttachmentRef) (models.Segment, error) {
	data, err := os.ReadFile(ref.Location)
	if err != nil {
		return models.Segment{}, errors.Wrap(err, "read attachment file")
	}

	mimeType := ref.DeclaredMIME
	if mimeType == "" || mimeType == genericMIMEType {
		mimeType = detectMIME(data, ref.Location)
	}

	return models.InlineBinarySegment(mimeType, data), nil
}

// detectMIME sniffs content first, then falls back to the extension,
// then to the generic binary type.
func detectMIME(data []byte, path string) string {
	if mt := mimetype.Detect(data); mt != nil && mt.String() != genericMIMEType {
		return mt.String()
	}
	if ext := filepath.Ext(path); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if i := strings.Index(byExt, ";"); i >= 0 {
				byExt = strings.TrimSpace(byExt[:i])
			}
			return byExt
		}
	}
	return genericMIMEType
}
