// Long-term memory adapter for a mem0-style REST service
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/memochat/memochat/pkg/models"
	"github.com/memochat/memochat/pkg/utils"
)

const memoryRequestTimeout = 10 * time.Second

// MemoryService wraps the remote memory service. Facts live entirely on
// the remote side; nothing is cached locally between requests.
type MemoryService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewMemoryService creates a memory adapter for the given service endpoint.
func NewMemoryService(baseURL, apiKey string) *MemoryService {
	return &MemoryService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: memoryRequestTimeout},
		logger:  utils.GetLogger(),
	}
}

// Wire shapes for the remote service.

type memoryRecord struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type memorySearchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

type memoryAddRequest struct {
	UserID   string         `json:"user_id"`
	Messages []memoryRecord `json:"messages"`
}

// Retrieve fetches facts relevant to the query for a user. Records with
// an unknown role or empty text are dropped at the boundary with a
// warning rather than propagated into the prompt.
func (s *MemoryService) Retrieve(ctx context.Context, userID, query string) ([]models.MemoryFact, error) {
	body, err := json.Marshal(memorySearchRequest{UserID: userID, Query: query})
	if err != nil {
		return nil, errors.Wrap(err, "marshal memory search request")
	}

	respBody, err := s.post(ctx, "/v1/memories/search", body)
	if err != nil {
		return nil, errors.Wrap(err, "memory search")
	}

	var records []memoryRecord
	if err := json.Unmarshal(respBody, &records); err != nil {
		return nil, errors.Wrap(err, "decode memory search response")
	}

	facts := make([]models.MemoryFact, 0, len(records))
	for _, rec := range records {
		if rec.Content == "" {
			continue
		}
		if rec.Role != "user" && rec.Role != "assistant" {
			s.logger.Warn("Dropping memory record with unknown role", "role", rec.Role)
			continue
		}
		facts = append(facts, models.MemoryFact{Role: rec.Role, Text: rec.Content})
	}
	return facts, nil
}

// Store pushes facts for a user to the remote service.
func (s *MemoryService) Store(ctx context.Context, userID string, facts []models.MemoryFact) error {
	if len(facts) == 0 {
		return nil
	}

	records := make([]memoryRecord, 0, len(facts))
	for _, f := range facts {
		if f.Text == "" {
			continue
		}
		records = append(records, memoryRecord{Role: f.Role, Content: f.Text})
	}
	if len(records) == 0 {
		return nil
	}

	body, err := json.Marshal(memoryAddRequest{UserID: userID, Messages: records})
	if err != nil {
		return errors.Wrap(err, "marshal memory add request")
	}

	if _, err := s.post(ctx, "/v1/memories", body); err != nil {
		return errors.Wrap(err, "memory add")
	}
	return nil
}

func (s *MemoryService) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Token "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("memory service returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
