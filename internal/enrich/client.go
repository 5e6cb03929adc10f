package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client calls the translation, concepts and note-enhancement services.
// Every operation degrades to the original text on timeout or non-200;
// enrichment never blocks or fails the caller.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Sugar(),
	}
}

// Translate renders text in the target language, or returns the input
// unchanged when the service is unreachable.
func (c *Client) Translate(ctx context.Context, text, targetLang string) string {
	var out struct {
		Translation string `json:"translation"`
	}
	req := map[string]string{"text": text, "target_lang": targetLang}
	if err := c.post(ctx, "/translate", req, &out); err != nil {
		c.logger.Warnw("translation unavailable, using original text", "error", err)
		return text
	}
	if out.Translation == "" {
		return text
	}
	return out.Translation
}

// Concepts extracts key concepts from a transcript. An unreachable
// service yields no concepts rather than an error.
func (c *Client) Concepts(ctx context.Context, transcript string) []string {
	var out struct {
		Concepts []string `json:"concepts"`
	}
	req := map[string]string{"transcript": transcript}
	if err := c.post(ctx, "/concepts", req, &out); err != nil {
		c.logger.Warnw("concept extraction unavailable", "error", err)
		return nil
	}
	return out.Concepts
}

// EnhanceNotes cleans up raw session notes, falling back to the raw
// text when the service does not respond.
func (c *Client) EnhanceNotes(ctx context.Context, notes string) string {
	var out struct {
		Enhanced string `json:"enhanced"`
	}
	req := map[string]string{"text": notes}
	if err := c.post(ctx, "/enhance", req, &out); err != nil {
		c.logger.Warnw("note enhancement unavailable, using original notes", "error", err)
		return notes
	}
	if out.Enhanced == "" {
		return notes
	}
	return out.Enhanced
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service responded %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
