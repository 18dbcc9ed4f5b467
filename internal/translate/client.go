// Package translate is the boundary to the stateless text-translation
// service: one request in, one translation out.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Translator turns completed utterance text into its translation.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Config for the HTTP translator.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// HTTPClient posts {"text": ...} and expects {"translation": ...}.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{cfg: cfg, http: &http.Client{}}
}

func (c *HTTPClient) Translate(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("translate: empty text")
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("translate: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		Translation string `json:"translation"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("translate: decode response: %w", err)
	}

	log.Debug().Str("module", "translate").Int("len", len(out.Translation)).Msg("translated")
	return out.Translation, nil
}
