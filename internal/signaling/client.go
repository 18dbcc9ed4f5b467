// Package signaling performs the one-shot offer/answer exchange against the
// negotiation endpoint.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// sdpMarker is the version line every session description starts with; it is
// the sniff check for both outgoing offers and incoming answers.
const sdpMarker = "v=0"

const maxBodyExcerpt = 256

// ErrInvalidAnswer marks a 2xx response whose body is not a session
// description. It is a protocol error, not a transport error.
var ErrInvalidAnswer = errors.New("response body is not a session description")

// ErrUnfinalizedOffer is returned when the local description handed to
// Negotiate is not a complete session description.
var ErrUnfinalizedOffer = errors.New("local offer is not a finalized session description")

// NegotiationError is any failure of the offer/answer exchange: a transport
// error, a non-success status, or an unsniffable response body. It is never
// retried here; retry policy belongs to the caller.
type NegotiationError struct {
	Status int
	Body   string
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Err != nil {
		if e.Status != 0 {
			return fmt.Sprintf("negotiate: status %d: %v", e.Status, e.Err)
		}
		return "negotiate: " + e.Err.Error()
	}
	return fmt.Sprintf("negotiate: endpoint returned %d: %s", e.Status, e.Body)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// Shape selects the request body representation the endpoint expects.
type Shape string

const (
	// ShapeSDP posts the raw description with an application/sdp content type.
	ShapeSDP Shape = "sdp"
	// ShapeJSON posts {"sdp": ..., "model": ...} as application/json.
	ShapeJSON Shape = "json"
)

// Config for one negotiation client.
type Config struct {
	Endpoint string
	Model    string
	Shape    Shape
	Timeout  time.Duration
}

// Client exchanges a local session description for a remote one.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Shape == "" {
		cfg.Shape = ShapeSDP
	}
	return &Client{cfg: cfg, http: &http.Client{}}
}

// Negotiate posts the finalized local offer and returns the remote answer
// description. Bounded by the configured timeout.
func (c *Client) Negotiate(ctx context.Context, offerSDP string) (string, error) {
	if !strings.Contains(offerSDP, sdpMarker) {
		return "", &NegotiationError{Err: ErrUnfinalizedOffer}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := c.buildRequest(ctx, offerSDP)
	if err != nil {
		return "", &NegotiationError{Err: err}
	}

	log.Debug().
		Str("module", "signaling").
		Str("endpoint", c.cfg.Endpoint).
		Str("shape", string(c.cfg.Shape)).
		Msg("sending offer")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &NegotiationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &NegotiationError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NegotiationError{Status: resp.StatusCode, Body: excerpt(body)}
	}

	answer := string(body)
	if !strings.Contains(answer, sdpMarker) {
		return "", &NegotiationError{Status: resp.StatusCode, Body: excerpt(body), Err: ErrInvalidAnswer}
	}

	log.Info().Str("module", "signaling").Int("answer_len", len(answer)).Msg("received answer")
	return answer, nil
}

func (c *Client) buildRequest(ctx context.Context, offerSDP string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch c.cfg.Shape {
	case ShapeJSON:
		payload, err := json.Marshal(struct {
			SDP   string `json:"sdp"`
			Model string `json:"model,omitempty"`
		}{SDP: offerSDP, Model: c.cfg.Model})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	default:
		body = strings.NewReader(offerSDP)
		contentType = "application/sdp"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		return string(body[:maxBodyExcerpt])
	}
	return string(body)
}
