package signaling

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	offerSDP  = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"
	answerSDP = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\na=setup:passive\r\n"
)

func TestNegotiateRawSDPShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/sdp", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, offerSDP, string(body))
		w.Header().Set("Content-Type", "application/sdp")
		io.WriteString(w, answerSDP)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Shape: ShapeSDP})
	answer, err := c.Negotiate(context.Background(), offerSDP)
	require.NoError(t, err)
	require.Equal(t, answerSDP, answer)
}

func TestNegotiateJSONShapeCarriesModel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req struct {
			SDP   string `json:"sdp"`
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, offerSDP, req.SDP)
		require.Equal(t, "gpt-4o-mini-realtime-preview", req.Model)
		io.WriteString(w, answerSDP)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Shape: ShapeJSON, Model: "gpt-4o-mini-realtime-preview"})
	answer, err := c.Negotiate(context.Background(), offerSDP)
	require.NoError(t, err)
	require.Equal(t, answerSDP, answer)
}

func TestNegotiateNonSuccessStatusIsNegotiationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"upstream unavailable"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL})
	_, err := c.Negotiate(context.Background(), offerSDP)

	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	require.Equal(t, http.StatusBadGateway, negErr.Status)
	require.Contains(t, negErr.Body, "upstream unavailable")
}

func TestNegotiateRejectsAnswerWithoutVersionMarker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"message":"ok but not sdp"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL})
	_, err := c.Negotiate(context.Background(), offerSDP)

	require.ErrorIs(t, err, ErrInvalidAnswer, "a 2xx non-SDP body is a protocol error")
	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	require.Equal(t, http.StatusOK, negErr.Status)
}

func TestNegotiateRejectsUnfinalizedOffer(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Endpoint: "http://127.0.0.1:0"})
	_, err := c.Negotiate(context.Background(), "not an sdp document")
	require.ErrorIs(t, err, ErrUnfinalizedOffer)
}

func TestNegotiateTimeoutSurfacesAsNegotiationError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		io.WriteString(w, answerSDP)
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Negotiate(context.Background(), offerSDP)

	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
