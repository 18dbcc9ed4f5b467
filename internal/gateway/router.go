// Package gateway is the negotiation pass-through: it forwards a client's SDP
// offer to the upstream realtime API and returns the SDP answer, and hosts
// the stateless translate endpoint.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxbridge/voxbridge/internal/config"
)

const (
	sdpMarker     = "v=0"
	maxOfferBytes = 1 << 20
)

// Upstream describes the realtime endpoint offers are forwarded to.
type Upstream struct {
	URL    string
	APIKey string
	Model  string
	Voice  string

	HTTP *http.Client
}

func (u *Upstream) client() *http.Client {
	if u.HTTP != nil {
		return u.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, up *Upstream) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/rtc-connect", func(c *gin.Context) { handleRTCConnect(c, up) })
	api.POST("/translate", handleTranslate)

	log.Info().Str("module", "gateway").Str("upstream", up.URL).Msg("router setup")
	return r
}

// handleRTCConnect accepts either a raw SDP body or {"sdp": ..., "model": ...}
// and forwards the offer upstream. Both directions are sniffed for the SDP
// version marker.
func handleRTCConnect(c *gin.Context, up *Upstream) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxOfferBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	offer, model, ok := parseOffer(body)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid SDP offer format"})
		return
	}
	if model == "" {
		model = up.Model
	}

	if up.APIKey == "" {
		log.Error().Str("module", "gateway").Msg("missing upstream API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server configuration error"})
		return
	}

	endpoint, err := url.Parse(up.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server configuration error"})
		return
	}
	q := endpoint.Query()
	q.Set("model", model)
	q.Set("instructions", defaultInstructions)
	q.Set("voice", up.Voice)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, endpoint.String(), strings.NewReader(offer))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	req.Header.Set("Authorization", "Bearer "+up.APIKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := up.client().Do(req)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("upstream request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unreachable"})
		return
	}
	defer resp.Body.Close()

	answer, err := io.ReadAll(io.LimitReader(resp.Body, maxOfferBytes))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "unreadable upstream response"})
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().
			Str("module", "gateway").
			Int("status", resp.StatusCode).
			Str("model", model).
			Msg("upstream rejected offer")
		c.JSON(resp.StatusCode, gin.H{"error": "upstream error", "details": string(answer)})
		return
	}

	if !strings.Contains(string(answer), sdpMarker) {
		log.Error().Str("module", "gateway").Msg("upstream answer is not a session description")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid SDP answer from upstream"})
		return
	}

	c.Data(http.StatusOK, "application/sdp", answer)
}

// parseOffer sniffs the request shape. The structured JSON form is tried
// first: a raw description also contains the version marker, so it cannot be
// told apart by substring alone, but it can never decode as the JSON object.
// Anything that is neither must carry the marker as its first line to count
// as a raw description.
func parseOffer(body []byte) (sdp, model string, ok bool) {
	var req struct {
		SDP   string `json:"sdp"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &req); err == nil && strings.Contains(req.SDP, sdpMarker) {
		return req.SDP, req.Model, true
	}

	text := string(body)
	if strings.HasPrefix(strings.TrimSpace(text), sdpMarker) {
		return text, "", true
	}
	return "", "", false
}

func handleTranslate(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	// Echo until a translation backend is wired in.
	translation := req.Text

	log.Debug().Str("module", "gateway").Int("len", len(req.Text)).Msg("translate request")
	c.JSON(http.StatusOK, gin.H{"translation": translation})
}
