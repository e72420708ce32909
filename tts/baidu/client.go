// Package baidu implements the remote speech-synthesis client: a
// client-credentials token exchange plus the form-encoded text2audio call
// that returns raw PCM on success and a JSON body on failure.
package baidu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

const (
	// DefaultTokenURL is the client-credentials token endpoint.
	DefaultTokenURL = "https://aip.baidubce.com/oauth/2.0/token"
	// DefaultSynthesisURL is the text2audio endpoint.
	DefaultSynthesisURL = "https://tsn.baidu.com/text2audio"

	// MaxTextBytes is the largest sentence the synthesis endpoint accepts.
	// Longer text is truncated rather than split into multiple requests.
	MaxTextBytes = 512

	// minAudioBytes guards against undersized responses that cannot be
	// real audio.
	minAudioBytes = 100

	// defaultTokenLifetime applies when the token response carries no
	// expires_in field. Tokens are nominally valid for 30 days.
	defaultTokenLifetime = 30 * 24 * time.Hour

	// tokenSafetyMargin is subtracted from the nominal lifetime so a token
	// is refreshed before the service would reject it.
	tokenSafetyMargin = time.Hour
)

// Client errors.
var (
	ErrAuthFailure      = errors.New("access token request failed")
	ErrSynthesisFailure = errors.New("speech synthesis failed")
	ErrEmptyText        = errors.New("text must not be empty")
)

// Config holds credentials and voice parameters for the synthesis API.
type Config struct {
	APIKey    string
	SecretKey string

	// CUID identifies the calling device in synthesis requests.
	CUID string

	Language    string // lan
	Speed       int    // spd, 0-15
	Pitch       int    // pit, 0-15
	Volume      int    // vol, 0-15
	Voice       int    // per, voice id
	AudioFormat int    // aue, 4 = raw 16 kHz PCM

	Timeout time.Duration
}

// Client calls the remote synthesis service and caches the access token
// until shortly before its expiry.
type Client struct {
	cfg        Config
	httpClient *http.Client

	tokenURL string
	synthURL string
	now      func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides the token and synthesis URLs.
func WithEndpoints(tokenURL, synthURL string) Option {
	return func(c *Client) {
		c.tokenURL = tokenURL
		c.synthURL = synthURL
	}
}

// WithClock replaces the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a synthesis client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.CUID == "" {
		cfg.CUID = "speakstream"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokenURL:   DefaultTokenURL,
		synthURL:   DefaultSynthesisURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tokenResponse is the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// errorResponse is the JSON body the synthesis endpoint returns on failure.
type errorResponse struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
}

// AccessToken returns the cached token if it has not expired, fetching a
// fresh one otherwise.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	log.Info("fetching synthesis access token")

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.APIKey},
		"client_secret": {c.cfg.SecretKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrAuthFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailure, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrAuthFailure, err)
	}
	if tr.AccessToken == "" {
		if tr.Error != "" {
			return "", fmt.Errorf("%w: %s: %s", ErrAuthFailure, tr.Error, tr.ErrorDescription)
		}
		return "", fmt.Errorf("%w: response missing access_token", ErrAuthFailure)
	}

	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	if lifetime > 2*tokenSafetyMargin {
		lifetime -= tokenSafetyMargin
	} else {
		lifetime /= 2
	}

	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(lifetime)

	log.Info("access token refreshed", "validFor", lifetime)
	return c.token, nil
}

// invalidateToken drops the cached token so the next call re-fetches it.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// Synthesize converts text to raw PCM audio. Text beyond MaxTextBytes is
// truncated at a code-point boundary and reported via the truncated flag.
func (c *Client) Synthesize(ctx context.Context, text string) (pcm []byte, truncated bool, err error) {
	if text == "" {
		return nil, false, ErrEmptyText
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, false, err
	}

	if len(text) > MaxTextBytes {
		cut := MaxTextBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		log.Warn("sentence exceeds synthesis request limit, truncating",
			"limit", MaxTextBytes, "dropped", len(text)-cut)
		text = text[:cut]
		truncated = true
	}

	form := url.Values{
		"tex":  {text},
		"tok":  {token},
		"cuid": {c.cfg.CUID},
		"ctp":  {"1"},
		"lan":  {c.cfg.Language},
		"spd":  {strconv.Itoa(c.cfg.Speed)},
		"pit":  {strconv.Itoa(c.cfg.Pitch)},
		"vol":  {strconv.Itoa(c.cfg.Volume)},
		"per":  {strconv.Itoa(c.cfg.Voice)},
		"aue":  {strconv.Itoa(c.cfg.AudioFormat)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.synthURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, truncated, fmt.Errorf("%w: %v", ErrSynthesisFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, truncated, fmt.Errorf("%w: %v", ErrSynthesisFailure, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, truncated, fmt.Errorf("%w: read response: %v", ErrSynthesisFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, truncated, fmt.Errorf("%w: status %d", ErrSynthesisFailure, resp.StatusCode)
	}

	// The API signals errors by returning JSON instead of audio.
	if isJSONBody(resp.Header.Get("Content-Type"), body) {
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.ErrMsg != "" {
			// Invalid-token errors clear the cache so the next sentence
			// re-authenticates instead of failing the same way.
			if er.ErrNo == 110 || er.ErrNo == 111 {
				c.invalidateToken()
			}
			return nil, truncated, fmt.Errorf("%w: err_no=%d %s", ErrSynthesisFailure, er.ErrNo, er.ErrMsg)
		}
		excerpt := body
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return nil, truncated, fmt.Errorf("%w: error body: %s", ErrSynthesisFailure, excerpt)
	}

	if len(body) < minAudioBytes {
		return nil, truncated, fmt.Errorf("%w: response too small (%d bytes)", ErrSynthesisFailure, len(body))
	}

	log.Debug("synthesis succeeded", "textBytes", len(text), "audioBytes", len(body))
	return body, truncated, nil
}

// isJSONBody reports whether the synthesis response is a JSON error body
// rather than audio.
func isJSONBody(contentType string, body []byte) bool {
	if strings.Contains(contentType, "application/json") {
		return true
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
