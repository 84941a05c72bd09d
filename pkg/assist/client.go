package assist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNoResult is returned whenever the generation service gives nothing
// usable back
var ErrNoResult = errors.New("assist: no result")

// Generation kinds
const (
	KindLyrics = "lyrics"
	KindVerse  = "verse"
	KindImage  = "image"
)

// Request is the body posted to the generation endpoint
type Request struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
}

// Response is the generation endpoint reply. Text kinds fill Text, images fill URL.
type Response struct {
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// Client calls a text/image generation API
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// New creates a client for baseURL. apiKey, when set, is sent as a bearer token.
func New(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{httpClient: client, logger: logger}
}

// Lyrics generates song lyrics for a prompt
func (c *Client) Lyrics(ctx context.Context, prompt string) (string, error) {
	resp, err := c.generate(ctx, KindLyrics, prompt)
	if err != nil {
		return "", err
	}
	return c.text(KindLyrics, resp)
}

// Verse suggests a Bible passage for a prompt
func (c *Client) Verse(ctx context.Context, prompt string) (string, error) {
	resp, err := c.generate(ctx, KindVerse, prompt)
	if err != nil {
		return "", err
	}
	return c.text(KindVerse, resp)
}

// Image returns the URL of a generated background image
func (c *Client) Image(ctx context.Context, prompt string) (string, error) {
	resp, err := c.generate(ctx, KindImage, prompt)
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(resp.URL)
	if url == "" {
		c.logger.Warn("assist returned no image url", zap.String("prompt", prompt))
		return "", ErrNoResult
	}
	return url, nil
}

func (c *Client) text(kind string, resp *Response) (string, error) {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		c.logger.Warn("assist returned empty text", zap.String("kind", kind))
		return "", ErrNoResult
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, kind, prompt string) (*Response, error) {
	c.logger.Debug("calling assist", zap.String("kind", kind), zap.Int("prompt_len", len(prompt)))

	var result Response
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(Request{Kind: kind, Prompt: prompt}).
		SetResult(&result).
		SetError(&result).
		Post("/generate")
	if err != nil {
		c.logger.Error("assist call failed", zap.String("kind", kind), zap.Error(err))
		return nil, ErrNoResult
	}
	if resp.IsError() {
		c.logger.Error("assist returned error",
			zap.String("kind", kind),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error", result.Error),
		)
		return nil, ErrNoResult
	}
	return &result, nil
}
