package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type TextRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Size is an explicit output width and height in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

type ImageRequest struct {
	Prompt  string
	Model   string
	Quality string
	// Size nil leaves the output size to the service.
	Size *Size
}

type AudioRequest struct {
	Text   string
	Model  string
	Voice  string
	Format string
}

// Binary is a decoded generated artifact.
type Binary struct {
	Data     []byte
	MimeType string
}

type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (Binary, error)
}

type AudioGenerator interface {
	GenerateAudio(ctx context.Context, req AudioRequest) (Binary, error)
}

// Service is the content generation collaborator.
type Service interface {
	TextGenerator
	ImageGenerator
	AudioGenerator
	// Configured reports whether a credential is available.
	Configured() bool
}

type Config struct {
	TextProvider       string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	AnthropicAPIKey    string
	AnthropicBaseURL   string
	AnthropicMaxTokens int
	HTTPTimeout        time.Duration
}

// Client routes text to the configured provider; images and speech always go
// to OpenAI.
type Client struct {
	provider  Provider
	openai    *OpenAI
	anthropic *Anthropic
}

func New(cfg Config) (*Client, error) {
	provider, err := ParseProvider(cfg.TextProvider)
	if err != nil {
		return nil, err
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	c := &Client{
		provider: provider,
		openai:   NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient),
	}
	if provider == ProviderAnthropic {
		c.anthropic = NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.AnthropicMaxTokens, httpClient)
	}
	return c, nil
}

func (c *Client) Provider() Provider { return c.provider }

func (c *Client) Configured() bool {
	if c == nil || c.openai == nil || !c.openai.Configured() {
		return false
	}
	if c.provider == ProviderAnthropic {
		return c.anthropic != nil && c.anthropic.Configured()
	}
	return true
}

func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if c.provider == ProviderAnthropic {
		return c.anthropic.GenerateText(ctx, req)
	}
	return c.openai.GenerateText(ctx, req)
}

func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (Binary, error) {
	if c == nil {
		return Binary{}, errors.New("nil client")
	}
	return c.openai.GenerateImage(ctx, req)
}

func (c *Client) GenerateAudio(ctx context.Context, req AudioRequest) (Binary, error) {
	if c == nil {
		return Binary{}, errors.New("nil client")
	}
	return c.openai.GenerateAudio(ctx, req)
}
