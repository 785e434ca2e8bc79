package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 4096
)

// Anthropic serves text generation only.
type Anthropic struct {
	APIKey    string
	MaxTokens int

	sdk anthropic.Client
}

func NewAnthropic(apiKey, baseURL string, maxTokens int, httpClient *http.Client) *Anthropic {
	a := &Anthropic{APIKey: strings.TrimSpace(apiKey), MaxTokens: maxTokens}
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(a.APIKey),
		anthropicoption.WithBaseURL(resolvedAnthropicBaseURL(baseURL)),
		anthropicoption.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(httpClient))
	}
	a.sdk = anthropic.NewClient(opts...)
	return a
}

func resolvedAnthropicBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	return strings.TrimRight(base, "/") + "/"
}

func (a *Anthropic) Configured() bool { return a != nil && a.APIKey != "" }

func (a *Anthropic) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if !a.Configured() {
		return "", ErrNotConfigured
	}
	model := strings.TrimSpace(req.Model)
	// OpenAI model names are meaningless here.
	if model == "" || !strings.HasPrefix(model, "claude") {
		model = defaultAnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     anthropic.Model(model),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := a.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			b.WriteString(variant.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
