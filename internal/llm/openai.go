package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"autoblog/internal/appinfo"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOpenAITextModel  = "gpt-4o-mini"
	defaultOpenAIImageModel = "dall-e-3"
	defaultOpenAIAudioModel = "tts-1"
	defaultOpenAIVoice      = "alloy"
	defaultAudioFormat      = "mp3"
	maxDownloadBytes        = 32 << 20
)

// OpenAI serves text, image and speech generation through the SDK.
type OpenAI struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client

	sdk openai.Client
}

func NewOpenAI(apiKey, baseURL string, httpClient *http.Client) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	o := &OpenAI{
		APIKey:     strings.TrimSpace(apiKey),
		BaseURL:    resolvedOpenAIBaseURL(baseURL),
		HTTPClient: httpClient,
	}
	o.sdk = openai.NewClient(
		option.WithAPIKey(o.APIKey),
		option.WithBaseURL(o.BaseURL+"/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", appinfo.UserAgent()),
	)
	return o
}

func resolvedOpenAIBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return defaultOpenAIBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

func (o *OpenAI) Configured() bool { return o != nil && o.APIKey != "" }

func (o *OpenAI) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if !o.Configured() {
		return "", ErrNotConfigured
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultOpenAITextModel
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := o.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (o *OpenAI) GenerateImage(ctx context.Context, req ImageRequest) (Binary, error) {
	if !o.Configured() {
		return Binary{}, ErrNotConfigured
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Binary{}, errors.New("image prompt is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultOpenAIImageModel
	}
	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(model),
		N:      openai.Int(1),
	}
	if req.Size != nil {
		params.Size = openai.ImageGenerateParamsSize(req.Size.String())
	}
	if q := strings.TrimSpace(req.Quality); q != "" {
		params.Quality = openai.ImageGenerateParamsQuality(q)
	}
	// gpt-image models always answer with base64 and reject response_format.
	if strings.HasPrefix(model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := o.sdk.Images.Generate(ctx, params)
	if err != nil {
		return Binary{}, fmt.Errorf("openai image: %w", err)
	}
	if len(resp.Data) == 0 {
		return Binary{}, ErrEmptyResponse
	}
	img := resp.Data[0]
	var data []byte
	switch {
	case img.B64JSON != "":
		data, err = base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return Binary{}, fmt.Errorf("decode image payload: %w", err)
		}
	case img.URL != "":
		data, err = o.download(ctx, img.URL)
		if err != nil {
			return Binary{}, err
		}
	}
	if len(data) == 0 {
		return Binary{}, ErrEmptyResponse
	}
	return Binary{Data: data, MimeType: http.DetectContentType(data)}, nil
}

func (o *OpenAI) download(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := o.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Provider: "openai", StatusCode: resp.StatusCode, Message: "image download failed"}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

func (o *OpenAI) GenerateAudio(ctx context.Context, req AudioRequest) (Binary, error) {
	if !o.Configured() {
		return Binary{}, ErrNotConfigured
	}
	if strings.TrimSpace(req.Text) == "" {
		return Binary{}, errors.New("narration text is required")
	}
	format := firstNonEmpty(req.Format, defaultAudioFormat)
	resp, err := o.sdk.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(firstNonEmpty(req.Model, defaultOpenAIAudioModel)),
		Input:          req.Text,
		Voice:          openai.AudioSpeechNewParamsVoice(firstNonEmpty(req.Voice, defaultOpenAIVoice)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(format),
	})
	if err != nil {
		return Binary{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return Binary{}, fmt.Errorf("read speech body: %w", err)
	}
	if len(data) == 0 {
		return Binary{}, ErrEmptyResponse
	}
	return Binary{Data: data, MimeType: audioMimeType(format, resp.Header.Get("Content-Type"))}, nil
}

func audioMimeType(format, header string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	}
	if header != "" {
		return header
	}
	return "application/octet-stream"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
