package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

var (
	ErrEmptyResponse = errors.New("generation service returned an empty response")
	ErrNotConfigured = errors.New("generation credential is not configured")
)

var (
	contextOverflowHintRe = regexp.MustCompile(`(?i)context.*overflow|maximum context length|context length exceeded|prompt is too long|request_too_large`)
	rateLimitHintRe       = regexp.MustCompile(`(?i)rate limit|too many requests|requests per (?:minute|hour|day)|quota|throttl|\b429\b|tpm\b|tpd\b`)
	timeoutHintRe         = regexp.MustCompile(`(?i)timed? ?out|timeout|deadline exceeded|\b408\b|\b504\b|gateway time`)
	connectionHintRe      = regexp.MustCompile(`(?i)connection (?:reset|refused|closed|aborted)|broken pipe|no such host|unexpected eof|tls handshake|network is unreachable|temporary failure|dial tcp|server closed|\b502\b|\b503\b|bad gateway|service unavailable|overloaded`)
	sizeHintRe            = regexp.MustCompile(`(?i)\bsize\b|dimension|resolution|aspect ratio|\b\d{3,4}x\d{3,4}\b`)
	emptyHintRe           = regexp.MustCompile(`(?i)empty (?:response|body|content|output)|no (?:content|choices|image data)`)
)

// APIError is a non-2xx answer from a hand-rolled endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.StatusCode, msg)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	var withStatus interface{ HTTPStatus() int }
	if errors.As(err, &withStatus) {
		return withStatus.HTTPStatus()
	}
	return 0
}

func IsLikelyRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) == 429 {
		return true
	}
	return rateLimitHintRe.MatchString(err.Error())
}

func IsLikelyTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch StatusCode(err) {
	case 408, 504:
		return true
	}
	return timeoutHintRe.MatchString(err.Error())
}

// IsLikelyTransientError reports timeouts and connection failures. Rate
// limits and caller cancellation are not transient.
func IsLikelyTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsLikelyRateLimitError(err) || IsLikelyContextOverflowError(err) {
		return false
	}
	if IsLikelyTimeoutError(err) {
		return true
	}
	switch StatusCode(err) {
	case 500, 502, 503:
		return true
	case 0:
	default:
		return false
	}
	return connectionHintRe.MatchString(err.Error())
}

// IsLikelySizeError reports a rejection of the requested output dimensions.
func IsLikelySizeError(err error) bool {
	if err == nil || IsLikelyRateLimitError(err) || IsLikelyTimeoutError(err) {
		return false
	}
	return sizeHintRe.MatchString(err.Error())
}

func IsLikelyEmptyResponseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	return emptyHintRe.MatchString(err.Error())
}

func IsLikelyContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.TrimSpace(err.Error())
	if text == "" || rateLimitHintRe.MatchString(text) {
		return false
	}
	return contextOverflowHintRe.MatchString(text)
}
