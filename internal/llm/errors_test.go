package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorHeuristics(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		rateLimit bool
		timeout   bool
		transient bool
		size      bool
		empty     bool
	}{
		{name: "nil"},
		{
			name:      "rate_limit_status",
			err:       &APIError{Provider: "openai", StatusCode: 429, Message: "slow down"},
			rateLimit: true,
		},
		{
			name:      "rate_limit_text",
			err:       errors.New("request reached organization TPD rate limit"),
			rateLimit: true,
		},
		{
			name:      "deadline",
			err:       fmt.Errorf("generate image: %w", context.DeadlineExceeded),
			timeout:   true,
			transient: true,
		},
		{
			name:      "gateway_timeout",
			err:       &APIError{Provider: "openai", StatusCode: 504},
			timeout:   true,
			transient: true,
		},
		{
			name:      "connection_reset",
			err:       errors.New("read tcp 10.0.0.1:443: connection reset by peer"),
			transient: true,
		},
		{
			name: "canceled",
			err:  fmt.Errorf("wrapped: %w", context.Canceled),
		},
		{
			name: "unsupported_size",
			err:  &APIError{Provider: "openai", StatusCode: 400, Message: "Invalid value: '1792x1024'. Supported values are: '256x256', '512x512', and '1024x1024'."},
			size: true,
		},
		{
			name:  "empty",
			err:   fmt.Errorf("text: %w", ErrEmptyResponse),
			empty: true,
		},
		{
			name: "bad_request",
			err:  &APIError{Provider: "openai", StatusCode: 400, Message: "invalid api key"},
		},
		{
			name: "context_overflow_not_transient",
			err:  &APIError{Provider: "openai", StatusCode: 0, Message: "This model's maximum context length is 8192 tokens, server closed"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLikelyRateLimitError(tc.err); got != tc.rateLimit {
				t.Fatalf("IsLikelyRateLimitError() = %v, want %v", got, tc.rateLimit)
			}
			if got := IsLikelyTimeoutError(tc.err); got != tc.timeout {
				t.Fatalf("IsLikelyTimeoutError() = %v, want %v", got, tc.timeout)
			}
			if got := IsLikelyTransientError(tc.err); got != tc.transient {
				t.Fatalf("IsLikelyTransientError() = %v, want %v", got, tc.transient)
			}
			if got := IsLikelySizeError(tc.err); got != tc.size {
				t.Fatalf("IsLikelySizeError() = %v, want %v", got, tc.size)
			}
			if got := IsLikelyEmptyResponseError(tc.err); got != tc.empty {
				t.Fatalf("IsLikelyEmptyResponseError() = %v, want %v", got, tc.empty)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", &APIError{Provider: "openai", StatusCode: 503})
	if got := StatusCode(err); got != 503 {
		t.Fatalf("StatusCode() = %d, want 503", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Fatalf("StatusCode(plain) = %d, want 0", got)
	}
}
