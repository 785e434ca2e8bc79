package llm

import (
	"fmt"
	"strings"
)

// Provider names the backend used for text generation.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	providerAnthropics Provider = "anthropics"
)

func ParseProvider(raw string) (Provider, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", string(ProviderOpenAI):
		return ProviderOpenAI, nil
	case string(ProviderAnthropic), string(providerAnthropics):
		return ProviderAnthropic, nil
	default:
		return "", fmt.Errorf("unsupported generation.text_provider %q (supported: %q, %q)", raw, ProviderOpenAI, ProviderAnthropic)
	}
}
