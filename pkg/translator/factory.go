package translator

import (
	"fmt"
	"strings"
)

// NewProvider creates a provider from the configured backend name.
func NewProvider(name string, opts Options) (Provider, error) {
	switch strings.ToLower(name) {
	case "", "openai", "gpt4o", "gpt4o-transcribe":
		return NewOpenAIProvider(opts)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", name)
	}
}
