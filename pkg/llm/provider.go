// Package llm provides clients for the AI text-generation providers that
// back LaunchPilot content generation. Providers return the generated text
// plus token counts so the caller can attach them to usage records.
package llm

import (
	"context"
	"fmt"
	"strings"

	"launchpilot/api_metering/pkg/config"
)

type Provider interface {
	// Name identifies the provider in usage records ("openai", "anthropic").
	Name() string
	Complete(ctx context.Context, req Request) (Result, error)
}

// Request is a single generation request
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Result carries the generated text and the provider-reported token usage
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Config holds provider selection and credentials
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	APIURL    string
	MaxTokens int
}

func LoadConfig() Config {
	return Config{
		Provider:  config.GetEnv("LLM_PROVIDER", "openai"),
		Model:     config.GetEnv("LLM_MODEL", ""),
		APIKey:    config.GetEnv("LLM_API_KEY", ""),
		APIURL:    config.GetEnv("LLM_API_URL", ""),
		MaxTokens: config.GetEnvInt("LLM_MAX_TOKENS", 0),
	}
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
