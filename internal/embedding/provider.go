// Package embedding provides dense-vector embedding clients for the
// supported providers (OpenAI-compatible, Voyage, Gemini) behind one
// interface. Adding a provider means adding a variant here plus an
// implementation file, never sniffing provider names elsewhere.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	KindMissingAPIKey     ErrorKind = "missing_api_key"
	KindAuth              ErrorKind = "auth"
	KindRateLimited       ErrorKind = "rate_limited"
	KindNetwork           ErrorKind = "network"
	KindInvalidResponse   ErrorKind = "invalid_response"
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
)

// ProviderError is a typed embedding failure.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s embedding: %s: %s", e.Provider, e.Kind, e.Message)
}

// IsRetryable reports whether err is a transient provider failure worth
// another queue attempt. Auth and dimension-mismatch errors can never
// succeed on retry.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindRateLimited || pe.Kind == KindNetwork
}

// Provider generates a dense vector for a text.
type Provider interface {
	// Embed returns the embedding for text. The returned vector always
	// has exactly Dimensions() elements; a provider response with a
	// different length surfaces as a DimensionMismatch error and is
	// never stored.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the expected vector length for the configured model.
	Dimensions() int

	// Name is the provider variant name ("openai", "voyage", "gemini").
	Name() string
}

// Provider variant names.
const (
	ProviderOpenAI = "openai"
	ProviderVoyage = "voyage"
	ProviderGemini = "gemini"
)

// DefaultTimeout bounds a single embedding call. Large texts make slow
// calls; callers may lower this per request via context.
const DefaultTimeout = 60 * time.Second

// Config selects and configures a provider.
type Config struct {
	Provider   string
	APIKey     string
	Model      string
	Dimensions int           // 0 = model default
	BaseURL    string        // optional endpoint override (proxies, tests)
	Timeout    time.Duration // 0 = DefaultTimeout
}

// New builds the provider variant named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, &ProviderError{Provider: cfg.Provider, Kind: KindMissingAPIKey, Message: "no API key configured"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		return newOpenAI(cfg), nil
	case ProviderVoyage:
		return newVoyage(cfg), nil
	case ProviderGemini:
		return newGemini(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// checkDimensions validates a returned vector against the expected
// length. A malformed vector must never reach the index.
func checkDimensions(provider string, vec []float32, want int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, &ProviderError{Provider: provider, Kind: KindInvalidResponse, Message: "empty embedding in response"}
	}
	if want > 0 && len(vec) != want {
		return nil, &ProviderError{
			Provider: provider,
			Kind:     KindDimensionMismatch,
			Message:  fmt.Sprintf("got %d dimensions, expected %d", len(vec), want),
		}
	}
	return vec, nil
}
