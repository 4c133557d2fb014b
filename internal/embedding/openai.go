package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIClient calls an OpenAI-compatible POST /embeddings endpoint.
type openAIClient struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

func newOpenAI(cfg Config) *openAIClient {
	dims := cfg.Dimensions
	if dims == 0 {
		switch cfg.Model {
		case "text-embedding-3-large":
			dims = 3072
		default:
			dims = 1536
		}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openAIClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: dims,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *openAIClient) Name() string    { return ProviderOpenAI }
func (c *openAIClient) Dimensions() int { return c.dimensions }

// openAIEmbedRequest is the JSON body for POST /embeddings.
type openAIEmbedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *openAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := openAIEmbedRequest{Model: c.model, Input: text}
	// The dimensions parameter is only supported by v3 models.
	if c.model != "text-embedding-ada-002" {
		reqBody.Dimensions = c.dimensions
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if err := classifyStatus(ProviderOpenAI, resp); err != nil {
		return nil, err
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: KindInvalidResponse, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if result.Error != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: KindInvalidResponse, Message: result.Error.Message}
	}
	if len(result.Data) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: KindInvalidResponse, Message: "no embedding data in response"}
	}

	return checkDimensions(ProviderOpenAI, result.Data[0].Embedding, c.dimensions)
}

// classifyStatus maps an HTTP error status to a typed ProviderError.
// Returns nil for 200.
func classifyStatus(provider string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ProviderError{Provider: provider, Kind: KindAuth, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ProviderError{Provider: provider, Kind: KindRateLimited, Message: "status 429"}
	case resp.StatusCode >= 500:
		return &ProviderError{Provider: provider, Kind: KindNetwork, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: provider, Kind: KindInvalidResponse, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}
	}
}
