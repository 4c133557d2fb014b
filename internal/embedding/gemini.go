package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// geminiClient calls the Gemini POST models/{model}:embedContent endpoint.
type geminiClient struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

func newGemini(cfg Config) *geminiClient {
	dims := cfg.Dimensions
	if dims == 0 {
		dims = 768
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &geminiClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: dims,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *geminiClient) Name() string    { return ProviderGemini }
func (c *geminiClient) Dimensions() int { return c.dimensions }

// geminiEmbedRequest is the JSON body for POST :embedContent.
type geminiEmbedRequest struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (c *geminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(geminiEmbedRequest{
		Model:                "models/" + c.model,
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		OutputDimensionality: c.dimensions,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	// Gemini reports a bad API key as 400 with an error payload rather
	// than 401, so treat 400 as auth here.
	if resp.StatusCode == http.StatusBadRequest {
		return nil, &ProviderError{Provider: ProviderGemini, Kind: KindAuth, Message: "status 400 (check API key and model)"}
	}
	if err := classifyStatus(ProviderGemini, resp); err != nil {
		return nil, err
	}

	var result geminiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Kind: KindInvalidResponse, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	return checkDimensions(ProviderGemini, result.Embedding.Values, c.dimensions)
}
