package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultVoyageBaseURL = "https://api.voyageai.com/v1"

// voyageClient calls the Voyage AI POST /v1/embeddings endpoint.
type voyageClient struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

func newVoyage(cfg Config) *voyageClient {
	dims := cfg.Dimensions
	if dims == 0 {
		dims = 1024
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultVoyageBaseURL
	}
	return &voyageClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: dims,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *voyageClient) Name() string    { return ProviderVoyage }
func (c *voyageClient) Dimensions() int { return c.dimensions }

// voyageEmbedRequest is the JSON body for POST /embeddings.
type voyageEmbedRequest struct {
	Model           string   `json:"model"`
	Input           []string `json:"input"`
	OutputDimension int      `json:"output_dimension,omitempty"`
}

type voyageEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *voyageClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(voyageEmbedRequest{
		Model:           c.model,
		Input:           []string{text},
		OutputDimension: c.dimensions,
	})
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
		return nil, &ProviderError{Provider: ProviderVoyage, Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if err := classifyStatus(ProviderVoyage, resp); err != nil {
		return nil, err
	}

	var result voyageEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: ProviderVoyage, Kind: KindInvalidResponse, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if len(result.Data) == 0 {
		return nil, &ProviderError{Provider: ProviderVoyage, Kind: KindInvalidResponse, Message: "no embedding data in response"}
	}

	return checkDimensions(ProviderVoyage, result.Data[0].Embedding, c.dimensions)
}
