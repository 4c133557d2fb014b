// Package pinecone is a minimal HTTP client for a Pinecone-style vector
// index: upsert, query, fetch, delete, prefix listing, and index stats.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the index.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pinecone: status %d: %s", e.StatusCode, e.Message)
}

// Vector is one stored embedding with its metadata.
type Vector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Match is one similarity-search result.
type Match struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Values   []float32              `json:"values,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IndexStats summarizes the index dimension and vector counts per
// namespace.
type IndexStats struct {
	Dimension        int                       `json:"dimension"`
	TotalVectorCount int                       `json:"totalVectorCount"`
	Namespaces       map[string]NamespaceStats `json:"namespaces"`
}

// NamespaceStats is the per-namespace portion of IndexStats.
type NamespaceStats struct {
	VectorCount int `json:"vectorCount"`
}

// Client communicates with one index host over HTTPS.
type Client struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the given index host (e.g.
// "https://my-index-abc123.svc.us-east-1.pinecone.io").
func New(host, apiKey string) *Client {
	return &Client{
		host:   strings.TrimRight(host, "/"),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Api-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// upsertRequest is the JSON body for POST /vectors/upsert.
type upsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace,omitempty"`
}

// Upsert writes vectors into the namespace, overwriting existing IDs.
func (c *Client) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/vectors/upsert", upsertRequest{Vectors: vectors, Namespace: namespace}, nil)
}

type fetchResponse struct {
	Vectors map[string]Vector `json:"vectors"`
}

// Fetch returns vectors by ID. IDs absent from the index are simply
// missing from the result map.
func (c *Client) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Vector, error) {
	if len(ids) == 0 {
		return map[string]Vector{}, nil
	}

	params := url.Values{}
	for _, id := range ids {
		params.Add("ids", id)
	}
	if namespace != "" {
		params.Set("namespace", namespace)
	}

	var result fetchResponse
	if err := c.do(ctx, http.MethodGet, "/vectors/fetch?"+params.Encode(), nil, &result); err != nil {
		return nil, err
	}
	if result.Vectors == nil {
		result.Vectors = map[string]Vector{}
	}
	return result.Vectors, nil
}

// deleteRequest is the JSON body for POST /vectors/delete.
type deleteRequest struct {
	IDs       []string               `json:"ids,omitempty"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	DeleteAll bool                   `json:"deleteAll,omitempty"`
	Namespace string                 `json:"namespace,omitempty"`
}

// Delete removes vectors by ID. Deleting IDs that do not exist is not
// an error.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/vectors/delete", deleteRequest{IDs: ids, Namespace: namespace}, nil)
}

// DeleteByFilter removes all vectors in the namespace whose metadata
// matches the filter.
func (c *Client) DeleteByFilter(ctx context.Context, namespace string, filter map[string]interface{}) error {
	return c.do(ctx, http.MethodPost, "/vectors/delete", deleteRequest{Filter: filter, Namespace: namespace}, nil)
}

type listResponse struct {
	Vectors []struct {
		ID string `json:"id"`
	} `json:"vectors"`
	Pagination *struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

// List returns vector IDs with the given prefix, cursor-paginated.
// An empty next token means the listing is exhausted.
func (c *Client) List(ctx context.Context, namespace, prefix string, limit int, paginationToken string) (ids []string, next string, err error) {
	params := url.Values{}
	if prefix != "" {
		params.Set("prefix", prefix)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if paginationToken != "" {
		params.Set("paginationToken", paginationToken)
	}
	if namespace != "" {
		params.Set("namespace", namespace)
	}

	var result listResponse
	if err := c.do(ctx, http.MethodGet, "/vectors/list?"+params.Encode(), nil, &result); err != nil {
		return nil, "", err
	}

	ids = make([]string, len(result.Vectors))
	for i, v := range result.Vectors {
		ids[i] = v.ID
	}
	if result.Pagination != nil {
		next = result.Pagination.Next
	}
	return ids, next, nil
}

// queryRequest is the JSON body for POST /query.
type queryRequest struct {
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
	Namespace       string                 `json:"namespace,omitempty"`
	IncludeMetadata bool                   `json:"includeMetadata"`
	IncludeValues   bool                   `json:"includeValues"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query performs similarity search with an optional metadata filter.
func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]interface{}) ([]Match, error) {
	var result queryResponse
	err := c.do(ctx, http.MethodPost, "/query", queryRequest{
		Vector:          vector,
		TopK:            topK,
		Filter:          filter,
		Namespace:       namespace,
		IncludeMetadata: true,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Matches, nil
}

// DescribeIndexStats returns total and per-namespace vector counts.
func (c *Client) DescribeIndexStats(ctx context.Context) (IndexStats, error) {
	var result IndexStats
	if err := c.do(ctx, http.MethodPost, "/describe_index_stats", struct{}{}, &result); err != nil {
		return IndexStats{}, err
	}
	return result, nil
}
