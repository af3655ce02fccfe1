// Package embedder provides implementations of the rag.Embedder interface
// for converting text into dense vector embeddings. Each implementation talks
// to a different backend (Gemini, OpenAI, Azure OpenAI, Ollama) via plain
// HTTP, so no provider SDK is needed on the hot path.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docsearch-go/internal/rag"
)

// defaultGeminiBaseURL is the Generative Language API root.
const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var _ rag.Embedder = (*GeminiEmbedder)(nil)

// GeminiEmbedder implements rag.Embedder using the Gemini embedContent
// endpoint. It is safe for concurrent use.
type GeminiEmbedder struct {
	// baseURL is the API root (e.g. "https://generativelanguage.googleapis.com/v1beta").
	baseURL string
	// apiKey is sent in the x-goog-api-key header.
	apiKey string
	// model is the embedding model name without the "models/" prefix.
	model string
	// dimensions, when positive, is requested from the API and enforced on responses.
	dimensions int
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// BaseURL overrides defaultGeminiBaseURL when set.
	BaseURL string
	// APIKey is the Google API key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions requests a specific output size (0 = model default).
	Dimensions int
}

// NewGeminiEmbedder constructs a GeminiEmbedder from the given config.
func NewGeminiEmbedder(cfg *GeminiConfig) *GeminiEmbedder {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	return &GeminiEmbedder{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		model:      strings.TrimPrefix(cfg.Model, "models/"),
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// geminiPart is one text part of an embedContent request.
type geminiPart struct {
	Text string `json:"text"`
}

// geminiEmbedRequest is the JSON body sent to models/{model}:embedContent.
type geminiEmbedRequest struct {
	Model   string `json:"model"`
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
	OutputDimensionality int `json:"outputDimensionality,omitempty"`
}

// geminiEmbedResponse is the JSON body returned by embedContent.
type geminiEmbedResponse struct {
	Embedding *struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding of text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var body geminiEmbedRequest
	body.Model = "models/" + e.model
	body.Content.Parts = []geminiPart{{Text: text}}
	body.OutputDimensionality = e.dimensions

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fail("gemini", "marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", e.baseURL, e.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fail("gemini", "create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fail("gemini", "request failed: %w", err)
	}
	defer resp.Body.Close()

	var result geminiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fail("gemini", "decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil && result.Error.Message != "" {
			msg = result.Error.Message
		}
		return nil, fail("gemini", "%s", msg)
	}

	if result.Embedding == nil || len(result.Embedding.Values) == 0 {
		return nil, fail("gemini", "response has no embedding values")
	}
	if e.dimensions > 0 && len(result.Embedding.Values) != e.dimensions {
		return nil, fail("gemini", "expected %d dimensions, got %d", e.dimensions, len(result.Embedding.Values))
	}

	return result.Embedding.Values, nil
}
