// Package summarize produces page and document summaries through an
// OpenAI-compatible vision model endpoint.
package summarize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// Client handles communication with an OpenAI-compatible completions API.
// Calls are non-streaming; summaries are short enough that streaming buys
// nothing.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	httpClient     *http.Client
	retry          RetryConfig
	requestTimeout time.Duration
	pageMaxTokens  int
	docMaxTokens   int
	logger         *observability.Logger
}

// ClientConfig holds the settings for NewClient.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	Retry          RetryConfig
	PageMaxTokens  int
	DocMaxTokens   int
}

// NewClient creates a summarization client. The API key is required; there
// is no unauthenticated mode.
func NewClient(cfg ClientConfig, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("summarizer api key is not set", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.PageMaxTokens <= 0 {
		cfg.PageMaxTokens = 200
	}
	if cfg.DocMaxTokens <= 0 {
		cfg.DocMaxTokens = 250
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		httpClient:     &http.Client{},
		retry:          cfg.Retry,
		requestTimeout: cfg.RequestTimeout,
		pageMaxTokens:  cfg.PageMaxTokens,
		docMaxTokens:   cfg.DocMaxTokens,
		logger:         logger,
	}, nil
}

// Model returns the configured model name, for index metadata.
func (c *Client) Model() string {
	return c.model
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image reference in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message inside a choice.
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SummarizePage produces the summary for one rendered page image.
func (c *Client) SummarizePage(ctx context.Context, imagePath string, pageNum int) (string, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return "", domain.SummarizationError("read page image", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageData)

	req := &Request{
		Model: c.model,
		Messages: []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: pagePrompt(pageNum)},
				{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
			},
		}},
		MaxTokens: c.pageMaxTokens,
	}
	return c.complete(ctx, req)
}

// SummarizeDocument produces the document roll-up from per-page summary lines.
func (c *Client) SummarizeDocument(ctx context.Context, pageLines []string) (string, error) {
	req := &Request{
		Model: c.model,
		Messages: []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: rollupPrompt(pageLines)},
			},
		}},
		MaxTokens: c.docMaxTokens,
	}
	return c.complete(ctx, req)
}

func (c *Client) complete(ctx context.Context, req *Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", domain.SummarizationError("marshal request", err)
	}

	data, err := c.doWithRetry(ctx, body)
	if err != nil {
		return "", err
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", domain.SummarizationError("decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.SummarizationError("response contains no choices", nil)
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", domain.SummarizationError("model returned an empty summary", nil)
	}
	return text, nil
}

// attempt performs one HTTP round trip and reads the whole response body.
// The request context is detached from ctx's cancellation but keeps the
// per-request timeout: once issued, an attempt finishes; ctx only gates
// whether the next one starts.
func (c *Client) attempt(ctx context.Context, body []byte) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
