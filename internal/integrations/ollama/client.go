package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"nyl/internal/domain"
)

const (
	defaultEndpoint = "http://localhost:11434"
	maxLineBytes    = 1 << 20
)

// chatRequest is the request shape for the /api/chat endpoint.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  *chatOptions         `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

// chatChunk is both the non-streaming response and one NDJSON line of a
// streaming response.
type chatChunk struct {
	Model     string              `json:"model"`
	CreatedAt string              `json:"created_at"`
	Message   *domain.ChatMessage `json:"message"`
	Done      bool                `json:"done"`
	Error     string              `json:"error"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Client talks to an Ollama-compatible local chat server. The endpoint is
// supplied per call so configuration changes apply immediately.
type Client struct {
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. The default HTTP client has no overall timeout
// because streamed answers can run for minutes; cancellation comes from ctx.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func baseURL(endpoint string) string {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if base == "" {
		return defaultEndpoint
	}
	return base
}

func chatURL(endpoint string) string {
	return baseURL(endpoint) + "/api/chat"
}

func tagsURL(endpoint string) string {
	return baseURL(endpoint) + "/api/tags"
}

// Chat performs a single non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, endpoint, model string, messages []domain.ChatMessage, temperature *float64) (domain.ChatResponse, error) {
	if model == "" {
		return domain.ChatResponse{}, errors.New("ollama: model must not be empty")
	}
	res, err := c.postChat(ctx, endpoint, model, messages, temperature, false)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxLineBytes))
	if err != nil {
		return domain.ChatResponse{}, transportErr(fmt.Errorf("read response body: %w", err))
	}
	var payload chatChunk
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ChatResponse{}, protocolErr(fmt.Errorf("decode response: %w", err))
	}
	if payload.Error != "" {
		return domain.ChatResponse{}, &domain.UpstreamError{Provider: domain.ProviderLocal, StatusCode: res.StatusCode, Message: payload.Error}
	}
	if payload.Message == nil {
		return domain.ChatResponse{}, protocolErr(errors.New("no message in response"))
	}

	respModel := payload.Model
	if respModel == "" {
		respModel = model
	}
	return domain.ChatResponse{
		ID:        uuid.NewString(),
		Message:   domain.ChatMessage{Role: domain.RoleAssistant, Content: payload.Message.Content},
		Model:     respModel,
		CreatedAt: c.createdAt(payload.CreatedAt),
	}, nil
}

// StreamChat requests a streamed completion and calls onDelta for every
// chunk carrying text, in arrival order. It returns when the server reports
// done, the body ends, or an error occurs. Text already passed to onDelta is
// not retracted on error.
func (c *Client) StreamChat(ctx context.Context, endpoint, model string, messages []domain.ChatMessage, temperature *float64, onDelta func(string)) error {
	if model == "" {
		return errors.New("ollama: model must not be empty")
	}
	if onDelta == nil {
		return errors.New("ollama: onDelta must not be nil")
	}
	res, err := c.postChat(ctx, endpoint, model, messages, temperature, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return protocolErr(fmt.Errorf("decode stream chunk: %w", err))
		}
		if chunk.Error != "" {
			return &domain.UpstreamError{Provider: domain.ProviderLocal, StatusCode: res.StatusCode, Message: chunk.Error}
		}
		if chunk.Message != nil && chunk.Message.Content != "" {
			onDelta(chunk.Message.Content)
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transportErr(ctxErr)
		}
		return transportErr(fmt.Errorf("read stream: %w", err))
	}
	return nil
}

// ListModels returns the models installed on the local server.
func (c *Client) ListModels(ctx context.Context, endpoint string) ([]domain.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagsURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	res, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var payload tagsResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxLineBytes)).Decode(&payload); err != nil {
		return nil, protocolErr(fmt.Errorf("decode tags response: %w", err))
	}
	models := make([]domain.ModelInfo, 0, len(payload.Models))
	for _, m := range payload.Models {
		id := m.Name
		if id == "" {
			id = m.Model
		}
		if id == "" {
			continue
		}
		models = append(models, domain.ModelInfo{ID: id, Name: m.Name})
	}
	return models, nil
}

// TestConnection succeeds when the model list can be fetched and is non-empty.
func (c *Client) TestConnection(ctx context.Context, endpoint string) error {
	models, err := c.ListModels(ctx, endpoint)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return errors.New("ollama: no models installed")
	}
	return nil
}

func (c *Client) postChat(ctx context.Context, endpoint, model string, messages []domain.ChatMessage, temperature *float64, stream bool) (*http.Response, error) {
	in := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	if temperature != nil {
		in.Options = &chatOptions{Temperature: temperature}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}
	return c.do(req)
}

// do sends req and turns non-2xx answers into UpstreamError. The caller owns
// the returned body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, transportErr(err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer func() { _ = res.Body.Close() }()
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &domain.UpstreamError{
			Provider:   domain.ProviderLocal,
			StatusCode: res.StatusCode,
			Message:    errorMessage(buf),
			Body:       string(buf),
		}
	}
	return res, nil
}

// errorMessage extracts {"error":"..."} from an Ollama error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}

func (c *Client) createdAt(raw string) time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}
	return c.now().UTC()
}

func protocolErr(err error) error {
	return &domain.ProtocolError{Provider: domain.ProviderLocal, Err: err}
}

func transportErr(err error) error {
	return &domain.TransportError{Provider: domain.ProviderLocal, Err: err}
}
