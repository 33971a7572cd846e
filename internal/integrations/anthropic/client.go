package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"nyl/internal/domain"
)

const defaultMaxTokens int64 = 1024

// Client is a focused Anthropic Messages API client. It never retries: a
// failed call surfaces to the caller immediately.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatInput is one non-streaming Messages API call. Messages may contain
// system-role entries; they are folded into the dedicated system field.
type chatInput struct {
	Model        string
	Messages     []domain.ChatMessage
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int64
}

func (c *Client) sdkClient(apiKey string) sdk.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	return sdk.NewClient(opts...)
}

// buildParams maps the conversation to Messages API parameters.
func buildParams(in chatInput) sdk.MessageNewParams {
	system, turns := domain.SplitSystem(in.SystemPrompt, in.Messages)

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(in.Model),
		MaxTokens: maxTokens,
		Messages:  make([]sdk.MessageParam, 0, len(turns)),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if in.Temperature != nil {
		params.Temperature = sdk.Float(*in.Temperature)
	}
	for _, m := range turns {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
			continue
		}
		params.Messages = append(params.Messages, sdk.NewUserMessage(block))
	}
	return params
}

// Chat sends one Messages API request. System-role messages are extracted
// from messages and appended, in order, to systemPrompt.
func (c *Client) Chat(ctx context.Context, apiKey, model string, messages []domain.ChatMessage, systemPrompt string, temperature *float64, maxTokens int64) (domain.ChatResponse, error) {
	if model == "" {
		return domain.ChatResponse{}, errors.New("anthropic: model must not be empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return domain.ChatResponse{}, errors.New("anthropic: api key must not be empty")
	}

	client := c.sdkClient(apiKey)
	msg, err := client.Messages.New(ctx, buildParams(chatInput{
		Model:        model,
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}))
	if err != nil {
		return domain.ChatResponse{}, classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return domain.ChatResponse{}, &domain.ProtocolError{Provider: domain.ProviderCloud, Err: errors.New("no text content in response")}
	}

	if m := string(msg.Model); m != "" {
		model = m
	}
	return domain.ChatResponse{
		ID:        msg.ID,
		Message:   domain.ChatMessage{Role: domain.RoleAssistant, Content: text.String()},
		Model:     model,
		CreatedAt: c.now().UTC(),
	}, nil
}

func (c *Client) ListModels(ctx context.Context, apiKey string) ([]domain.ModelInfo, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}
	client := c.sdkClient(apiKey)
	page, err := client.Models.List(ctx, sdk.ModelListParams{Limit: sdk.Int(100)})
	if err != nil {
		return nil, classify(err)
	}
	models := make([]domain.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, domain.ModelInfo{ID: m.ID, Name: m.DisplayName})
	}
	return models, nil
}

// TestConnection succeeds when the model list can be fetched and is non-empty.
func (c *Client) TestConnection(ctx context.Context, apiKey string) error {
	models, err := c.ListModels(ctx, apiKey)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return errors.New("anthropic: no models available")
	}
	return nil
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// classify converts SDK failures into the provider error kinds.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		raw := apiErr.RawJSON()
		msg := "status " + strconv.Itoa(apiErr.StatusCode)
		var body apiErrorBody
		if jsonErr := json.Unmarshal([]byte(raw), &body); jsonErr == nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		return &domain.UpstreamError{
			Provider:   domain.ProviderCloud,
			StatusCode: apiErr.StatusCode,
			Message:    msg,
			Body:       raw,
		}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &domain.ProtocolError{Provider: domain.ProviderCloud, Err: err}
	}
	return &domain.TransportError{Provider: domain.ProviderCloud, Err: fmt.Errorf("request failed: %w", err)}
}
