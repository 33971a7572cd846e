package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nyl/internal/domain"
)

// CloudCredentialName is the secret store key holding the cloud API key.
const CloudCredentialName = "cloud-api-key"

// SettingsStore owns ProviderConfig. It is read on every call.
type SettingsStore interface {
	ProviderConfig(ctx context.Context) (domain.ProviderConfig, error)
	SaveSelectedModel(ctx context.Context, provider domain.Provider, model string) error
}

// SecretStore is a key-value store for credentials.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
	PutSecret(ctx context.Context, name, value string) error
}

// LocalProvider is the streaming local-network chat API.
type LocalProvider interface {
	Chat(ctx context.Context, endpoint, model string, messages []domain.ChatMessage, temperature *float64) (domain.ChatResponse, error)
	StreamChat(ctx context.Context, endpoint, model string, messages []domain.ChatMessage, temperature *float64, onDelta func(string)) error
	ListModels(ctx context.Context, endpoint string) ([]domain.ModelInfo, error)
	TestConnection(ctx context.Context, endpoint string) error
}

// CloudProvider is the cloud chat API, which answers in one piece.
type CloudProvider interface {
	Chat(ctx context.Context, apiKey, model string, messages []domain.ChatMessage, systemPrompt string, temperature *float64, maxTokens int64) (domain.ChatResponse, error)
	ListModels(ctx context.Context, apiKey string) ([]domain.ModelInfo, error)
	TestConnection(ctx context.Context, apiKey string) error
}

// Gateway is the single chat entry point. It hides which provider is active
// and normalizes both providers to one synchronous and one streaming contract.
type Gateway struct {
	settings SettingsStore
	secrets  SecretStore
	local    LocalProvider
	cloud    CloudProvider
	logger   *slog.Logger
}

// NewGateway wires the gateway. secrets may be nil, in which case only a key
// present in ProviderConfig is usable for the cloud provider.
func NewGateway(settings SettingsStore, secrets SecretStore, local LocalProvider, cloud CloudProvider, logger *slog.Logger) (*Gateway, error) {
	if settings == nil {
		return nil, errors.New("usecase: settings store must not be nil")
	}
	if local == nil {
		return nil, errors.New("usecase: local provider must not be nil")
	}
	if cloud == nil {
		return nil, errors.New("usecase: cloud provider must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		settings: settings,
		secrets:  secrets,
		local:    local,
		cloud:    cloud,
		logger:   logger,
	}, nil
}

// resolved is the outcome of the Resolving state: everything needed to
// dispatch one call.
type resolved struct {
	cfg      domain.ProviderConfig
	provider domain.Provider
	model    string
	apiKey   string
}

func (g *Gateway) loadConfig(ctx context.Context) (domain.ProviderConfig, *Error) {
	cfg, err := g.settings.ProviderConfig(ctx)
	if err != nil {
		return domain.ProviderConfig{}, newError(ErrorInternal, "settings_load_error", err)
	}
	return cfg, nil
}

func disabledError(cfg domain.ProviderConfig) *Error {
	if !cfg.AIEnabled {
		return newError(ErrorFeatureDisabled, "ai_disabled", nil)
	}
	return newError(ErrorFeatureDisabled, "provider_disabled", nil)
}

func (g *Gateway) resolve(ctx context.Context, req domain.ChatRequest) (resolved, *Error) {
	cfg, uerr := g.loadConfig(ctx)
	if uerr != nil {
		return resolved{}, uerr
	}
	if cfg.Disabled() {
		return resolved{}, disabledError(cfg)
	}
	if reason := validateRequest(req); reason != "" {
		return resolved{}, newError(ErrorValidation, reason, nil)
	}
	model := resolveModel(req, cfg)
	if model == "" {
		return resolved{}, newError(ErrorValidation, "model_unresolved", nil)
	}

	out := resolved{cfg: cfg, provider: cfg.ActiveProvider, model: model}
	if cfg.ActiveProvider == domain.ProviderCloud {
		key, uerr := g.cloudAPIKey(ctx, cfg)
		if uerr != nil {
			return resolved{}, uerr
		}
		out.apiKey = key
	}
	return out, nil
}

func (g *Gateway) cloudAPIKey(ctx context.Context, cfg domain.ProviderConfig) (string, *Error) {
	if key := strings.TrimSpace(cfg.Cloud.APIKey); key != "" {
		return key, nil
	}
	if g.secrets == nil {
		return "", newError(ErrorConfiguration, "missing_api_key", nil)
	}
	key, err := g.secrets.GetSecret(ctx, CloudCredentialName)
	if err != nil {
		return "", newError(ErrorInternal, "secret_store_error", err)
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", newError(ErrorConfiguration, "missing_api_key", nil)
	}
	return key, nil
}

// Chat runs one non-streaming chat call against the active provider.
func (g *Gateway) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	call, uerr := g.resolve(ctx, req)
	if uerr != nil {
		return domain.ChatResponse{}, uerr
	}

	start := time.Now()
	var (
		resp domain.ChatResponse
		err  error
	)
	switch call.provider {
	case domain.ProviderLocal:
		resp, err = g.local.Chat(ctx, call.cfg.Local.Endpoint, call.model, buildLocalMessages(call.cfg.SystemPrompt, req.Messages), req.Temperature)
	case domain.ProviderCloud:
		resp, err = g.cloud.Chat(ctx, call.apiKey, call.model, req.Messages, call.cfg.SystemPrompt, req.Temperature, call.cfg.Cloud.MaxTokens)
	}
	if err != nil {
		uerr := providerError(string(call.provider)+"_chat_error", err)
		g.logger.Warn("chat failed", "provider", call.provider, "model", call.model, "code", uerr.Code, "err", err)
		return domain.ChatResponse{}, uerr
	}
	g.logger.Info("chat completed", "provider", call.provider, "model", call.model, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

// StreamChat runs a chat call and reports it as a sequence of events: zero or
// more deltas and then exactly one done or error event. Failures never escape
// as a return value so the caller can always close its stream cleanly. The
// cloud provider contributes a single delta holding the full answer.
func (g *Gateway) StreamChat(ctx context.Context, req domain.ChatRequest, onEvent func(domain.ChatStreamEvent)) {
	call, uerr := g.resolve(ctx, req)
	if uerr != nil {
		onEvent(domain.ErrorEvent(uerr.Message()))
		return
	}

	start := time.Now()
	deltas := 0
	var err error
	switch call.provider {
	case domain.ProviderLocal:
		err = g.local.StreamChat(ctx, call.cfg.Local.Endpoint, call.model, buildLocalMessages(call.cfg.SystemPrompt, req.Messages), req.Temperature, func(text string) {
			if text == "" {
				return
			}
			deltas++
			onEvent(domain.DeltaEvent(text))
		})
	case domain.ProviderCloud:
		var resp domain.ChatResponse
		resp, err = g.cloud.Chat(ctx, call.apiKey, call.model, req.Messages, call.cfg.SystemPrompt, req.Temperature, call.cfg.Cloud.MaxTokens)
		if err == nil && resp.Message.Content != "" {
			deltas++
			onEvent(domain.DeltaEvent(resp.Message.Content))
		}
	}
	if err != nil {
		uerr := providerError(string(call.provider)+"_stream_error", err)
		g.logger.Warn("chat stream failed", "provider", call.provider, "model", call.model, "deltas", deltas, "code", uerr.Code, "err", err)
		onEvent(domain.ErrorEvent(uerr.Message()))
		return
	}
	g.logger.Info("chat stream completed", "provider", call.provider, "model", call.model, "deltas", deltas, "duration_ms", time.Since(start).Milliseconds())
	onEvent(domain.DoneEvent())
}

// ListModels lists the active provider's models. A disabled gateway answers
// with an empty list rather than an error.
func (g *Gateway) ListModels(ctx context.Context) (domain.ModelsResponse, error) {
	cfg, uerr := g.loadConfig(ctx)
	if uerr != nil {
		return domain.ModelsResponse{}, uerr
	}
	return g.listModels(ctx, cfg)
}

func (g *Gateway) listModels(ctx context.Context, cfg domain.ProviderConfig) (domain.ModelsResponse, error) {
	out := domain.ModelsResponse{
		Provider:      domain.ProviderNone,
		SelectedModel: "",
		Models:        []domain.ModelInfo{},
	}
	if cfg.Disabled() {
		return out, nil
	}
	out.Provider = cfg.ActiveProvider
	out.SelectedModel = cfg.SelectedModel()

	var (
		models []domain.ModelInfo
		err    error
	)
	switch cfg.ActiveProvider {
	case domain.ProviderLocal:
		models, err = g.local.ListModels(ctx, cfg.Local.Endpoint)
	case domain.ProviderCloud:
		key, uerr := g.cloudAPIKey(ctx, cfg)
		if uerr != nil {
			return domain.ModelsResponse{}, uerr
		}
		models, err = g.cloud.ListModels(ctx, key)
	}
	if err != nil {
		return domain.ModelsResponse{}, providerError(string(cfg.ActiveProvider)+"_list_models_error", err)
	}
	if models != nil {
		out.Models = models
	}
	return out, nil
}

// SelectModel persists id as the active provider's model. A disabled gateway
// rejects the call without touching stored settings.
func (g *Gateway) SelectModel(ctx context.Context, id string) (domain.ModelsResponse, error) {
	cfg, uerr := g.loadConfig(ctx)
	if uerr != nil {
		return domain.ModelsResponse{}, uerr
	}
	if cfg.Disabled() {
		return domain.ModelsResponse{}, disabledError(cfg)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ModelsResponse{}, newError(ErrorValidation, "empty_model", nil)
	}
	if err := g.settings.SaveSelectedModel(ctx, cfg.ActiveProvider, id); err != nil {
		return domain.ModelsResponse{}, newError(ErrorInternal, "settings_save_error", err)
	}
	g.logger.Info("model selected", "provider", cfg.ActiveProvider, "model", id)

	if cfg, uerr = g.loadConfig(ctx); uerr != nil {
		return domain.ModelsResponse{}, uerr
	}
	out, err := g.listModels(ctx, cfg)
	if err != nil {
		g.logger.Warn("model list unavailable after selection", "provider", cfg.ActiveProvider, "err", err)
		return domain.ModelsResponse{Provider: cfg.ActiveProvider, SelectedModel: cfg.SelectedModel(), Models: []domain.ModelInfo{}}, nil
	}
	return out, nil
}

// TestConnection probes the active provider. It succeeds when the provider's
// model list can be fetched and is non-empty.
func (g *Gateway) TestConnection(ctx context.Context) (domain.Provider, error) {
	cfg, uerr := g.loadConfig(ctx)
	if uerr != nil {
		return domain.ProviderNone, uerr
	}
	if cfg.Disabled() {
		return domain.ProviderNone, disabledError(cfg)
	}
	var err error
	switch cfg.ActiveProvider {
	case domain.ProviderLocal:
		err = g.local.TestConnection(ctx, cfg.Local.Endpoint)
	case domain.ProviderCloud:
		key, uerr := g.cloudAPIKey(ctx, cfg)
		if uerr != nil {
			return cfg.ActiveProvider, uerr
		}
		err = g.cloud.TestConnection(ctx, key)
	}
	if err != nil {
		uerr := providerError(string(cfg.ActiveProvider)+"_connection_test_failed", err)
		if uerr.Code == ErrorInternal {
			uerr.Code = ErrorUpstream
		}
		return cfg.ActiveProvider, uerr
	}
	return cfg.ActiveProvider, nil
}

// StoreCloudCredential writes the cloud API key to the secret store.
func (g *Gateway) StoreCloudCredential(ctx context.Context, apiKey string) error {
	if g.secrets == nil {
		return newError(ErrorConfiguration, "secret_store_unavailable", nil)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return newError(ErrorValidation, "empty_api_key", nil)
	}
	if err := g.secrets.PutSecret(ctx, CloudCredentialName, apiKey); err != nil {
		return newError(ErrorInternal, "secret_store_error", err)
	}
	g.logger.Info("cloud credential stored")
	return nil
}
