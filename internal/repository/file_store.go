package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"nyl/internal/domain"
)

const (
	keyAIEnabled      = "ai.enabled"
	keyProvider       = "ai.provider"
	keySystemPrompt   = "ai.system_prompt"
	keyLocalEndpoint  = "ai.local.endpoint"
	keyLocalModel     = "ai.local.model"
	keyCloudAPIKey    = "ai.cloud.api_key"
	keyCloudModel     = "ai.cloud.model"
	keyCloudMaxTokens = "ai.cloud.max_tokens"
)

// FileStore keeps provider settings in a YAML file on the appliance. The file
// is read on every call so external edits apply to the next request.
type FileStore struct {
	path     string
	defaults domain.ProviderConfig

	mu sync.Mutex
}

func NewFileStore(path string, defaults domain.ProviderConfig) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: settings path must not be empty")
	}
	return &FileStore{path: path, defaults: defaults}, nil
}

func (s *FileStore) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(s.path)
	return v
}

// readFile merges the settings file into v. A missing file is not an error.
func (s *FileStore) readFile(v *viper.Viper) error {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("repository: stat settings: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("repository: read settings: %w", err)
	}
	return nil
}

func (s *FileStore) load() (*viper.Viper, error) {
	v := s.newViper()
	v.SetDefault(keyAIEnabled, s.defaults.AIEnabled)
	v.SetDefault(keyProvider, string(s.defaults.ActiveProvider))
	v.SetDefault(keySystemPrompt, s.defaults.SystemPrompt)
	v.SetDefault(keyLocalEndpoint, s.defaults.Local.Endpoint)
	v.SetDefault(keyLocalModel, s.defaults.Local.SelectedModel)
	v.SetDefault(keyCloudAPIKey, s.defaults.Cloud.APIKey)
	v.SetDefault(keyCloudModel, s.defaults.Cloud.SelectedModel)
	v.SetDefault(keyCloudMaxTokens, s.defaults.Cloud.MaxTokens)

	if err := s.readFile(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *FileStore) ProviderConfig(_ context.Context) (domain.ProviderConfig, error) {
	s.mu.Lock()
	v, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return domain.ProviderConfig{}, err
	}

	provider, err := domain.ParseProvider(v.GetString(keyProvider))
	if err != nil {
		return domain.ProviderConfig{}, fmt.Errorf("repository: %w", err)
	}
	return domain.ProviderConfig{
		AIEnabled:      v.GetBool(keyAIEnabled),
		ActiveProvider: provider,
		SystemPrompt:   v.GetString(keySystemPrompt),
		Local: domain.LocalProviderConfig{
			Endpoint:      v.GetString(keyLocalEndpoint),
			SelectedModel: v.GetString(keyLocalModel),
		},
		Cloud: domain.CloudProviderConfig{
			APIKey:        v.GetString(keyCloudAPIKey),
			SelectedModel: v.GetString(keyCloudModel),
			MaxTokens:     v.GetInt64(keyCloudMaxTokens),
		},
	}, nil
}

// SaveSelectedModel writes model into the slot of the given provider. Only
// keys already in the file plus the model slot are written, so defaults keep
// following the process configuration.
func (s *FileStore) SaveSelectedModel(_ context.Context, provider domain.Provider, model string) error {
	var key string
	switch provider {
	case domain.ProviderLocal:
		key = keyLocalModel
	case domain.ProviderCloud:
		key = keyCloudModel
	default:
		return fmt.Errorf("repository: no model slot for provider %q", provider)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.newViper()
	if err := s.readFile(v); err != nil {
		return err
	}
	v.Set(key, model)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("repository: create settings dir: %w", err)
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("repository: write settings: %w", err)
	}
	return nil
}
