package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"nyl/internal/domain"
)

const envPrefix = "NYL"

// Config is the process configuration, read once at startup. Chat provider
// settings are not here: they live in the settings store and are re-read on
// every request. The AI block only seeds that store's defaults.
type Config struct {
	DeviceName string         `mapstructure:"device_name"`
	LogLevel   string         `mapstructure:"log_level"`
	Server     ServerConfig   `mapstructure:"server"`
	Settings   SettingsConfig `mapstructure:"settings"`
	Secrets    SecretsConfig  `mapstructure:"secrets"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Status     StatusConfig   `mapstructure:"status"`
	AI         AIConfig       `mapstructure:"ai"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WriteTimeout    time.Duration `mapstructure:"ws_write_timeout"`
	OutboxSize      int           `mapstructure:"ws_outbox_size"`
}

type SettingsConfig struct {
	// Backend is "file" or "dynamodb".
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	DynamoTable string `mapstructure:"dynamodb_table"`
	DeviceID    string `mapstructure:"device_id"`
}

type SecretsConfig struct {
	// SSMPrefix enables the SSM Parameter Store credential store when set.
	SSMPrefix string `mapstructure:"ssm_prefix"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type StatusConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	UpdateInterval    time.Duration `mapstructure:"update_interval"`
}

type AIConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Provider       string `mapstructure:"provider"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	LocalEndpoint  string `mapstructure:"local_endpoint"`
	LocalModel     string `mapstructure:"local_model"`
	CloudModel     string `mapstructure:"cloud_model"`
	CloudMaxTokens int64  `mapstructure:"cloud_max_tokens"`
	CloudBaseURL   string `mapstructure:"cloud_base_url"`
}

const (
	BackendFile     = "file"
	BackendDynamoDB = "dynamodb"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("device_name", "nyl")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.ws_write_timeout", 10*time.Second)
	v.SetDefault("server.ws_outbox_size", 32)

	v.SetDefault("settings.backend", BackendFile)
	v.SetDefault("settings.path", "settings.yaml")
	v.SetDefault("settings.dynamodb_table", "")
	v.SetDefault("settings.device_id", "default")

	v.SetDefault("secrets.ssm_prefix", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "nyl:status")

	v.SetDefault("status.heartbeat_interval", 30*time.Second)
	v.SetDefault("status.update_interval", 60*time.Second)

	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.provider", string(domain.ProviderLocal))
	v.SetDefault("ai.system_prompt", "You are Nyl, a helpful assistant running on a home appliance.")
	v.SetDefault("ai.local_endpoint", "http://localhost:11434")
	v.SetDefault("ai.local_model", "")
	v.SetDefault("ai.cloud_model", "")
	v.SetDefault("ai.cloud_max_tokens", 1024)
	v.SetDefault("ai.cloud_base_url", "")
}

// Load reads the optional config file at path, then NYL_* environment
// overrides (NYL_SERVER_LISTEN_ADDR, NYL_REDIS_URL, ...). An empty path
// searches for config.yaml in the working directory and /etc/nyl.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/nyl")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Settings.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Settings.Path) == "" {
			return errors.New("config: settings.path is required for the file backend")
		}
	case BackendDynamoDB:
		if strings.TrimSpace(c.Settings.DynamoTable) == "" {
			return errors.New("config: settings.dynamodb_table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("config: unknown settings backend %q", c.Settings.Backend)
	}
	if _, err := domain.ParseProvider(c.AI.Provider); err != nil {
		return fmt.Errorf("config: ai.provider: %w", err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ProviderDefaults seeds the settings store for keys it does not hold.
func (c Config) ProviderDefaults() domain.ProviderConfig {
	provider, _ := domain.ParseProvider(c.AI.Provider)
	return domain.ProviderConfig{
		AIEnabled:      c.AI.Enabled,
		ActiveProvider: provider,
		SystemPrompt:   c.AI.SystemPrompt,
		Local: domain.LocalProviderConfig{
			Endpoint:      c.AI.LocalEndpoint,
			SelectedModel: c.AI.LocalModel,
		},
		Cloud: domain.CloudProviderConfig{
			SelectedModel: c.AI.CloudModel,
			MaxTokens:     c.AI.CloudMaxTokens,
		},
	}
}

// UsesAWS reports whether any AWS-backed component is configured.
func (c Config) UsesAWS() bool {
	return c.Settings.Backend == BackendDynamoDB || c.Secrets.SSMPrefix != ""
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}
