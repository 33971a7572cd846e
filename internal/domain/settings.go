package domain

import (
	"fmt"
	"strings"
)

// Provider identifies the upstream chat API in use.
type Provider string

const (
	ProviderNone  Provider = "none"
	ProviderLocal Provider = "local"
	ProviderCloud Provider = "cloud"
)

// ParseProvider accepts the configured provider name. Blank maps to none.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProviderNone:
		return ProviderNone, nil
	case ProviderLocal:
		return ProviderLocal, nil
	case ProviderCloud:
		return ProviderCloud, nil
	default:
		return ProviderNone, fmt.Errorf("domain: unknown provider %q", s)
	}
}

type LocalProviderConfig struct {
	Endpoint      string
	SelectedModel string
}

type CloudProviderConfig struct {
	APIKey        string
	SelectedModel string
	MaxTokens     int64
}

// ProviderConfig is the chat configuration owned by the settings store. It is
// read fresh for every gateway call.
type ProviderConfig struct {
	AIEnabled      bool
	ActiveProvider Provider
	Local          LocalProviderConfig
	Cloud          CloudProviderConfig
	SystemPrompt   string
}

// Disabled reports whether chat is switched off entirely.
func (c ProviderConfig) Disabled() bool {
	return !c.AIEnabled || c.ActiveProvider == ProviderNone || c.ActiveProvider == ""
}

// SelectedModel returns the configured model for the active provider.
func (c ProviderConfig) SelectedModel() string {
	switch c.ActiveProvider {
	case ProviderLocal:
		return strings.TrimSpace(c.Local.SelectedModel)
	case ProviderCloud:
		return strings.TrimSpace(c.Cloud.SelectedModel)
	default:
		return ""
	}
}
