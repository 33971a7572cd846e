package usecase

import (
	"strings"

	"nyl/internal/domain"
)

const (
	minTemperature = 0.0
	maxTemperature = 2.0
)

// validateRequest checks the caller-supplied fields that do not depend on
// configuration. It returns the failure reason, or "" when valid.
func validateRequest(req domain.ChatRequest) string {
	if len(req.Messages) == 0 {
		return "empty_messages"
	}
	hasTurn := false
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
		case domain.RoleUser, domain.RoleAssistant:
			hasTurn = true
		default:
			return "invalid_role"
		}
		if strings.TrimSpace(m.Content) == "" {
			return "empty_message"
		}
	}
	if !hasTurn {
		return "no_conversation_turn"
	}
	if t := req.Temperature; t != nil && (*t < minTemperature || *t > maxTemperature) {
		return "temperature_out_of_range"
	}
	return ""
}

// resolveModel prefers the request's model over the configured selection.
func resolveModel(req domain.ChatRequest, cfg domain.ProviderConfig) string {
	if m := strings.TrimSpace(req.Model); m != "" {
		return m
	}
	return cfg.SelectedModel()
}

// buildLocalMessages folds the gateway prompt and any caller system messages
// into one leading system message. The caller's slice is never modified.
func buildLocalMessages(systemPrompt string, messages []domain.ChatMessage) []domain.ChatMessage {
	return domain.CoalesceSystem(systemPrompt, messages)
}
