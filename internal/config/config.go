package config

import (
	"fmt"
	"net/url"
)

type Config struct {
	RelayURL       string
	ConversationId string
	UserName       string
	AvatarRef      string
	StatePath      string
	SessionToken   string
}

func validateRelayURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("invalid scheme for relay url: %q", parsed.Scheme)
	}
	return nil
}

func NewConfig(relayURL, conversationId, userName, avatarRef, statePath string) (*Config, error) {
	if relayURL == "" {
		return nil, fmt.Errorf("relay url cannot be empty")
	}
	if conversationId == "" {
		return nil, fmt.Errorf("conversation id cannot be empty")
	}
	if userName == "" {
		return nil, fmt.Errorf("user name cannot be empty")
	}

	if err := validateRelayURL(relayURL); err != nil {
		return nil, err
	}

	return &Config{
		RelayURL:       relayURL,
		ConversationId: conversationId,
		UserName:       userName,
		AvatarRef:      avatarRef,
		StatePath:      statePath,
	}, nil
}
