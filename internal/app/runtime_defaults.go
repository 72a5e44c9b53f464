package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/smallworld/pkg/crypto"
)

const (
	jwtSecretBytes    = 48
	transportKeyBytes = 32
)

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	// A generated transport key is unknown to the workers; they stay locked out until one is configured.
	if strings.TrimSpace(cfg.Transport.APIKey) == "" {
		key, err := crypto.GenerateToken(transportKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("generate transport api key: %w", err)
		}
		cfg.Transport.APIKey = key
		generated["transport.api_key"] = true
	}

	return generated, nil
}
