// Package tokens resolves geodienste.ch export tokens per base topic and canton.
//
// Tokens are kept as one settings string per base topic, e.g.
// tokens_lwb_rebbaukataster = "AG=token1;BE=token2".
package tokens

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"geodatenbezug/internal/ports"
)

// KeyPrefix prefixes the base topic in environment and secret names.
const KeyPrefix = "tokens_"

// ErrTokenNotFound is returned when no token is configured for a base topic and canton.
var ErrTokenNotFound = errors.New("token not found")

// Parse splits a settings string into canton -> token pairs.
// Empty segments and segments without '=' are ignored.
func Parse(settings string) map[string]string {
	result := map[string]string{}
	for _, part := range strings.Split(settings, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

// Lookup extracts the token for canton from a settings string.
func Lookup(settings, baseTopic, canton string) (string, error) {
	if token, ok := Parse(settings)[canton]; ok {
		return token, nil
	}
	return "", fmt.Errorf("%w for topic %s and canton %s", ErrTokenNotFound, baseTopic, canton)
}

// EnvResolver reads settings from environment variables named tokens_<base_topic>.
type EnvResolver struct {
	getenv func(string) string
}

var _ ports.TokenResolver = (*EnvResolver)(nil)

// NewEnvResolver uses os.Getenv.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{getenv: os.Getenv}
}

// Token implements ports.TokenResolver.
func (r *EnvResolver) Token(_ context.Context, baseTopic, canton string) (string, error) {
	settings := r.getenv(KeyPrefix + baseTopic)
	if settings == "" {
		return "", fmt.Errorf("%w: no tokens available for topic %s", ErrTokenNotFound, baseTopic)
	}
	return Lookup(settings, baseTopic, canton)
}

// StaticResolver serves settings strings from configuration, keyed by base topic.
type StaticResolver struct {
	settings map[string]string
}

var _ ports.TokenResolver = (*StaticResolver)(nil)

// NewStaticResolver copies the settings map.
func NewStaticResolver(settings map[string]string) *StaticResolver {
	copied := make(map[string]string, len(settings))
	for k, v := range settings {
		copied[strings.TrimPrefix(k, KeyPrefix)] = v
	}
	return &StaticResolver{settings: copied}
}

// Token implements ports.TokenResolver.
func (r *StaticResolver) Token(_ context.Context, baseTopic, canton string) (string, error) {
	settings, ok := r.settings[baseTopic]
	if !ok {
		return "", fmt.Errorf("%w: no tokens available for topic %s", ErrTokenNotFound, baseTopic)
	}
	return Lookup(settings, baseTopic, canton)
}
