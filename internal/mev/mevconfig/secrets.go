package mevconfig

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// SecretNotFoundError reports a missing environment-backed secret.
type SecretNotFoundError struct {
	Key string
}

func (e *SecretNotFoundError) Error() string {
	return fmt.Sprintf("mevconfig: secret %q not found in environment", e.Key)
}

// redactPatterns names env-var name shapes whose values must never be logged.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i).*private_key.*`),
	regexp.MustCompile(`(?i).*secret.*`),
	regexp.MustCompile(`(?i).*token.*`),
	regexp.MustCompile(`(?i).*dsn.*`),
	regexp.MustCompile(`(?i).*password.*`),
}

// EnvSecrets resolves secret values from MEVENGINE_-prefixed environment
// variables; it never persists or caches a read value beyond the call.
type EnvSecrets struct {
	prefix string
}

// NewEnvSecrets constructs an EnvSecrets reader using prefix (e.g.
// "mevengine") to namespace lookups.
func NewEnvSecrets(prefix string) *EnvSecrets {
	return &EnvSecrets{prefix: prefix}
}

// Get returns the raw value of key, or SecretNotFoundError if unset.
func (s *EnvSecrets) Get(key string) (string, error) {
	envKey := s.envKey(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", &SecretNotFoundError{Key: key}
	}
	return value, nil
}

// GetOrEmpty returns the value of key, or "" if unset (for optional
// secrets, e.g. a wallet key that leaves the signer unconfigured).
func (s *EnvSecrets) GetOrEmpty(key string) string {
	return os.Getenv(s.envKey(key))
}

func (s *EnvSecrets) envKey(key string) string {
	if s.prefix == "" {
		return strings.ToUpper(key)
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(s.prefix), strings.ToUpper(key))
}

// ShouldRedact reports whether envKey looks like it carries a sensitive
// value and must be masked in logs.
func ShouldRedact(envKey string) bool {
	for _, pattern := range redactPatterns {
		if pattern.MatchString(envKey) {
			return true
		}
	}
	return false
}
