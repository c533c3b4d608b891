package core

import (
	"crypto/subtle"
	"encoding/json"
	"strings"
)

// AccessLevel is the outcome of a passphrase check.
type AccessLevel string

const (
	AccessAdmin   AccessLevel = "admin"
	AccessWitness AccessLevel = "witness"
	AccessNone    AccessLevel = "none"
)

// MarshalJSON renders AccessNone as null.
func (l AccessLevel) MarshalJSON() ([]byte, error) {
	if l == AccessNone || l == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(l))
}

// Secrets holds the configured passphrases. An empty secret never matches.
type Secrets struct {
	Admin   string
	Witness string
}

// CheckAccess compares passphrase against the admin secret first, then the
// witness secret. The passphrase is expected to be trimmed already.
func CheckAccess(passphrase string, secrets Secrets) AccessLevel {
	if passphrase == "" {
		return AccessNone
	}
	switch {
	case secretMatches(passphrase, secrets.Admin):
		return AccessAdmin
	case secretMatches(passphrase, secrets.Witness):
		return AccessWitness
	default:
		return AccessNone
	}
}

func secretMatches(candidate, secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1
}

// NormalisePassphrase extracts the passphrase from a decoded request body.
// Missing or non-string values yield "".
func NormalisePassphrase(body map[string]any) string {
	raw, ok := body["passphrase"].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(raw)
}
