package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"path/filepath"
)

const (
	defaultUsername      = "admin"
	passwordLength       = 24
	passwordAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	passwordFileName     = "generated_password.txt"
	passwordFileTemplate = "Username: %s\nPassword: %s\n\nDelete this file after saving the credentials.\n"
)

// SecretsLoadStatus tells the caller whether secrets.json may be rewritten.
type SecretsLoadStatus int

const (
	SecretsLoaded   SecretsLoadStatus = iota // read and valid
	SecretsMissing                           // no file yet; safe to create
	SecretsFallback                          // unreadable or invalid; never overwrite
)

func (s SecretsLoadStatus) String() string {
	switch s {
	case SecretsLoaded:
		return "loaded"
	case SecretsMissing:
		return "missing"
	default:
		return "fallback"
	}
}

// Secret is a string that prints as [REDACTED]. It still marshals to JSON
// in clear text, so never log a Secrets value as JSON.
type Secret string

func (s Secret) String() string   { return "[REDACTED]" }
func (s Secret) GoString() string { return "[REDACTED]" }

// Value returns the plaintext.
func (s Secret) Value() string { return string(s) }

// IsEmpty reports whether the secret is unset.
func (s Secret) IsEmpty() bool { return s == "" }

// Secrets is the content of secrets.json.
type Secrets struct {
	SchemaVersion     int    `json:"schema_version"`
	BasicAuthUsername string `json:"basic_auth_username"`
	BasicAuthPassword Secret `json:"basic_auth_password"`
}

// DefaultSecrets returns empty secrets at the current schema version.
func DefaultSecrets() Secrets {
	return Secrets{SchemaVersion: CurrentSchemaVersion}
}

// LoadSecrets reads secrets.json from the data directory.
func LoadSecrets() (Secrets, SecretsLoadStatus, error) {
	path, err := SecretsPath()
	if err != nil {
		return DefaultSecrets(), SecretsFallback, err
	}
	return LoadSecretsFrom(path)
}

// LoadSecretsFrom reads secrets from path. Any problem other than a missing
// file yields empty secrets and SecretsFallback.
func LoadSecretsFrom(path string) (Secrets, SecretsLoadStatus, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSecrets(), SecretsMissing, nil
	}
	if err != nil {
		log.Printf("Warning: failed to read secrets file: %v, using defaults", err)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("read secrets: %w", err)
	}

	var sec Secrets
	if err := json.Unmarshal(data, &sec); err != nil {
		log.Printf("Warning: secrets file is corrupt: %v, using defaults", err)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("decode secrets: %w", err)
	}
	if sec.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: secrets schema version %d is not %d, using defaults", sec.SchemaVersion, CurrentSchemaVersion)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("secrets schema version %d", sec.SchemaVersion)
	}
	return sec, SecretsLoaded, nil
}

// SaveSecrets writes secrets.json to the data directory.
func SaveSecrets(sec Secrets) error {
	path, err := SecretsPath()
	if err != nil {
		return err
	}
	return SaveSecretsTo(sec, path)
}

// SaveSecretsTo writes secrets to path atomically.
func SaveSecretsTo(sec Secrets, path string) error {
	sec.SchemaVersion = CurrentSchemaVersion
	return writeJSONAtomic(path, sec)
}

// GeneratePassword returns a random password drawn from an alphabet
// without look-alike characters.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("generate password: length must be positive")
	}
	n := big.NewInt(int64(len(passwordAlphabet)))
	pw := make([]byte, length)
	for i := range pw {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		pw[i] = passwordAlphabet[idx.Int64()]
	}
	return string(pw), nil
}

// EnsureLanAuth fills in missing Basic Auth credentials when LAN mode is
// on. generatedPassword is set only when a new password was created, for
// one-time display.
func EnsureLanAuth(s *Secrets, lanEnabled bool) (updated bool, generatedPassword string, err error) {
	if !lanEnabled {
		return false, "", nil
	}

	if s.BasicAuthUsername == "" {
		s.BasicAuthUsername = defaultUsername
		updated = true
	}
	if s.BasicAuthPassword.IsEmpty() {
		pw, err := GeneratePassword(passwordLength)
		if err != nil {
			return false, "", err
		}
		s.BasicAuthPassword = Secret(pw)
		return true, pw, nil
	}
	return updated, "", nil
}

// WritePasswordFile writes freshly generated credentials to an owner-only
// file in the data directory and returns its path.
func WritePasswordFile(username, password string) (string, error) {
	dir, err := EnsureDataDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, passwordFileName)
	if err := os.WriteFile(path, fmt.Appendf(nil, passwordFileTemplate, username, password), 0600); err != nil {
		return "", fmt.Errorf("write password file: %w", err)
	}
	return path, nil
}
