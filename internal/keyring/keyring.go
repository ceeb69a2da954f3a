// Package keyring stores the session tokens in the system keyring.
package keyring

import (
	"errors"
	"fmt"

	zkeyring "github.com/zalando/go-keyring"
)

// ServiceName is the identifier used for storing credentials in the system keyring.
const ServiceName = "easyvpn"

// Keyring entry names. The access token is the session; the refresh token is
// optional and may be absent for token-based logins.
const (
	accessTokenKey  = "access-token"
	refreshTokenKey = "refresh-token"
)

// ErrKeyringCredentialNotFound is returned when no session is stored in the keyring.
var ErrKeyringCredentialNotFound = errors.New("credential not found")

// Store defines the interface for session token storage operations.
type Store interface {
	// SaveTokens stores the session tokens. An empty refresh token clears
	// any previously stored refresh token.
	SaveTokens(accessToken, refreshToken string) error
	// Tokens retrieves the stored session tokens.
	// Returns ErrKeyringCredentialNotFound when no access token is stored.
	Tokens() (accessToken, refreshToken string, err error)
	// Clear removes the stored session tokens.
	Clear() error
}

// SystemKeyring implements Store using the system keyring.
type SystemKeyring struct{}

// NewSystemKeyring creates a new SystemKeyring instance.
func NewSystemKeyring() *SystemKeyring {
	return &SystemKeyring{}
}

// SaveTokens stores the session tokens in the system keyring.
func (s *SystemKeyring) SaveTokens(accessToken, refreshToken string) error {
	if err := zkeyring.Set(ServiceName, accessTokenKey, accessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if refreshToken == "" {
		return deleteEntry(refreshTokenKey)
	}
	if err := zkeyring.Set(ServiceName, refreshTokenKey, refreshToken); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// Tokens retrieves the session tokens from the system keyring.
// Returns ErrKeyringCredentialNotFound if no access token is stored. A
// missing refresh token is not an error; it comes back empty.
func (s *SystemKeyring) Tokens() (string, string, error) {
	accessToken, err := zkeyring.Get(ServiceName, accessTokenKey)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return "", "", ErrKeyringCredentialNotFound
		}
		return "", "", fmt.Errorf("failed to retrieve access token: %w", err)
	}

	refreshToken, err := zkeyring.Get(ServiceName, refreshTokenKey)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return accessToken, "", nil
		}
		return "", "", fmt.Errorf("failed to retrieve refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

// Clear removes the session tokens from the system keyring.
// This operation is idempotent - it does not return an error if no session is stored.
func (s *SystemKeyring) Clear() error {
	if err := deleteEntry(accessTokenKey); err != nil {
		return err
	}
	return deleteEntry(refreshTokenKey)
}

func deleteEntry(key string) error {
	err := zkeyring.Delete(ServiceName, key)
	if err != nil && !errors.Is(err, zkeyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
