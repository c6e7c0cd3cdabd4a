/**
 * @description
 * This file defines the abstraction for retrieving secrets, such as private keys.
 * It introduces a `Vault` interface to decouple the signing logic from the specific
 * implementation of the secret store.
 *
 * Key features:
 * - Interface-based Design: The `Vault` interface allows for interchangeable secret
 *   management backends.
 * - Keyring: `Keyring` maps user IDs to their custodial keys, loaded from configuration.
 * - Mock Implementation: `MockVault` returns a single development key for every user.
 */

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrKeyNotFound is returned when no key is held for a user.
var ErrKeyNotFound = errors.New("no signing key for user")

// Vault defines the interface for a secret store.
type Vault interface {
	// GetPrivateKey retrieves the hex private key for a given user.
	GetPrivateKey(ctx context.Context, userID string) (string, error)
}

// Keyring holds one custodial key per user.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[string]string
	logger *slog.Logger
}

// NewKeyring creates a keyring from a userID → hex key map.
func NewKeyring(keys map[string]string, logger *slog.Logger) *Keyring {
	k := &Keyring{keys: make(map[string]string, len(keys)), logger: logger}
	for id, key := range keys {
		k.keys[id] = key
	}
	return k
}

// ParseKeyring parses "user1=0xkey1,user2=0xkey2".
func ParseKeyring(spec string, logger *slog.Logger) (*Keyring, error) {
	keys := make(map[string]string)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, key, ok := strings.Cut(entry, "=")
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("malformed signer key entry %q", entry)
		}
		keys[strings.TrimSpace(id)] = strings.TrimSpace(key)
	}
	return NewKeyring(keys, logger), nil
}

// Put adds or replaces the key of a user.
func (k *Keyring) Put(userID, privateKey string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[userID] = privateKey
}

// Len returns the number of users with a key.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

func (k *Keyring) GetPrivateKey(ctx context.Context, userID string) (string, error) {
	k.mu.RLock()
	key, ok := k.keys[userID]
	k.mu.RUnlock()
	if !ok {
		k.logger.Warn("no key held for user", "user_id", userID)
		return "", fmt.Errorf("%w %q", ErrKeyNotFound, userID)
	}
	return key, nil
}

// MockVault is an implementation of the Vault interface for local development.
// It returns a single dummy private key for every user.
type MockVault struct {
	privateKey string
	logger     *slog.Logger
}

/**
 * @description
 * NewMockVault creates a new instance of the MockVault.
 *
 * @param privateKey The dummy private key to be used for all signing operations.
 * @param logger A structured logger for logging vault-related events.
 * @returns An error if the provided private key is empty.
 */
func NewMockVault(privateKey string, logger *slog.Logger) (*MockVault, error) {
	if privateKey == "" {
		return nil, errors.New("private key cannot be empty for mock vault")
	}
	logger.Warn("initializing mock vault with a dummy private key. THIS IS NOT FOR PRODUCTION USE.")
	return &MockVault{
		privateKey: privateKey,
		logger:     logger,
	}, nil
}

func (v *MockVault) GetPrivateKey(ctx context.Context, userID string) (string, error) {
	v.logger.Info("retrieving dummy private key from mock vault", "for_user_id", userID)
	return v.privateKey, nil
}

// Chain tries each vault in order and returns the first key found.
type Chain []Vault

func (c Chain) GetPrivateKey(ctx context.Context, userID string) (string, error) {
	for _, v := range c {
		if v == nil {
			continue
		}
		key, err := v.GetPrivateKey(ctx, userID)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w %q", ErrKeyNotFound, userID)
}
