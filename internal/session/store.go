package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const (
	tokenKey        = "access-token"
	bridgeSecretKey = "bridge-secret"
)

// ErrNoToken is returned by TokenStore.Load when nothing is stored.
var ErrNoToken = errors.New("no stored access token")

// TokenStore persists the access token between runs.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// KeyringStore keeps the token in the system keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring returns a KeyringStore on the first available backend.
func OpenKeyring(service, fileDir string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Load returns the stored token or ErrNoToken.
func (s *KeyringStore) Load() (string, error) {
	return s.get(tokenKey)
}

// Save stores the token, replacing any previous one.
func (s *KeyringStore) Save(token string) error {
	return s.set(tokenKey, token, "eduVerse access token")
}

// BridgeSecret returns the secret of the running agent's bridge, or ErrNoToken.
func (s *KeyringStore) BridgeSecret() (string, error) {
	return s.get(bridgeSecretKey)
}

// SaveBridgeSecret publishes the bridge secret to local CLI invocations.
func (s *KeyringStore) SaveBridgeSecret(secret string) error {
	return s.set(bridgeSecretKey, secret, "notifysync bridge secret")
}

func (s *KeyringStore) get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	if len(item.Data) == 0 {
		return "", ErrNoToken
	}
	return string(item.Data), nil
}

func (s *KeyringStore) set(key, value, label string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: label}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Clear removes the stored token. Clearing an empty store is not an error.
func (s *KeyringStore) Clear() error {
	if err := s.ring.Remove(tokenKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", tokenKey, err)
	}
	return nil
}

// MemoryStore is a TokenStore that forgets everything on exit. Used when the
// token comes from the environment.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *MemoryStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
