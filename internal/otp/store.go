package otp

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSecret is returned by a SecretStore that has never been given a key or
// label.
var ErrNoSecret = errors.New("no otp secret stored")

// SecretStore persists the shared secret, its label and the log of recently
// accepted passwords. Implementations decide where and how; the engine only
// needs get/set.
type SecretStore interface {
	SecretKey(ctx context.Context) (string, error)
	SetSecretKey(ctx context.Context, key string) error

	SecretLabel(ctx context.Context) (string, error)
	SetSecretLabel(ctx context.Context, label string) error

	// RecentAcceptedPasswords returns the log newest first; an empty log is
	// not an error.
	RecentAcceptedPasswords(ctx context.Context) ([]string, error)
	SetRecentAcceptedPasswords(ctx context.Context, passwords []string) error
}

// MemoryStore is an in-process SecretStore for tests and ephemeral use.
type MemoryStore struct {
	mu     sync.RWMutex
	key    string
	label  string
	recent []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SecretKey(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == "" {
		return "", ErrNoSecret
	}
	return m.key, nil
}

func (m *MemoryStore) SetSecretKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
	return nil
}

func (m *MemoryStore) SecretLabel(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.label == "" {
		return "", ErrNoSecret
	}
	return m.label, nil
}

func (m *MemoryStore) SetSecretLabel(ctx context.Context, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.label = label
	return nil
}

// SetSecret replaces key and label at once and forgets accepted passwords,
// which belonged to the old secret.
func (m *MemoryStore) SetSecret(ctx context.Context, key, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
	m.label = label
	m.recent = nil
	return nil
}

func (m *MemoryStore) RecentAcceptedPasswords(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.recent...), nil
}

func (m *MemoryStore) SetRecentAcceptedPasswords(ctx context.Context, passwords []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append([]string(nil), passwords...)
	return nil
}
