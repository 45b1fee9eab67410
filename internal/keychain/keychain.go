// Package keychain abstracts the OS secret store so the key manager is
// testable with an in-memory fake.
package keychain

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

const serviceName = "crmvault"

var ErrNotFound = errors.New("keychain: entry not found")

// Keychain stores small secrets under a namespaced identifier.
type Keychain interface {
	Get(id string) (string, error)
	Set(id string, secret string) error
	Delete(id string) error
}

// System is the OS-backed keychain (macOS Keychain, Windows Credential
// Manager, Secret Service on Linux).
type System struct{}

func (System) Get(id string) (string, error) {
	secret, err := keyring.Get(serviceName, id)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return secret, err
}

func (System) Set(id string, secret string) error {
	return keyring.Set(serviceName, id, secret)
}

func (System) Delete(id string) error {
	err := keyring.Delete(serviceName, id)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Memory is an in-process keychain for tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

func (m *Memory) Get(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.entries[id]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (m *Memory) Set(id string, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = secret
	return nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}
