// Package filestore keeps session values in a single encrypted file.
//
// The values map is sealed with XChaCha20-Poly1305. The key is either derived
// from a passphrase with argon2id, or read from a random key file created next
// to the data file with owner-only permissions.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/jrsteele09/go-ride-session/kvstore"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	dataFileName = "session.db"
	keyFileName  = "session.key"
	fileVersion  = 1
	saltLength   = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var _ kvstore.Store = (*Store)(nil)

// ErrDecrypt is returned when the data file cannot be opened with the configured key.
var ErrDecrypt = errors.New("filestore: unable to decrypt data file")

type envelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt,omitempty"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Store is a kvstore.Store backed by an encrypted file.
type Store struct {
	dir        string
	passphrase string
	salt       []byte
	key        []byte
	values     map[string]string
	mu         sync.RWMutex
}

type Option func(*Store)

// WithPassphrase derives the encryption key from passphrase instead of a key file.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		s.passphrase = passphrase
	}
}

// New opens (or creates) the store in dir.
func New(dir string, options ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		values: make(map[string]string),
	}
	for _, opt := range options {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &kvstore.StoreError{Operation: "open", Cause: err}
	}

	env, err := s.readEnvelope()
	if err != nil {
		return nil, &kvstore.StoreError{Operation: "open", Cause: err}
	}

	if err := s.initKey(env); err != nil {
		return nil, &kvstore.StoreError{Operation: "open", Cause: err}
	}

	if env != nil {
		values, err := s.open(env)
		if err != nil {
			return nil, &kvstore.StoreError{Operation: "open", Cause: err}
		}
		s.values = values
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", kvstore.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return &kvstore.StoreError{Operation: "set", Key: key, Cause: err}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)
	if err := s.flush(); err != nil {
		s.values[key] = previous
		return &kvstore.StoreError{Operation: "delete", Key: key, Cause: err}
	}
	return nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok, nil
}

func (s *Store) dataPath() string {
	return filepath.Join(s.dir, dataFileName)
}

func (s *Store) keyPath() string {
	return filepath.Join(s.dir, keyFileName)
}

func (s *Store) readEnvelope() (*envelope, error) {
	raw, err := os.ReadFile(s.dataPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[Store readEnvelope] %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("[Store readEnvelope] corrupt data file: %w", err)
	}
	if env.Version != fileVersion {
		return nil, fmt.Errorf("[Store readEnvelope] unsupported version %d", env.Version)
	}
	return &env, nil
}

func (s *Store) initKey(env *envelope) error {
	if s.passphrase != "" {
		if env != nil && env.Salt != "" {
			salt, err := base64.StdEncoding.DecodeString(env.Salt)
			if err != nil {
				return fmt.Errorf("[Store initKey] bad salt: %w", err)
			}
			s.salt = salt
		} else {
			s.salt = make([]byte, saltLength)
			if _, err := rand.Read(s.salt); err != nil {
				return fmt.Errorf("[Store initKey] rand.Read: %w", err)
			}
		}
		s.key = argon2.IDKey([]byte(s.passphrase), s.salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
		return nil
	}

	key, err := os.ReadFile(s.keyPath())
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return fmt.Errorf("[Store initKey] key file has %d bytes", len(key))
		}
		s.key = key
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("[Store initKey] %w", err)
	}
	if env != nil {
		return fmt.Errorf("[Store initKey] data file exists but key file is missing: %w", ErrDecrypt)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("[Store initKey] rand.Read: %w", err)
	}
	if err := os.WriteFile(s.keyPath(), key, 0o600); err != nil {
		return fmt.Errorf("[Store initKey] write key file: %w", err)
	}
	s.key = key
	return nil
}

func (s *Store) open(env *envelope) (map[string]string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("[Store open] bad nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("[Store open] bad ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	values := make(map[string]string)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("[Store open] corrupt values: %w", err)
	}
	return values, nil
}

// flush seals the values map and atomically replaces the data file.
// Callers must hold the write lock.
func (s *Store) flush() error {
	plaintext, err := json.Marshal(s.values)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	env := envelope{
		Version:    fileVersion,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, nil)),
	}
	if s.salt != nil {
		env.Salt = base64.StdEncoding.EncodeToString(s.salt)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, dataFileName+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.dataPath()); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
