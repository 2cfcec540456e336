// Package credentials stores the passwords mediaref uses to reach its
// Redis and Postgres backends. Secrets live in ~/.mediaref/credentials.yaml,
// encrypted with AES-GCM under a key held by a KeyProvider.
//
// Encryption Key Storage:
// The encryption key is stored in the system keyring (macOS Keychain,
// Windows Credential Manager, Linux Secret Service). For CI, set
// MEDIAREF_ENCRYPTION_KEY to a 64-character hex string (32 bytes). Where no
// keyring exists, MEDIAREF_PASSPHRASE derives the key with Argon2id.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".mediaref"
	DefaultCredentialsFile = "credentials.yaml"
)

// Backends that carry a stored password.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendAudit    = "audit"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrUnknownBackend is returned for a backend that has no password slot.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds the stored backend passwords.
type Credentials struct {
	// Passwords maps a backend name to its password (encrypted at rest).
	Passwords map[string]string `yaml:"passwords,omitempty"`
	// LastUpdated is when the credentials were last updated.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Backends returns the backends with a stored password, sorted.
func (c *Credentials) Backends() []string {
	out := make([]string, 0, len(c.Passwords))
	for b := range c.Passwords {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// IsValidBackend reports whether backend has a password slot.
func IsValidBackend(backend string) bool {
	switch backend {
	case BackendRedis, BackendPostgres, BackendAudit:
		return true
	}
	return false
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a credential store using the default key provider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	keyProvider, err := GetDefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}

	return newStore(dir, keyProvider)
}

// NewStoreWithKeyProvider creates a new credential store with a custom key provider.
func NewStoreWithKeyProvider(keyProvider KeyProvider) (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}
	return newStore(dir, keyProvider)
}

func newStore(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// KeyDescription describes where the encryption key is kept.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// CredentialsDir returns the credentials directory path.
// Uses $MEDIAREF_CONFIG_DIR if set, otherwise ~/.mediaref
func CredentialsDir() (string, error) {
	if dir := os.Getenv("MEDIAREF_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath returns the full path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// Save stores credentials to the credentials file.
func (s *Store) Save(creds *Credentials) error {
	if err := s.ensureDir(); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	storage := Credentials{
		Passwords:   make(map[string]string, len(creds.Passwords)),
		LastUpdated: time.Now(),
	}
	for backend, password := range creds.Passwords {
		encrypted, err := s.encrypt(password)
		if err != nil {
			return fmt.Errorf("encrypting %s password: %w", backend, err)
		}
		storage.Passwords[backend] = encrypted
	}

	data, err := yaml.Marshal(&storage)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	if err := os.WriteFile(credPath, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}

	return nil
}

// Load reads credentials from the credentials file.
func (s *Store) Load() (*Credentials, error) {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)

	data, err := os.ReadFile(credPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	for backend, encrypted := range creds.Passwords {
		decrypted, err := s.decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s password: %w", backend, err)
		}
		creds.Passwords[backend] = decrypted
	}
	if creds.Passwords == nil {
		creds.Passwords = map[string]string{}
	}

	return &creds, nil
}

// SetPassword stores the password for backend, keeping the others.
func (s *Store) SetPassword(backend, password string) error {
	if !IsValidBackend(backend) {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		creds = &Credentials{Passwords: map[string]string{}}
	} else if err != nil {
		return err
	}
	creds.Passwords[backend] = password
	return s.Save(creds)
}

// Password returns the stored password for backend, or "" when none is stored.
func (s *Store) Password(backend string) (string, error) {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return creds.Passwords[backend], nil
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)

	if err := os.Remove(credPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing credentials file: %w", err)
	}

	return nil
}

// Exists checks if credentials file exists.
func (s *Store) Exists() bool {
	credPath := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	_, err := os.Stat(credPath)
	return err == nil
}

func (s *Store) ensureDir() error {
	return os.MkdirAll(s.credentialsDir, 0700)
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

// MaskCredential returns a masked version of the credential for display.
func MaskCredential(cred string) string {
	if len(cred) <= 8 {
		return strings.Repeat("*", len(cred))
	}
	return cred[:2] + strings.Repeat("*", len(cred)-4) + cred[len(cred)-2:]
}
