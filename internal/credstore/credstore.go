// Package credstore implements the symmetric credential codec (§4.7): AES-256-GCM
// authenticated encryption of stored secrets (the remote SSH password in
// particular), a short logging fingerprint, and a Keychain wrapper around
// Windows Credential Manager, directly grounded on the teacher's
// integration.Keychain wrapper around github.com/danieljoos/wincred. The
// process key itself is persisted to a key file by LoadOrGenerateKey, not
// to Credential Manager.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/danieljoos/wincred"
	"golang.org/x/crypto/hkdf"
)

const (
	// EncryptedPrefix marks a configuration value as ciphertext produced
	// by Codec.Encrypt; the dispatcher strips it before calling Decrypt.
	EncryptedPrefix = "encrypted:"

	keychainPrefix = "winbuildd"
)

// CryptoError signals a decrypt failure (authentication tag mismatch or
// malformed ciphertext).
type CryptoError struct {
	Reason string
}

func (e *CryptoError) Error() string { return fmt.Sprintf("crypto error: %s", e.Reason) }

// Codec holds the process-wide 256-bit key and performs encrypt/decrypt/hash.
type Codec struct {
	key [32]byte
}

// NewCodec builds a Codec from a raw 32-byte key.
func NewCodec(key [32]byte) *Codec {
	return &Codec{key: key}
}

// NewCodecFromPassphrase derives a 256-bit key from an operator-supplied
// passphrase via HKDF-SHA256, for deployments that prefer a memorable
// secret over a generated key file.
func NewCodecFromPassphrase(passphrase, salt string) (*Codec, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte("winbuildd-credential-key"))
	var key [32]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return &Codec{key: key}, nil
}

// LoadOrGenerateKey resolves the process encryption key per §4.7/§6: use
// MCP_ENCRYPTION_KEY if set (base64), else read the persisted key file, else
// generate a fresh 32-byte key and persist it with restricted permissions.
func LoadOrGenerateKey(envKey, keyFilePath string) ([32]byte, error) {
	var key [32]byte

	if envKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(envKey)
		if err != nil || len(decoded) != 32 {
			return key, fmt.Errorf("MCP_ENCRYPTION_KEY must be 32 bytes, base64-encoded")
		}
		copy(key[:], decoded)
		return key, nil
	}

	if data, err := os.ReadFile(keyFilePath); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(decoded) == 32 {
			copy(key[:], decoded)
			return key, nil
		}
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("generating key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key[:])
	if err := os.WriteFile(keyFilePath, []byte(encoded), 0600); err != nil {
		return key, fmt.Errorf("persisting key: %w", err)
	}
	return key, nil
}

// Encrypt returns ciphertext prefixed with EncryptedPrefix.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt accepts either a raw or EncryptedPrefix-prefixed ciphertext and
// returns the plaintext, or a *CryptoError on authentication failure.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	trimmed := ciphertext
	if len(trimmed) >= len(EncryptedPrefix) && trimmed[:len(EncryptedPrefix)] == EncryptedPrefix {
		trimmed = trimmed[len(EncryptedPrefix):]
	}

	data, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", &CryptoError{Reason: "malformed ciphertext encoding"}
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", &CryptoError{Reason: err.Error()}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", &CryptoError{Reason: err.Error()}
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", &CryptoError{Reason: "ciphertext too short"}
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &CryptoError{Reason: "authentication tag mismatch"}
	}
	return string(plain), nil
}

// IsEncrypted reports whether a config value carries the ciphertext prefix.
func IsEncrypted(value string) bool {
	return len(value) >= len(EncryptedPrefix) && value[:len(EncryptedPrefix)] == EncryptedPrefix
}

// HashForLogging returns a short truncated SHA-256 hash, enough to
// correlate log lines without revealing the secret.
func HashForLogging(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:8]
}

// Keychain wraps Windows Credential Manager, directly adapted from the
// teacher's integration.Keychain. It stores and retrieves secrets by id;
// LoadOrGenerateKey does not use it, so the generated encryption key lives
// only in the key file.
type Keychain struct {
	prefix string
}

// NewKeychain builds a Keychain namespaced under keychainPrefix plus an
// optional operator-supplied suffix.
func NewKeychain(suffix string) *Keychain {
	prefix := keychainPrefix
	if suffix != "" {
		prefix = keychainPrefix + ":" + suffix
	}
	return &Keychain{prefix: prefix}
}

func (k *Keychain) credName(id string) string {
	return fmt.Sprintf("%s:%s", k.prefix, id)
}

// SetSecret stores a secret under id.
func (k *Keychain) SetSecret(id, secret string) error {
	cred := wincred.NewGenericCredential(k.credName(id))
	cred.CredentialBlob = []byte(secret)
	cred.Persist = wincred.PersistLocalMachine
	return cred.Write()
}

// GetSecret retrieves a secret previously stored under id.
func (k *Keychain) GetSecret(id string) (string, error) {
	cred, err := wincred.GetGenericCredential(k.credName(id))
	if err != nil {
		return "", err
	}
	return string(cred.CredentialBlob), nil
}

// RemoveSecret deletes a secret stored under id.
func (k *Keychain) RemoveSecret(id string) error {
	cred, err := wincred.GetGenericCredential(k.credName(id))
	if err != nil {
		return err
	}
	return cred.Delete()
}
