// Package crypto encrypts server passwords at rest with AES-256-GCM. The
// key lives next to the profile database and is created on first use.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	KeySize     = 32 // AES-256
	KeyFileName = ".secrets.key"

	// EncPrefix marks encrypted values in the database. A stored value
	// without it is rejected rather than silently treated as plaintext.
	EncPrefix = "enc:v1:"
)

// KeyPath returns the path of the encryption key for the given database.
func KeyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), KeyFileName)
}

// LoadKey reads an existing encryption key. It returns nil, nil when the
// key file does not exist yet.
func LoadKey(keyPath string) ([]byte, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read encryption key: %w", err)
	}
	defer f.Close()

	// Windows reports synthetic mode bits, skip the permission check there.
	if runtime.GOOS != "windows" {
		if info, statErr := f.Stat(); statErr == nil {
			if perm := info.Mode().Perm(); perm&0o077 != 0 {
				log.Printf("[config] WARNING: encryption key %s has mode 0%o, expected 0600", keyPath, perm)
			}
		}
	}

	key, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: read encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("config: encryption key at %s has size %d, expected %d", keyPath, len(key), KeySize)
	}
	return key, nil
}

// CreateKey generates a fresh key and writes it to keyPath with O_EXCL so
// that concurrent invocations cannot clobber each other: whichever process
// creates the file first wins and the loser reads that key back.
//
// Callers must first verify that no encrypted values already exist, since
// they would become unreadable under a new key.
func CreateKey(keyPath string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("config: generate encryption key: %w", err)
	}

	f, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			existing, loadErr := LoadKey(keyPath)
			if loadErr != nil {
				return nil, loadErr
			}
			if existing == nil {
				return nil, fmt.Errorf("config: encryption key %s vanished during creation", keyPath)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("config: create encryption key: %w", err)
	}

	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(keyPath)
		return nil, fmt.Errorf("config: write encryption key: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(keyPath)
		return nil, fmt.Errorf("config: close encryption key: %w", err)
	}

	return key, nil
}

// IsEncrypted reports whether a stored value carries the encryption prefix.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, EncPrefix)
}

// Encrypt seals plaintext with AES-256-GCM and returns a prefixed base64
// string suitable for storage.
func Encrypt(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(key []byte, stored string) (string, error) {
	if !IsEncrypted(stored) {
		return "", fmt.Errorf("config: value is not encrypted (missing %s prefix)", EncPrefix)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncPrefix))
	if err != nil {
		return "", fmt.Errorf("config: decode encrypted value: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("config: encrypted value too short")
	}

	plaintext, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("config: decrypt value: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
