package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// EncryptionManager encrypts and decrypts strings with AES-GCM, keyed from a password via SHA-256. A nil manager (no password
// configured) makes Encrypt/Decrypt pass values through unchanged; callers
// must not treat that as a silent failure, it's the documented fallback
// for deployments that haven't set TOKEN_PASSWORD yet.
type EncryptionManager struct {
	key []byte
}

// NewEncryptionManager derives a key from password, or returns nil if
// password is empty.
func NewEncryptionManager(password string) *EncryptionManager {
	if password == "" {
		return nil
	}
	hash := sha256.Sum256([]byte(password))
	return &EncryptionManager{key: hash[:]}
}

// Encrypt returns base64(nonce || ciphertext).
func (em *EncryptionManager) Encrypt(plaintext string) (string, error) {
	if em == nil || plaintext == "" {
		return plaintext, nil
	}

	block, err := aes.NewCipher(em.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt is the inverse of Encrypt.
func (em *EncryptionManager) Decrypt(ciphertext string) (string, error) {
	if em == nil || ciphertext == "" {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(em.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, encrypted := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// Enabled reports whether this manager actually encrypts (non-nil).
func (em *EncryptionManager) Enabled() bool {
	return em != nil
}
