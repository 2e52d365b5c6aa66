package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize        = 32
	nonceSize      = 12
	pbkdf2Iters    = 100000
	derivationSalt = "agentgate-credentials-v1"
)

// encryptor applies AES-256-GCM to provider secrets at rest. A nil gcm means
// encryption is disabled and values pass through unchanged.
type encryptor struct {
	gcm cipher.AEAD
}

// newEncryptor accepts either 64 hex characters (a raw 32-byte key) or a
// passphrase of at least 32 bytes, per CREDENTIALS_ENCRYPTION_KEY.
func newEncryptor(secret string) (*encryptor, error) {
	if secret == "" {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if len(secret) == keySize*2 {
		if key, err := hex.DecodeString(secret); err == nil {
			return key, nil
		}
	}

	if len(secret) < keySize {
		return nil, fmt.Errorf("encryption key must be 64 hex characters or at least %d bytes", keySize)
	}

	return pbkdf2.Key([]byte(secret), []byte(derivationSalt), pbkdf2Iters, keySize, sha256.New), nil
}

// Enabled reports whether at-rest encryption is active.
func (e *encryptor) Enabled() bool {
	return e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
