// Package crypto encrypts OAuth tokens at rest with AES-256-GCM. Ciphertexts
// are bound to the account they belong to, so a row copied onto another
// account fails to decrypt.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt hides the reason a ciphertext was refused.
var ErrDecrypt = errors.New("decryption failed: authentication or integrity check failed")

// Encryptor is an AEAD over byte slices. associated is authenticated but not
// encrypted.
type Encryptor interface {
	Encrypt(plaintext, associated []byte) ([]byte, error)
	Decrypt(ciphertext, associated []byte) ([]byte, error)
	// KeyID identifies the key without revealing it.
	KeyID() string
}

// AESEncryptor implements Encryptor with AES-256-GCM. Output layout is
// nonce || ciphertext || tag. Safe for concurrent use.
type AESEncryptor struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESEncryptor{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID returns the first 4 bytes of the key's SHA-256, hex encoded.
func (e *AESEncryptor) KeyID() string { return e.keyID }

// Encrypt seals plaintext with a fresh random nonce.
func (e *AESEncryptor) Encrypt(plaintext, associated []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, associated), nil
}

// Decrypt opens a ciphertext produced by Encrypt with the same associated data.
func (e *AESEncryptor) Decrypt(ciphertext, associated []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}
	n := e.aead.NonceSize()
	if len(ciphertext) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: got %d bytes", len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:n], ciphertext[n:], associated)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptString encrypts a token for a text column, bound to account.
// Empty input stays empty.
func EncryptString(enc Encryptor, plaintext, account string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := enc.Encrypt([]byte(plaintext), []byte(account))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func DecryptString(enc Encryptor, encoded, account string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := enc.Decrypt(ct, []byte(account))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
