// Package vault protects sensitive strings at rest and verifies credentials.
//
// Encryption is AES-256-CBC with a fresh random IV per call, so encrypting the
// same plaintext twice never yields the same payload. Password hashing uses
// PBKDF2-HMAC-SHA512 with a per-password random salt.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Errors
var (
	ErrMissingSecret      = errors.New("encryption secret is required")
	ErrMalformedPayload   = errors.New("malformed encrypted payload")
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrEmptySalt          = errors.New("salt must not be empty")
	ErrInvalidHexEncoding = errors.New("invalid hex encoding")
)

const (
	ivSize     = aes.BlockSize // 16 bytes
	saltSize   = 32
	hashSize   = 64
	iterations = 10_000
)

// Vault performs symmetric encryption and password hashing with a key derived
// from a configured secret.
type Vault struct {
	key []byte // 32 bytes, SHA-256 of the secret
}

// New creates a vault from the configured secret. The secret is required at
// startup: an empty secret is a configuration error, not a per-call failure.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	key := sha256.Sum256([]byte(secret))
	return &Vault{key: key[:]}, nil
}

// Credential is a salted password hash, both parts hex-encoded.
type Credential struct {
	Hash string `json:"hash"`
	Salt string `json:"salt"`
}

// Encrypt encrypts plaintext and returns "ivHex:cipherHex". A fresh random IV
// is generated per call, so repeated encryptions of the same input differ.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt is the exact inverse of Encrypt. It fails closed: a payload that is
// not the two-part iv:ciphertext structure, or that does not decrypt to validly
// padded plaintext, returns an error rather than garbage.
func (v *Vault) Decrypt(payload string) (string, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrMalformedPayload
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrMalformedPayload
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrMalformedPayload
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(unpadded), nil
}

// HashPassword derives a slow PBKDF2-HMAC-SHA512 hash of the password. When
// saltHex is empty a fresh random 32-byte salt is generated. The same password
// and salt always reproduce the identical hash.
func (v *Vault) HashPassword(password, saltHex string) (Credential, error) {
	var salt []byte
	if saltHex == "" {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return Credential{}, fmt.Errorf("generate salt: %w", err)
		}
	} else {
		var err error
		if salt, err = hex.DecodeString(saltHex); err != nil {
			return Credential{}, ErrInvalidHexEncoding
		}
		if len(salt) == 0 {
			return Credential{}, ErrEmptySalt
		}
	}

	hash := pbkdf2.Key([]byte(password), salt, iterations, hashSize, sha512.New)
	return Credential{
		Hash: hex.EncodeToString(hash),
		Salt: hex.EncodeToString(salt),
	}, nil
}

// VerifyPassword recomputes the hash for the given salt and compares in
// constant time to avoid timing side-channels.
func (v *Vault) VerifyPassword(password, hashHex, saltHex string) (bool, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, ErrInvalidHexEncoding
	}
	if len(salt) == 0 {
		return false, ErrEmptySalt
	}
	expected, err := hex.DecodeString(hashHex)
	if err != nil {
		return false, ErrInvalidHexEncoding
	}

	hash := pbkdf2.Key([]byte(password), salt, iterations, hashSize, sha512.New)
	return subtle.ConstantTimeCompare(hash, expected) == 1, nil
}

// pkcs7Pad appends PKCS#7 padding up to the block size.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// pkcs7Unpad strips and validates PKCS#7 padding.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding length")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding byte")
		}
	}
	return data[:len(data)-padLen], nil
}
