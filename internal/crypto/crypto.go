package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters for both the payload-key path and the digest path.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// SaltSize is the length of per-secret salts.
const SaltSize = 16

const keyInfo = "burnbox payload key v1"

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// NewToken generates an unguessable identifier with the given namespace
// prefix. 24 random bytes give 192 bits of entropy; the token is never
// derived from record content.
func NewToken(prefix string) (string, error) {
	raw, err := RandBytes(24)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DeriveKey derives the 32-byte payload encryption key from the
// site-wide secret, a per-secret salt, and the passphrase. The
// passphrase is first stretched with Argon2id, then expanded through
// HKDF-SHA256 keyed by the site secret, so reconstructing the key
// requires all three inputs.
func DeriveKey(siteSecret, passphrase, keySalt []byte) ([]byte, error) {
	stretched := argon2.IDKey(passphrase, keySalt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer Zero(stretched)

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, stretched, siteSecret, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving payload key: %w", err)
	}
	return key, nil
}

// DigestPassphrase computes the stored verification digest. It uses an
// independent salt from the key derivation path, so the digest by itself
// is never sufficient to decrypt the payload.
func DigestPassphrase(passphrase, digestSalt []byte) []byte {
	return argon2.IDKey(passphrase, digestSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassphrase checks an attempt against the stored digest in
// constant time.
func VerifyPassphrase(attempt, digestSalt, expected []byte) bool {
	got := DigestPassphrase(attempt, digestSalt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// Seal encrypts plaintext with AES-256-GCM. Returns ciphertext and nonce
// separately.
func Seal(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts AES-256-GCM ciphertext.
func Open(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// Zero overwrites a byte slice.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
