package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"

	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

// Version tag prepended to every ciphertext so the key scheme can rotate
// later without guessing at stored bytes.
const versionGCM byte = 0x01

const keySize = 32 // AES-256

var (
	ErrBadKey     = pkgError.CryptoError("vault key must be exactly 32 bytes")
	ErrTruncated  = pkgError.CryptoError("ciphertext too short")
	ErrBadVersion = pkgError.CryptoError("unknown ciphertext version")
	ErrDecrypt    = pkgError.CryptoError("decryption failed")
)

// ParseKey accepts the configured vault key as 64 hex characters or 32 raw
// bytes. Anything else is rejected; there is no padding or derivation.
func ParseKey(s string) ([]byte, error) {
	if len(s) == hex.EncodedLen(keySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if len(s) == keySize {
		return []byte(s), nil
	}
	return nil, ErrBadKey
}

// Vault seals per-user API keys with AES-256-GCM. Instances are read-only
// after New and safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pkgError.CryptoError("cipher init failed: " + err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, pkgError.CryptoError("gcm init failed: " + err.Error())
	}
	return &Vault{aead: gcm}, nil
}

// Encrypt returns version || nonce || sealed. Output length depends only on
// input length.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, pkgError.CryptoError("nonce generation failed")
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+v.aead.Overhead())
	out = append(out, versionGCM)
	out = append(out, nonce...)
	return v.aead.Seal(out, nonce, []byte(plaintext), nil), nil
}

// Decrypt rejects truncated buffers, unknown versions and any tampering.
// There is no plaintext passthrough: undecryptable input is an error.
func (v *Vault) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < 1+v.aead.NonceSize()+v.aead.Overhead() {
		return "", ErrTruncated
	}
	if ciphertext[0] != versionGCM {
		return "", ErrBadVersion
	}
	nonce := ciphertext[1 : 1+v.aead.NonceSize()]
	sealed := ciphertext[1+v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// Verify round-trips a probe value. Run at startup so a bad key fails fast
// instead of surfacing on the first user request.
func (v *Vault) Verify() error {
	const probe = "vault-self-check"
	sealed, err := v.Encrypt(probe)
	if err != nil {
		return err
	}
	got, err := v.Decrypt(sealed)
	if err != nil {
		return err
	}
	if got != probe {
		return ErrDecrypt
	}
	return nil
}
