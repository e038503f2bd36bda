// Package crypto implements the cipher engine for veilnote's vault.
//
// Every concealed asset is stored as a self-contained blob that embeds the
// key-derivation salt and the cipher nonce, so a blob plus the vault password
// is all that is needed to recover the plaintext.
//
// # Blob layout
//
//	salt (16 bytes) || nonce (12 bytes) || AES-256-GCM ciphertext+tag
//
// Keys are derived with Argon2id (64MB memory, 3 iterations, 4 threads).
// Blobs written by the original CBC implementation
// (salt(16) || iv(16) || AES-256-CBC ciphertext, PBKDF2-HMAC-SHA256 key)
// remain readable: Decrypt falls back to the legacy layout when GCM
// authentication fails and the blob shape matches.
//
// Decryption failures are deliberately indistinguishable: a wrong password, a
// truncated blob and a tampered blob all surface as ErrDecryptionFailed, and
// error messages never include plaintext or key material.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of the KDF salt in bytes (128 bits).
	SaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag in bytes.
	TagLength = 16
)

// Sentinel errors returned by the cipher engine.
var (
	// ErrEncryptionFailed indicates key derivation or cipher initialization
	// failed while encrypting.
	ErrEncryptionFailed = errors.New("crypto: encryption failed")

	// ErrDecryptionFailed indicates the blob could not be decrypted. This
	// covers wrong passwords, truncation and tampering alike; callers must
	// not be able to tell these apart.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// deriveKey derives a 256-bit key from a password using Argon2id.
func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
}

// newGCM builds an AES-256-GCM AEAD for the given key.
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext under the given password and returns a
// self-contained blob (salt || nonce || ciphertext+tag).
//
// A fresh random salt and nonce are generated for every call, so encrypting
// the same plaintext twice yields different blobs.
func Encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: salt generation", ErrEncryptionFailed)
	}
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation", ErrEncryptionFailed)
	}

	key := deriveKey(password, salt)
	defer SecureWipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init", ErrEncryptionFailed)
	}

	blob := make([]byte, 0, SaltLength+NonceLength+len(plaintext)+TagLength)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, nil)
	return blob, nil
}

// Decrypt decrypts a blob produced by Encrypt. Blobs in the legacy CBC layout
// are decrypted via the fallback path in legacy.go.
//
// Returns ErrDecryptionFailed for wrong passwords, truncated blobs and
// tampered blobs alike.
func Decrypt(blob, password []byte) ([]byte, error) {
	if len(blob) >= SaltLength+NonceLength+TagLength {
		salt := blob[:SaltLength]
		nonce := blob[SaltLength : SaltLength+NonceLength]
		ciphertext := blob[SaltLength+NonceLength:]

		key := deriveKey(password, salt)
		gcm, err := newGCM(key)
		if err != nil {
			SecureWipe(key)
			return nil, ErrDecryptionFailed
		}
		plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
		SecureWipe(key)
		if err == nil {
			return plaintext, nil
		}
	}

	// Not a valid GCM blob under this password. The blob may predate the
	// authenticated format; try the legacy CBC layout before giving up.
	if isLegacyShape(blob) {
		if plaintext, err := decryptLegacy(blob, password); err == nil {
			return plaintext, nil
		}
	}

	return nil, ErrDecryptionFailed
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation. Used to destroy derived
// keys and password buffers once they are no longer needed.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
