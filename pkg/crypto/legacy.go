package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// Legacy blob parameters. Earlier releases wrote
// salt(16) || iv(16) || AES-256-CBC ciphertext with PKCS#7 padding, keyed by
// PBKDF2-HMAC-SHA256 over 10,000 iterations.
const (
	legacyIVLength   = 16
	legacyIterations = 10000
)

// isLegacyShape reports whether the blob could plausibly be a legacy CBC
// blob: header plus at least one cipher block, with the ciphertext a whole
// number of blocks.
func isLegacyShape(blob []byte) bool {
	body := len(blob) - SaltLength - legacyIVLength
	return body >= aes.BlockSize && body%aes.BlockSize == 0
}

// decryptLegacy decrypts a legacy CBC blob. CBC has no integrity tag, so a
// wrong password usually (but not always) shows up as a padding error; the
// caller collapses every failure into ErrDecryptionFailed regardless.
func decryptLegacy(blob, password []byte) ([]byte, error) {
	salt := blob[:SaltLength]
	iv := blob[SaltLength : SaltLength+legacyIVLength]
	ciphertext := blob[SaltLength+legacyIVLength:]

	key := pbkdf2.Key(password, salt, legacyIterations, KeyLength, sha256.New)
	defer SecureWipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext)
}

// stripPKCS7 validates and removes PKCS#7 padding.
func stripPKCS7(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrDecryptionFailed
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(b) {
		return nil, ErrDecryptionFailed
	}
	for _, v := range b[len(b)-pad:] {
		if int(v) != pad {
			return nil, ErrDecryptionFailed
		}
	}
	return b[:len(b)-pad], nil
}
