package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

// TestEncryptDecryptRoundTrip verifies decrypt(encrypt(p, k), k) == p.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	password := []byte("vault-master-password")

	plaintexts := [][]byte{
		{},
		[]byte("x"),
		[]byte("the quick brown fox jumps over the lazy dog"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, plaintext := range plaintexts {
		blob, err := Encrypt(plaintext, password)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}

		if len(blob) != SaltLength+NonceLength+len(plaintext)+TagLength {
			t.Errorf("Encrypt() blob length = %d, want %d",
				len(blob), SaltLength+NonceLength+len(plaintext)+TagLength)
		}

		got, err := Decrypt(blob, password)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt() = %q, want %q", got, plaintext)
		}
	}
}

// TestEncryptIsRandomized verifies fresh salt and nonce per call.
func TestEncryptIsRandomized(t *testing.T) {
	password := []byte("pw")
	plaintext := []byte("same plaintext")

	blob1, err := Encrypt(plaintext, password)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	blob2, err := Encrypt(plaintext, password)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if bytes.Equal(blob1, blob2) {
		t.Error("Encrypt() produced identical blobs for two calls")
	}
	if bytes.Equal(blob1[:SaltLength], blob2[:SaltLength]) {
		t.Error("Encrypt() reused the salt")
	}
}

// TestDecryptWrongPassword verifies a wrong password fails with
// ErrDecryptionFailed rather than returning wrong plaintext.
func TestDecryptWrongPassword(t *testing.T) {
	blob, err := Encrypt([]byte("secret payload"), []byte("correct password"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = Decrypt(blob, []byte("wrong password"))
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
	}
}

// TestDecryptTamperedBlob verifies GCM authentication catches bit flips in
// salt, nonce, ciphertext and tag positions.
func TestDecryptTamperedBlob(t *testing.T) {
	password := []byte("pw")
	blob, err := Encrypt([]byte("integrity matters"), password)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for _, pos := range []int{0, SaltLength, SaltLength + NonceLength, len(blob) - 1} {
		tampered := bytes.Clone(blob)
		tampered[pos] ^= 0x01
		if _, err := Decrypt(tampered, password); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Decrypt() with byte %d flipped: error = %v, want ErrDecryptionFailed", pos, err)
		}
	}
}

// TestDecryptMalformedBlob verifies short and empty blobs fail cleanly.
func TestDecryptMalformedBlob(t *testing.T) {
	for _, size := range []int{0, 1, SaltLength, SaltLength + NonceLength, SaltLength + NonceLength + TagLength - 1} {
		blob := make([]byte, size)
		if _, err := rand.Read(blob); err != nil {
			t.Fatalf("rand.Read() error = %v", err)
		}
		if _, err := Decrypt(blob, []byte("pw")); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Decrypt() with %d-byte blob: error = %v, want ErrDecryptionFailed", size, err)
		}
	}
}

// TestSecureWipe verifies the buffer is zeroed.
func TestSecureWipe(t *testing.T) {
	b := []byte("sensitive key material")
	SecureWipe(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("SecureWipe() left byte %d = %#x, want 0", i, v)
		}
	}
}
