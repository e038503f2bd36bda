package crypto

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

// encryptLegacy builds a blob in the original CBC layout. Only tests need to
// write this format; production code reads it for migration.
func encryptLegacy(t *testing.T, plaintext, password []byte) []byte {
	t.Helper()

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	iv := make([]byte, legacyIVLength)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}

	key := pbkdf2.Key(password, salt, legacyIterations, KeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes.NewCipher() error = %v", err)
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(bytes.Clone(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)

	ciphertext := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	blob := append(bytes.Clone(salt), iv...)
	return append(blob, ciphertext...)
}

// TestDecryptLegacyBlob verifies blobs written by the pre-GCM implementation
// remain readable through the fallback path.
func TestDecryptLegacyBlob(t *testing.T) {
	password := []byte("legacy vault password")

	for _, plaintext := range [][]byte{
		[]byte(""),
		[]byte("short"),
		bytes.Repeat([]byte("0123456789abcdef"), 4), // exact block multiple
		bytes.Repeat([]byte{0x42}, 1000),
	} {
		blob := encryptLegacy(t, plaintext, password)

		got, err := Decrypt(blob, password)
		if err != nil {
			t.Fatalf("Decrypt() legacy blob error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt() legacy = %q, want %q", got, plaintext)
		}
	}
}

// TestDecryptLegacyWrongPassword verifies the padding check rejects a wrong
// password (with overwhelming probability, CBC having no tag).
func TestDecryptLegacyWrongPassword(t *testing.T) {
	blob := encryptLegacy(t, []byte("concealed file contents"), []byte("right"))

	if _, err := Decrypt(blob, []byte("wrong")); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() legacy wrong password: error = %v, want ErrDecryptionFailed", err)
	}
}

// TestStripPKCS7 exercises the padding validator directly.
func TestStripPKCS7(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    []byte
		wantErr bool
	}{
		{"valid single byte pad", []byte{'a', 'b', 'c', 1}, []byte{'a', 'b', 'c'}, false},
		{"valid full block pad", bytes.Repeat([]byte{16}, 16), []byte{}, false},
		{"zero pad byte", []byte{'a', 0}, nil, true},
		{"pad exceeds block", append(bytes.Repeat([]byte{'x'}, 16), 17), nil, true},
		{"pad exceeds data", []byte{5}, nil, true},
		{"valid two byte pad", []byte{'a', 2, 2}, []byte{'a'}, false},
		{"broken pad run", []byte{'a', 3, 2, 3}, nil, true},
		{"empty input", []byte{}, nil, true},
	}

	for _, tt := range tests {
		got, err := stripPKCS7(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: stripPKCS7() error = nil, want error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: stripPKCS7() error = %v", tt.name, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: stripPKCS7() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
