package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"crypto/rand"
)

// Streaming format constants. Large media files are encrypted as a sequence
// of independently sealed frames so that gigabyte-scale video never has to be
// buffered in memory:
//
//	salt (16) || nonce prefix (8) || frame...
//	frame: final flag (1) || sealed length (4, big-endian) || sealed chunk
//
// Each frame's nonce is the 8-byte prefix followed by a 4-byte big-endian
// frame counter, and the final flag is bound as additional authenticated
// data, so frames cannot be reordered, dropped or truncated without
// decryption failing.
const (
	// ChunkSize is the plaintext chunk size per frame.
	ChunkSize = 64 * 1024

	// noncePrefixLength is the random part of the per-file nonce; the
	// remaining 4 bytes are the frame counter.
	noncePrefixLength = NonceLength - 4

	streamHeaderLength = SaltLength + noncePrefixLength
	frameHeaderLength  = 1 + 4
)

// EncryptStream encrypts src into dst under the given password using the
// chunked streaming format. It returns the total number of bytes written to
// dst (the ciphertext size).
func EncryptStream(dst io.Writer, src io.Reader, password []byte) (int64, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return 0, fmt.Errorf("%w: salt generation", ErrEncryptionFailed)
	}
	prefix := make([]byte, noncePrefixLength)
	if _, err := rand.Read(prefix); err != nil {
		return 0, fmt.Errorf("%w: nonce generation", ErrEncryptionFailed)
	}

	key := deriveKey(password, salt)
	defer SecureWipe(key)
	gcm, err := newGCM(key)
	if err != nil {
		return 0, fmt.Errorf("%w: cipher init", ErrEncryptionFailed)
	}

	var written int64
	n, err := dst.Write(salt)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("crypto: failed to write header: %w", err)
	}
	n, err = dst.Write(prefix)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("crypto: failed to write header: %w", err)
	}

	nonce := make([]byte, NonceLength)
	copy(nonce, prefix)
	buf := make([]byte, ChunkSize)
	sealed := make([]byte, 0, ChunkSize+TagLength)
	var counter uint32

	for {
		cn, rerr := readFullOrEOF(src, buf)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return written, fmt.Errorf("crypto: failed to read source: %w", rerr)
		}
		final := errors.Is(rerr, io.EOF)

		binary.BigEndian.PutUint32(nonce[noncePrefixLength:], counter)
		aad := []byte{0}
		if final {
			aad[0] = 1
		}
		sealed = gcm.Seal(sealed[:0], nonce, buf[:cn], aad)

		var hdr [frameHeaderLength]byte
		hdr[0] = aad[0]
		binary.BigEndian.PutUint32(hdr[1:], uint32(len(sealed)))
		n, err = dst.Write(hdr[:])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("crypto: failed to write frame: %w", err)
		}
		n, err = dst.Write(sealed)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("crypto: failed to write frame: %w", err)
		}

		if final {
			return written, nil
		}
		if counter == ^uint32(0) {
			return written, fmt.Errorf("%w: stream too long", ErrEncryptionFailed)
		}
		counter++
	}
}

// DecryptStream decrypts a stream produced by EncryptStream, writing the
// plaintext to dst. It returns the number of plaintext bytes written.
//
// Wrong passwords, truncation, reordering and trailing garbage all surface as
// ErrDecryptionFailed; errors writing to dst are reported as-is.
func DecryptStream(dst io.Writer, src io.Reader, password []byte) (int64, error) {
	header := make([]byte, streamHeaderLength)
	if _, err := io.ReadFull(src, header); err != nil {
		return 0, ErrDecryptionFailed
	}
	salt := header[:SaltLength]
	prefix := header[SaltLength:]

	key := deriveKey(password, salt)
	defer SecureWipe(key)
	gcm, err := newGCM(key)
	if err != nil {
		return 0, ErrDecryptionFailed
	}

	nonce := make([]byte, NonceLength)
	copy(nonce, prefix)
	sealed := make([]byte, ChunkSize+TagLength)
	var written int64
	var counter uint32

	for {
		var hdr [frameHeaderLength]byte
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			// EOF here means the final frame never arrived: truncation.
			return written, ErrDecryptionFailed
		}
		if hdr[0] > 1 {
			return written, ErrDecryptionFailed
		}
		final := hdr[0] == 1
		sealedLen := binary.BigEndian.Uint32(hdr[1:])
		if sealedLen < TagLength || sealedLen > ChunkSize+TagLength {
			return written, ErrDecryptionFailed
		}
		if _, err := io.ReadFull(src, sealed[:sealedLen]); err != nil {
			return written, ErrDecryptionFailed
		}

		binary.BigEndian.PutUint32(nonce[noncePrefixLength:], counter)
		chunk, err := gcm.Open(nil, nonce, sealed[:sealedLen], hdr[:1])
		if err != nil {
			return written, ErrDecryptionFailed
		}

		n, err := dst.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("crypto: failed to write plaintext: %w", err)
		}

		if final {
			// Anything after the final frame is garbage.
			var trailer [1]byte
			if n, _ := src.Read(trailer[:]); n != 0 {
				return written, ErrDecryptionFailed
			}
			return written, nil
		}
		counter++
	}
}

// readFullOrEOF fills buf from r. It returns io.EOF alongside the byte count
// when the source ended before filling buf, including a count of zero.
func readFullOrEOF(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, err
}
