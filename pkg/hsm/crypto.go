package hsm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/aead/cmac"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Salt is the fixed salt used by DeriveStaticKeys, matching the
// vendor password-to-key derivation this library's DeriveStaticKeys
// helper replicates.
const pbkdf2Salt = "Yubico"

const pbkdf2Iterations = 10000

// aesECBEncryptBlock encrypts exactly one 16-byte block under key with
// no chaining. Used for the SCP03 counter-to-IV transform and for
// deriving fixed-length cryptographic material.
func aesECBEncryptBlock(key, block []byte) ([]byte, error) {
	if len(block) != aes.BlockSize {
		return nil, fmt.Errorf("hsm: ECB block must be %d bytes, got %d", aes.BlockSize, len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aes.BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// aesCBCEncryptNoPad encrypts data, which must already be a multiple
// of the AES block size, under key with the given IV and no internal
// padding — SCP03 callers apply ISO/IEC 9797-1 Method 2 padding
// themselves via padMethod2.
func aesCBCEncryptNoPad(key, iv, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("hsm: CBC input not block-aligned: %d bytes", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// aesCBCDecryptNoPad is the inverse of aesCBCEncryptNoPad.
func aesCBCDecryptNoPad(key, iv, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("hsm: CBC input not block-aligned: %d bytes", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// padMethod2 applies ISO/IEC 9797-1 padding method 2: append 0x80 then
// zero bytes up to the next 16-byte multiple. Always appends at least
// one byte, even if data is already block-aligned.
func padMethod2(data []byte) []byte {
	padLen := aes.BlockSize - (len(data) % aes.BlockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

// unpadMethod2 strips ISO/IEC 9797-1 method 2 padding, returning an
// error if the padding marker is missing.
func unpadMethod2(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 {
		return nil, fmt.Errorf("hsm: invalid method-2 padding")
	}
	return data[:idx], nil
}

// aesCMAC computes the AES-CMAC of msg under key, using
// github.com/aead/cmac rather than a hand-rolled subkey derivation.
func aesCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	if _, err := mac.Write(msg); err != nil {
		return nil, err
	}
	return mac.Sum(nil), nil
}

// constantTimeEqual reports whether a and b are equal, in time
// independent of where they first differ. Any comparison of secret
// material — MAC tags, cryptograms, derived keys — must go through
// this rather than bytes.Equal.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// randomBytes draws n cryptographically secure random bytes from the
// package CSPRNG source.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("hsm: reading random bytes: %w", err)
	}
	return b, nil
}

// DeriveStaticKeys derives a (k_enc, k_mac) StaticKeys pair from a
// password using PBKDF2-HMAC-SHA256 with the fixed 10,000-iteration,
// "Yubico"-salt scheme the device's factory-default credential uses.
// It is provided as a convenience for callers bootstrapping from a
// password rather than raw key material; the core protocol never
// calls it itself.
func DeriveStaticKeys(password string) (*StaticKeys, error) {
	derived := pbkdf2.Key([]byte(password), []byte(pbkdf2Salt), pbkdf2Iterations, 32, sha256.New)
	keys, err := NewStaticKeys(derived[:16], derived[16:])
	if err != nil {
		return nil, err
	}
	return keys, nil
}
