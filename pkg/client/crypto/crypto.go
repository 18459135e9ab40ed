// Package crypto implements the client-side key hierarchy.
//
// The server never sees any of this material: the master key is derived
// on the device, file keys are wrapped under it, and only ciphertext
// leaves the machine.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. Fixed forever: changing any of them breaks
// decryption of existing backups.
const (
	pbkdf2Iterations = 30000
	MasterKeySize    = 32
	FileKeySize      = 32
	BaseNonceSize    = 16
	NonceSize        = 24
)

// ErrDecryptFailed means the box did not authenticate under the key.
var ErrDecryptFailed = errors.New("decryption failed")

// deviceNamespace scopes the deterministic device uuid derivation.
var deviceNamespace = uuid.MustParse("8f14c9a2-5a51-4f39-b0d4-7aa1c3f3a9ee")

// MasterKey derives the account master key from the credentials. The
// salt is the lowercased email, so the key survives device changes but
// not credential changes.
func MasterKey(email, password string) [MasterKeySize]byte {
	var key [MasterKeySize]byte
	derived := pbkdf2.Key([]byte(password), []byte(strings.ToLower(email)), pbkdf2Iterations, MasterKeySize, sha256.New)
	copy(key[:], derived)
	return key
}

// DeviceUUID derives a stable device identity from the credentials, so
// reinstalls keep the same tenant directory on the server.
func DeviceUUID(email, password string) string {
	seed := strings.ToLower(email) + ":" + password
	return uuid.NewSHA1(deviceNamespace, []byte(seed)).String()
}

// FileSecret is the fresh per-file key material.
type FileSecret struct {
	FileKey   [FileKeySize]byte
	BaseNonce [BaseNonceSize]byte
}

// NewFileSecret draws a fresh file key and base nonce.
func NewFileSecret() (*FileSecret, error) {
	var s FileSecret
	if _, err := rand.Read(s.FileKey[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(s.BaseNonce[:]); err != nil {
		return nil, err
	}
	return &s, nil
}

// Seal encrypts plaintext under key with a fresh random nonce, returning
// nonce and box separately.
func Seal(key *[MasterKeySize]byte, plaintext []byte) (nonce [NonceSize]byte, box []byte, err error) {
	if _, err = rand.Read(nonce[:]); err != nil {
		return nonce, nil, err
	}
	box = secretbox.Seal(nil, plaintext, &nonce, key)
	return nonce, box, nil
}

// SealWithNonce encrypts plaintext under key with the given nonce.
func SealWithNonce(key *[MasterKeySize]byte, nonce *[NonceSize]byte, plaintext []byte) []byte {
	return secretbox.Seal(nil, plaintext, nonce, key)
}

// Open decrypts a box sealed by Seal or SealWithNonce.
func Open(key *[MasterKeySize]byte, nonce *[NonceSize]byte, box []byte) ([]byte, error) {
	plaintext, ok := secretbox.Open(nil, box, nonce, key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// WrapFileKey seals the file key under the master key with a fresh wrap
// nonce. Both go into the manifest.
func WrapFileKey(master *[MasterKeySize]byte, secret *FileSecret) (wrapNonce [NonceSize]byte, wrapped []byte, err error) {
	return Seal(master, secret.FileKey[:])
}

// UnwrapFileKey recovers a file key from its manifest wrap.
func UnwrapFileKey(master *[MasterKeySize]byte, wrapNonce *[NonceSize]byte, wrapped []byte) (*[FileKeySize]byte, error) {
	raw, err := Open(master, wrapNonce, wrapped)
	if err != nil {
		return nil, err
	}
	if len(raw) != FileKeySize {
		return nil, ErrDecryptFailed
	}
	var key [FileKeySize]byte
	copy(key[:], raw)
	return &key, nil
}
