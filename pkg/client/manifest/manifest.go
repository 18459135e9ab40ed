// Package manifest defines the per-file backup record and its sealed
// wire form. The plaintext record never leaves the device; the server
// stores only the sealed envelope under the manifest id.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/photosync-io/photosync/pkg/client/crypto"
)

// Version is the current record version. Readers reject anything else.
const Version = 1

// ErrUnsupportedVersion means the record was written by a newer client.
var ErrUnsupportedVersion = errors.New("unsupported manifest version")

// Record is the plaintext manifest for one backed-up file.
type Record struct {
	V               int      `json:"v"`
	AssetID         string   `json:"assetId"`
	Filename        string   `json:"filename"`
	MediaType       string   `json:"mediaType"`
	OriginalSize    int64    `json:"originalSize"`
	CreationTime    int64    `json:"creationTime,omitempty"`
	ExifCaptureTime int64    `json:"exifCaptureTime,omitempty"`
	ExifMake        string   `json:"exifMake,omitempty"`
	ExifModel       string   `json:"exifModel,omitempty"`
	BaseNonce       []byte   `json:"baseNonce16"`
	WrapNonce       []byte   `json:"wrapNonce"`
	WrappedFileKey  []byte   `json:"wrappedFileKey"`
	ChunkIDs        []string `json:"chunkIds"`
	ChunkSizes      []int64  `json:"chunkSizes"`
	FileHash        string   `json:"fileHash,omitempty"`
	PerceptualHash  string   `json:"perceptualHash,omitempty"`
}

// Sealed is the wire form stored on the server.
type Sealed struct {
	ManifestNonce []byte `json:"manifestNonce"`
	ManifestBox   []byte `json:"manifestBox"`
}

// StableID derives the manifest id from filename and size. Lowercasing
// the name keeps the id stable across filesystems that differ in case
// handling; the same file always maps to the same server-side slot.
func StableID(filename string, size int64) string {
	sum := sha256.Sum256([]byte("file:" + strings.ToLower(filename) + ":" + strconv.FormatInt(size, 10)))
	return hex.EncodeToString(sum[:])
}

// Seal encrypts the record under the master key.
func Seal(master *[crypto.MasterKeySize]byte, rec *Record) (*Sealed, error) {
	rec.V = Version
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	nonce, box, err := crypto.Seal(master, plaintext)
	if err != nil {
		return nil, err
	}
	return &Sealed{ManifestNonce: nonce[:], ManifestBox: box}, nil
}

// Open decrypts a sealed manifest and checks its version.
func Open(master *[crypto.MasterKeySize]byte, sealed *Sealed) (*Record, error) {
	if len(sealed.ManifestNonce) != crypto.NonceSize {
		return nil, crypto.ErrDecryptFailed
	}
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], sealed.ManifestNonce)

	plaintext, err := crypto.Open(master, &nonce, sealed.ManifestBox)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, err
	}
	if rec.V != Version {
		return nil, ErrUnsupportedVersion
	}
	return &rec, nil
}

// Encode serializes a sealed manifest for upload.
func (s *Sealed) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses the sealed manifest payload fetched from the server.
func Decode(data string) (*Sealed, error) {
	var s Sealed
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
