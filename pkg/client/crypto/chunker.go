package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

// ChunkSize is the fixed plaintext chunk size (2 MiB). Every client
// must use the same size or chunk-level dedup breaks.
const ChunkSize = 2 * 1024 * 1024

// EncryptedChunk is one sealed chunk ready for upload.
type EncryptedChunk struct {
	Index      int
	ChunkID    string
	Ciphertext []byte
}

// ChunkNonce derives the nonce for chunk i: the 16-byte base nonce
// followed by the chunk index as a little-endian u64.
func ChunkNonce(baseNonce *[BaseNonceSize]byte, index uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[:BaseNonceSize], baseNonce[:])
	binary.LittleEndian.PutUint64(nonce[BaseNonceSize:], index)
	return nonce
}

// EncryptChunk seals one plaintext chunk and computes its id, the hex
// SHA-256 of the ciphertext.
func EncryptChunk(secret *FileSecret, index int, plaintext []byte) *EncryptedChunk {
	nonce := ChunkNonce(&secret.BaseNonce, uint64(index))
	ciphertext := SealWithNonce(&secret.FileKey, &nonce, plaintext)
	sum := sha256.Sum256(ciphertext)
	return &EncryptedChunk{
		Index:      index,
		ChunkID:    hex.EncodeToString(sum[:]),
		Ciphertext: ciphertext,
	}
}

// DecryptChunk opens chunk i of a file.
func DecryptChunk(secret *FileSecret, index int, ciphertext []byte) ([]byte, error) {
	nonce := ChunkNonce(&secret.BaseNonce, uint64(index))
	return Open(&secret.FileKey, &nonce, ciphertext)
}

// EncryptStream reads r in fixed-size chunks and seals each one. The
// whole file is never held in memory; callers consume chunks as they
// are produced.
func EncryptStream(secret *FileSecret, r io.Reader, fn func(*EncryptedChunk) error) error {
	buf := make([]byte, ChunkSize)
	for index := 0; ; index++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := EncryptChunk(secret, index, buf[:n])
			if cbErr := fn(chunk); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
