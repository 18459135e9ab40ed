package manifest

import (
	"testing"

	"github.com/photosync-io/photosync/pkg/client/crypto"
)

func TestStableID(t *testing.T) {
	a := StableID("IMG_0001.jpg", 1234)
	b := StableID("img_0001.JPG", 1234)
	if a != b {
		t.Error("stable id should be case-insensitive on the filename")
	}
	if a == StableID("IMG_0001.jpg", 1235) {
		t.Error("size change should change the id")
	}
	if len(a) != 64 {
		t.Errorf("id length = %d, want 64 hex chars", len(a))
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	master := crypto.MasterKey("a@b.c", "pw")
	rec := &Record{
		AssetID:        "asset-1",
		Filename:       "IMG_0001.jpg",
		MediaType:      "image/jpeg",
		OriginalSize:   4096,
		BaseNonce:      make([]byte, crypto.BaseNonceSize),
		WrapNonce:      make([]byte, crypto.NonceSize),
		WrappedFileKey: make([]byte, crypto.FileKeySize+16),
		ChunkIDs:       []string{"aa", "bb"},
		ChunkSizes:     []int64{2048, 2048},
		FileHash:       "deadbeef",
		PerceptualHash: "0f0f0f0f0f0f0f0f",
	}

	sealed, err := Seal(&master, rec)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := sealed.Encode()
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(&master, decoded)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.V != Version {
		t.Errorf("version = %d", got.V)
	}
	if got.Filename != rec.Filename || got.OriginalSize != rec.OriginalSize {
		t.Errorf("record = %+v", got)
	}
	if len(got.ChunkIDs) != 2 || got.ChunkIDs[1] != "bb" {
		t.Errorf("chunk ids = %v", got.ChunkIDs)
	}

	wrong := crypto.MasterKey("a@b.c", "wrong")
	if _, err := Open(&wrong, decoded); err != crypto.ErrDecryptFailed {
		t.Errorf("err = %v, want ErrDecryptFailed", err)
	}
}
