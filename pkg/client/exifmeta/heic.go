package exifmeta

import (
	"encoding/binary"
	"errors"
	"io"
)

// HEIC stores EXIF as an item inside the ISO base media file format:
// the meta box names the item (iinf) and locates its bytes (iloc).
// Only construction method 0 (absolute file offsets) is handled, which
// is what phones actually write.

// maxHEICScan bounds how much of a HEIC file is buffered while looking
// for the Exif item.
const maxHEICScan = 32 << 20

var errNoExifItem = errors.New("no exif item")

// heicExifPayload returns the TIFF bytes of the Exif item, or nil when
// the file has none.
func heicExifPayload(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxHEICScan))
	if err != nil {
		return nil, err
	}

	meta := findBox(data, "meta")
	if meta == nil {
		return nil, errNoExifItem
	}
	// meta is a full box: skip version and flags.
	if len(meta) < 4 {
		return nil, errNoExifItem
	}
	inner := meta[4:]

	itemID, ok := exifItemID(findBox(inner, "iinf"))
	if !ok {
		return nil, errNoExifItem
	}
	offset, length, ok := locateItem(findBox(inner, "iloc"), itemID)
	if !ok {
		return nil, errNoExifItem
	}
	// Checked separately so a huge offset cannot wrap the sum.
	if length < 4 || offset > uint64(len(data)) || length > uint64(len(data))-offset {
		return nil, errNoExifItem
	}

	payload := data[offset : offset+length]
	// The item starts with a u32 offset to the TIFF header, covering the
	// "Exif\0\0" marker when present.
	tiffOffset := uint64(binary.BigEndian.Uint32(payload))
	if 4+tiffOffset >= length {
		return nil, errNoExifItem
	}
	return payload[4+tiffOffset:], nil
}

// findBox scans a run of sibling boxes for the first with the given
// type and returns its payload.
func findBox(data []byte, boxType string) []byte {
	for len(data) >= 8 {
		size := uint64(binary.BigEndian.Uint32(data))
		typ := string(data[4:8])
		headerLen := uint64(8)

		switch size {
		case 0:
			size = uint64(len(data))
		case 1:
			if len(data) < 16 {
				return nil
			}
			size = binary.BigEndian.Uint64(data[8:16])
			headerLen = 16
		}
		if size < headerLen || size > uint64(len(data)) {
			return nil
		}
		if typ == boxType {
			return data[headerLen:size]
		}
		data = data[size:]
	}
	return nil
}

// exifItemID walks the iinf box for the item whose type is "Exif".
func exifItemID(iinf []byte) (uint32, bool) {
	if len(iinf) < 6 {
		return 0, false
	}
	version := iinf[0]
	rest := iinf[4:]
	if version == 0 {
		rest = rest[2:]
	} else {
		if len(rest) < 4 {
			return 0, false
		}
		rest = rest[4:]
	}

	// The remaining bytes are infe boxes.
	for len(rest) >= 8 {
		size := int(binary.BigEndian.Uint32(rest))
		if size < 8 || size > len(rest) {
			return 0, false
		}
		if string(rest[4:8]) == "infe" {
			if id, ok := parseInfe(rest[8:size]); ok {
				return id, true
			}
		}
		rest = rest[size:]
	}
	return 0, false
}

func parseInfe(body []byte) (uint32, bool) {
	if len(body) < 4 {
		return 0, false
	}
	version := body[0]
	body = body[4:]
	if version < 2 {
		return 0, false
	}

	var itemID uint32
	if version == 2 {
		if len(body) < 8 {
			return 0, false
		}
		itemID = uint32(binary.BigEndian.Uint16(body))
		body = body[2:]
	} else {
		if len(body) < 10 {
			return 0, false
		}
		itemID = binary.BigEndian.Uint32(body)
		body = body[4:]
	}
	// protection index, then item type.
	if len(body) < 6 {
		return 0, false
	}
	if string(body[2:6]) != "Exif" {
		return 0, false
	}
	return itemID, true
}

// locateItem resolves an item id to its absolute file extent via iloc.
func locateItem(iloc []byte, wantID uint32) (offset, length uint64, ok bool) {
	if len(iloc) < 8 {
		return 0, 0, false
	}
	version := iloc[0]
	body := iloc[4:]

	offsetSize := int(body[0] >> 4)
	lengthSize := int(body[0] & 0xf)
	baseOffsetSize := int(body[1] >> 4)
	indexSize := 0
	if version == 1 || version == 2 {
		indexSize = int(body[1] & 0xf)
	}
	body = body[2:]

	var itemCount uint32
	if version < 2 {
		if len(body) < 2 {
			return 0, 0, false
		}
		itemCount = uint32(binary.BigEndian.Uint16(body))
		body = body[2:]
	} else {
		if len(body) < 4 {
			return 0, 0, false
		}
		itemCount = binary.BigEndian.Uint32(body)
		body = body[4:]
	}

	readUint := func(n int) (uint64, bool) {
		if n == 0 {
			return 0, true
		}
		if len(body) < n {
			return 0, false
		}
		var v uint64
		for i := 0; i < n; i++ {
			v = v<<8 | uint64(body[i])
		}
		body = body[n:]
		return v, true
	}

	for i := uint32(0); i < itemCount; i++ {
		var itemID uint32
		if version < 2 {
			if len(body) < 2 {
				return 0, 0, false
			}
			itemID = uint32(binary.BigEndian.Uint16(body))
			body = body[2:]
		} else {
			if len(body) < 4 {
				return 0, 0, false
			}
			itemID = binary.BigEndian.Uint32(body)
			body = body[4:]
		}

		constructionMethod := 0
		if version == 1 || version == 2 {
			if len(body) < 2 {
				return 0, 0, false
			}
			constructionMethod = int(binary.BigEndian.Uint16(body) & 0xf)
			body = body[2:]
		}
		if len(body) < 2 {
			return 0, 0, false
		}
		body = body[2:] // data reference index

		baseOffset, okRead := readUint(baseOffsetSize)
		if !okRead {
			return 0, 0, false
		}
		if len(body) < 2 {
			return 0, 0, false
		}
		extentCount := int(binary.BigEndian.Uint16(body))
		body = body[2:]

		for e := 0; e < extentCount; e++ {
			if _, okRead = readUint(indexSize); !okRead {
				return 0, 0, false
			}
			extentOffset, okRead := readUint(offsetSize)
			if !okRead {
				return 0, 0, false
			}
			extentLength, okRead := readUint(lengthSize)
			if !okRead {
				return 0, 0, false
			}
			if itemID == wantID && constructionMethod == 0 && e == 0 {
				return baseOffset + extentOffset, extentLength, true
			}
		}
	}
	return 0, 0, false
}
