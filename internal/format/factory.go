package format

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

// NewBlock builds the typed block for a parsed payload. cipher may be nil
// when no encrypted block will be read; such blocks then fail on access.
// Unknown types are preserved as UnrecognizedBlock.
func NewBlock(t BlockType, payload []byte, cipher HeaderCipher) (HeaderBlock, error) {
	switch t {
	case BlockPreamble:
		if len(payload) != crypto.HmacSize {
			return nil, fmt.Errorf("preamble is %d bytes, want %d", len(payload), crypto.HmacSize)
		}
		var h crypto.Hmac
		copy(h[:], payload)
		return NewPreambleBlock(h), nil

	case BlockVersion:
		if len(payload) != versionPayloadLen {
			return nil, fmt.Errorf("version block is %d bytes, want %d", len(payload), versionPayloadLen)
		}
		b := &VersionBlock{}
		copy(b.v[:], payload)
		return b, nil

	case BlockKeyWrap1:
		return parseKeyWrap1(payload)

	case BlockIdTag:
		return NewIdTagBlock(string(payload)), nil

	case BlockData:
		if len(payload) != dataPayloadLen {
			return nil, fmt.Errorf("data block is %d bytes, want %d", len(payload), dataPayloadLen)
		}
		return NewDataBlock(int64(binary.LittleEndian.Uint64(payload))), nil

	case BlockEncryptionInfo, BlockCompression, BlockCompressionInfo,
		BlockFileInfo, BlockFileNameInfo, BlockUnicodeFileNameInfo:
		return newEncryptedFromWire(t, payload, cipher)

	default:
		return NewUnrecognizedBlock(t, payload), nil
	}
}

var minEncryptedLen = map[BlockType]int{
	BlockEncryptionInfo:      encryptionInfoLen,
	BlockCompression:         4,
	BlockCompressionInfo:     8,
	BlockFileInfo:            24,
	BlockFileNameInfo:        crypto.BlockSize,
	BlockUnicodeFileNameInfo: crypto.BlockSize,
}

func newEncryptedFromWire(t BlockType, payload []byte, cipher HeaderCipher) (HeaderBlock, error) {
	if len(payload) == 0 || len(payload)%crypto.BlockSize != 0 || len(payload) < minEncryptedLen[t] {
		return nil, fmt.Errorf("%s block has invalid length %d", t, len(payload))
	}

	eb := encryptedBlock{typ: t, payload: append([]byte(nil), payload...), cipher: cipher}
	switch t {
	case BlockEncryptionInfo:
		return &EncryptionInfoBlock{eb}, nil
	case BlockCompression:
		return &CompressionBlock{eb}, nil
	case BlockCompressionInfo:
		return &CompressionInfoBlock{eb}, nil
	case BlockFileInfo:
		return &FileInfoBlock{eb}, nil
	case BlockFileNameInfo:
		return &FileNameInfoBlock{eb}, nil
	default:
		return &UnicodeFileNameInfoBlock{eb}, nil
	}
}

// Marshal frames b as length prefix, type byte and payload.
func Marshal(b HeaderBlock) []byte {
	payload := b.Payload()
	out := make([]byte, PrefixLength+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(out)))
	out[4] = byte(b.Type())
	copy(out[PrefixLength:], payload)
	return out
}

// WriteBlock writes one framed block.
func WriteBlock(w io.Writer, b HeaderBlock) error {
	if _, err := w.Write(Marshal(b)); err != nil {
		return fmt.Errorf("write %s block: %w", b.Type(), err)
	}
	return nil
}
