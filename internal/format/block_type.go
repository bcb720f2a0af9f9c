package format

import "fmt"

// BlockType tags a header block on the wire.
type BlockType byte

const (
	BlockNone                BlockType = 0
	BlockPreamble            BlockType = 2
	BlockVersion             BlockType = 3
	BlockKeyWrap1            BlockType = 4
	BlockKeyWrap2            BlockType = 5
	BlockIdTag               BlockType = 6
	BlockData                BlockType = 63
	BlockEncrypted           BlockType = 64
	BlockFileNameInfo        BlockType = 65
	BlockEncryptionInfo      BlockType = 66
	BlockCompressionInfo     BlockType = 67
	BlockFileInfo            BlockType = 68
	BlockCompression         BlockType = 69
	BlockUnicodeFileNameInfo BlockType = 70
)

const (
	// MaxBlockType is the largest legal type code.
	MaxBlockType = 127

	// MaxBlockLength bounds the framed length of one block.
	MaxBlockLength = 0xFFFFF

	// PrefixLength is the u32 length plus the u8 type.
	PrefixLength = 5
)

// IsEncrypted reports whether payloads of t are ECB-encrypted under the headers subkey.
func (t BlockType) IsEncrypted() bool {
	return t >= BlockEncrypted
}

func (t BlockType) String() string {
	switch t {
	case BlockNone:
		return "None"
	case BlockPreamble:
		return "Preamble"
	case BlockVersion:
		return "Version"
	case BlockKeyWrap1:
		return "KeyWrap1"
	case BlockKeyWrap2:
		return "KeyWrap2"
	case BlockIdTag:
		return "IdTag"
	case BlockData:
		return "Data"
	case BlockEncrypted:
		return "Encrypted"
	case BlockFileNameInfo:
		return "FileNameInfo"
	case BlockEncryptionInfo:
		return "EncryptionInfo"
	case BlockCompressionInfo:
		return "CompressionInfo"
	case BlockFileInfo:
		return "FileInfo"
	case BlockCompression:
		return "Compression"
	case BlockUnicodeFileNameInfo:
		return "UnicodeFileNameInfo"
	default:
		return fmt.Sprintf("Unrecognized(%d)", byte(t))
	}
}
