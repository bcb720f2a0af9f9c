package format

import (
	"encoding/binary"
	"fmt"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

// HeaderBlock is one immutable, typed unit of the container header.
// Payload returns the bytes as they appear on the wire, after any encryption.
type HeaderBlock interface {
	Type() BlockType
	Payload() []byte
}

// PreambleBlock carries the document HMAC.
type PreambleBlock struct {
	hmac crypto.Hmac
}

// NewPreambleBlock returns a preamble holding h.
func NewPreambleBlock(h crypto.Hmac) *PreambleBlock {
	return &PreambleBlock{hmac: h}
}

func (b *PreambleBlock) Type() BlockType { return BlockPreamble }

func (b *PreambleBlock) Payload() []byte {
	out := make([]byte, crypto.HmacSize)
	copy(out, b.hmac[:])
	return out
}

// Hmac returns the stored HMAC.
func (b *PreambleBlock) Hmac() crypto.Hmac { return b.hmac }

// Version numbers stamped on new documents.
const (
	FileVersionMajor  = 3
	FileVersionMinor  = 2
	VersionMajor      = 2
	VersionMinor      = 0
	VersionMinuscule  = 0
	versionPayloadLen = 5
)

// VersionBlock records the file format and writer versions.
type VersionBlock struct {
	v [versionPayloadLen]byte
}

// NewVersionBlock stamps the current format version.
func NewVersionBlock() *VersionBlock {
	return &VersionBlock{v: [versionPayloadLen]byte{
		FileVersionMajor, FileVersionMinor, VersionMajor, VersionMinor, VersionMinuscule,
	}}
}

func (b *VersionBlock) Type() BlockType { return BlockVersion }

func (b *VersionBlock) Payload() []byte {
	out := make([]byte, versionPayloadLen)
	copy(out, b.v[:])
	return out
}

// FileVersionMajor returns the format major version.
func (b *VersionBlock) FileVersionMajor() byte { return b.v[0] }

// FileVersionMinor returns the format minor version.
func (b *VersionBlock) FileVersionMinor() byte { return b.v[1] }

// WriterVersion formats the writing program's version.
func (b *VersionBlock) WriterVersion() string {
	return fmt.Sprintf("%d.%d.%d", b.v[2], b.v[3], b.v[4])
}

const (
	wrappedKeyLen     = 24
	keyWrap1SaltLen   = 16
	keyWrap1Len       = wrappedKeyLen + keyWrap1SaltLen + 4
	legacyFileVersion = 1
)

// KeyWrap1Block stores the master key wrapped under the passphrase key.
type KeyWrap1Block struct {
	wrapped    [wrappedKeyLen]byte
	salt       crypto.KeyWrapSalt
	iterations uint32
}

// WrapMasterKey wraps master under kek and returns the block recording the result.
func WrapMasterKey(master, kek crypto.AesKey, salt crypto.KeyWrapSalt, iterations int64) (*KeyWrap1Block, error) {
	if salt.Len() != keyWrap1SaltLen {
		return nil, fmt.Errorf("%w: key wrap salt must be %d bytes", crypto.ErrInvalidSalt, keyWrap1SaltLen)
	}
	if iterations > int64(^uint32(0)) {
		return nil, fmt.Errorf("%w: %d iterations do not fit the block", crypto.ErrIterations, iterations)
	}

	kw, err := crypto.NewKeyWrap(kek, salt, iterations, crypto.KeyWrapAxCrypt)
	if err != nil {
		return nil, err
	}
	wrapped, err := kw.Wrap(master.Bytes())
	if err != nil {
		return nil, err
	}
	if len(wrapped) != wrappedKeyLen {
		return nil, fmt.Errorf("%w: master key must be 128 bits", crypto.ErrInvalidKey)
	}

	b := &KeyWrap1Block{salt: salt, iterations: uint32(iterations)}
	copy(b.wrapped[:], wrapped)
	return b, nil
}

func parseKeyWrap1(payload []byte) (*KeyWrap1Block, error) {
	if len(payload) != keyWrap1Len {
		return nil, fmt.Errorf("key wrap block is %d bytes, want %d", len(payload), keyWrap1Len)
	}
	salt, err := crypto.NewKeyWrapSalt(payload[wrappedKeyLen : wrappedKeyLen+keyWrap1SaltLen])
	if err != nil {
		return nil, err
	}
	b := &KeyWrap1Block{
		salt:       salt,
		iterations: binary.LittleEndian.Uint32(payload[wrappedKeyLen+keyWrap1SaltLen:]),
	}
	copy(b.wrapped[:], payload[:wrappedKeyLen])
	return b, nil
}

func (b *KeyWrap1Block) Type() BlockType { return BlockKeyWrap1 }

func (b *KeyWrap1Block) Payload() []byte {
	out := make([]byte, keyWrap1Len)
	copy(out, b.wrapped[:])
	copy(out[wrappedKeyLen:], b.salt.Bytes())
	binary.LittleEndian.PutUint32(out[wrappedKeyLen+keyWrap1SaltLen:], b.iterations)
	return out
}

// Salt returns the key-wrap salt.
func (b *KeyWrap1Block) Salt() crypto.KeyWrapSalt { return b.salt }

// Iterations returns the key-wrap iteration count.
func (b *KeyWrap1Block) Iterations() int64 { return int64(b.iterations) }

// UnwrapMasterKey recovers the master key. A wrong kek returns ok=false.
// Documents of format version 1 or earlier used a truncated key and salt.
func (b *KeyWrap1Block) UnwrapMasterKey(kek crypto.AesKey, fileVersionMajor byte) (crypto.AesKey, bool, error) {
	salt := b.salt
	if fileVersionMajor <= legacyFileVersion {
		kek, salt = crypto.LegacyTruncate(kek, salt)
	}

	kw, err := crypto.NewKeyWrap(kek, salt, int64(b.iterations), crypto.KeyWrapAxCrypt)
	if err != nil {
		return crypto.AesKey{}, false, err
	}

	material, err := kw.Unwrap(b.wrapped[:])
	if err != nil {
		return crypto.AesKey{}, false, err
	}
	if len(material) == 0 {
		return crypto.AesKey{}, false, nil
	}

	master, err := crypto.NewAesKey(material)
	if err != nil {
		return crypto.AesKey{}, false, err
	}
	return master, true, nil
}

// IdTagBlock carries a plaintext UTF-8 identifier.
type IdTagBlock struct {
	tag string
}

// NewIdTagBlock returns a tag block.
func NewIdTagBlock(tag string) *IdTagBlock {
	return &IdTagBlock{tag: tag}
}

func (b *IdTagBlock) Type() BlockType { return BlockIdTag }

func (b *IdTagBlock) Payload() []byte { return []byte(b.tag) }

// Tag returns the identifier.
func (b *IdTagBlock) Tag() string { return b.tag }

const dataPayloadLen = 8

// DataBlock terminates the header and records the ciphertext length.
type DataBlock struct {
	cipherTextLength int64
}

// NewDataBlock returns a terminator for n ciphertext bytes.
func NewDataBlock(n int64) *DataBlock {
	return &DataBlock{cipherTextLength: n}
}

func (b *DataBlock) Type() BlockType { return BlockData }

func (b *DataBlock) Payload() []byte {
	out := make([]byte, dataPayloadLen)
	binary.LittleEndian.PutUint64(out, uint64(b.cipherTextLength))
	return out
}

// CipherTextLength returns the number of ciphertext bytes after the header.
func (b *DataBlock) CipherTextLength() int64 { return b.cipherTextLength }

// UnrecognizedBlock preserves a block this version does not understand.
type UnrecognizedBlock struct {
	typ     BlockType
	payload []byte
}

// NewUnrecognizedBlock keeps a copy of payload.
func NewUnrecognizedBlock(t BlockType, payload []byte) *UnrecognizedBlock {
	return &UnrecognizedBlock{typ: t, payload: append([]byte(nil), payload...)}
}

func (b *UnrecognizedBlock) Type() BlockType { return b.typ }

func (b *UnrecognizedBlock) Payload() []byte { return append([]byte(nil), b.payload...) }
