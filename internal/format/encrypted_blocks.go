package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

// HeaderCipher encrypts and decrypts whole header payloads.
type HeaderCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ErrNoHeaderCipher is returned when an encrypted block is read without a key.
var ErrNoHeaderCipher = errors.New("encrypted header block has no cipher")

// encryptedBlock holds a ciphertext payload and the cipher that opens it.
type encryptedBlock struct {
	typ     BlockType
	payload []byte
	cipher  HeaderCipher
}

func newEncryptedBlock(t BlockType, cipher HeaderCipher, plaintext []byte) (encryptedBlock, error) {
	if cipher == nil {
		return encryptedBlock{}, ErrNoHeaderCipher
	}
	ct, err := cipher.Encrypt(plaintext)
	if err != nil {
		return encryptedBlock{}, fmt.Errorf("encrypt %s block: %w", t, err)
	}
	return encryptedBlock{typ: t, payload: ct, cipher: cipher}, nil
}

func (b encryptedBlock) Type() BlockType { return b.typ }

func (b encryptedBlock) Payload() []byte { return append([]byte(nil), b.payload...) }

func (b encryptedBlock) plaintext() ([]byte, error) {
	if b.cipher == nil {
		return nil, ErrNoHeaderCipher
	}
	pt, err := b.cipher.Decrypt(b.payload)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s block: %w", b.typ, err)
	}
	return pt, nil
}

// padded returns a zero-filled buffer of n rounded up to the block size.
func padded(n int) []byte {
	return make([]byte, (n+crypto.BlockSize-1)/crypto.BlockSize*crypto.BlockSize)
}

const encryptionInfoLen = 8 + crypto.BlockSize

// EncryptionInfoBlock holds the plaintext length and data IV.
type EncryptionInfoBlock struct {
	encryptedBlock
}

// NewEncryptionInfoBlock encrypts plaintextLength and iv under cipher.
func NewEncryptionInfoBlock(cipher HeaderCipher, plaintextLength int64, iv crypto.AesIV) (*EncryptionInfoBlock, error) {
	pt := padded(encryptionInfoLen)
	binary.LittleEndian.PutUint64(pt, uint64(plaintextLength))
	copy(pt[8:], iv[:])

	eb, err := newEncryptedBlock(BlockEncryptionInfo, cipher, pt)
	if err != nil {
		return nil, err
	}
	return &EncryptionInfoBlock{eb}, nil
}

// PlaintextLength returns the number of bytes fed to the cipher.
func (b *EncryptionInfoBlock) PlaintextLength() (int64, error) {
	pt, err := b.plaintext()
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(pt)), nil
}

// IV returns the data IV.
func (b *EncryptionInfoBlock) IV() (crypto.AesIV, error) {
	pt, err := b.plaintext()
	if err != nil {
		return crypto.AesIV{}, err
	}
	return crypto.NewAesIV(pt[8:encryptionInfoLen])
}

// WithPlaintextLength returns a copy recording n.
func (b *EncryptionInfoBlock) WithPlaintextLength(n int64) (*EncryptionInfoBlock, error) {
	iv, err := b.IV()
	if err != nil {
		return nil, err
	}
	return NewEncryptionInfoBlock(b.cipher, n, iv)
}

// CompressionBlock flags a compressed body.
type CompressionBlock struct {
	encryptedBlock
}

// NewCompressionBlock encrypts the flag under cipher.
func NewCompressionBlock(cipher HeaderCipher, compressed bool) (*CompressionBlock, error) {
	pt := padded(4)
	if compressed {
		binary.LittleEndian.PutUint32(pt, 1)
	}
	eb, err := newEncryptedBlock(BlockCompression, cipher, pt)
	if err != nil {
		return nil, err
	}
	return &CompressionBlock{eb}, nil
}

// IsCompressed returns the flag.
func (b *CompressionBlock) IsCompressed() (bool, error) {
	pt, err := b.plaintext()
	if err != nil {
		return false, err
	}
	return binary.LittleEndian.Uint32(pt) != 0, nil
}

// CompressionInfoBlock holds the uncompressed length.
type CompressionInfoBlock struct {
	encryptedBlock
}

// NewCompressionInfoBlock encrypts n under cipher.
func NewCompressionInfoBlock(cipher HeaderCipher, n int64) (*CompressionInfoBlock, error) {
	pt := padded(8)
	binary.LittleEndian.PutUint64(pt, uint64(n))
	eb, err := newEncryptedBlock(BlockCompressionInfo, cipher, pt)
	if err != nil {
		return nil, err
	}
	return &CompressionInfoBlock{eb}, nil
}

// UncompressedLength returns the original byte count.
func (b *CompressionInfoBlock) UncompressedLength() (int64, error) {
	pt, err := b.plaintext()
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(pt)), nil
}

// FileTimes are the three timestamps stored in a FileInfo block.
type FileTimes struct {
	Created      time.Time
	LastAccessed time.Time
	LastWritten  time.Time
}

// FileInfoBlock holds the original timestamps.
type FileInfoBlock struct {
	encryptedBlock
}

// NewFileInfoBlock encrypts times under cipher as Windows file times.
func NewFileInfoBlock(cipher HeaderCipher, times FileTimes) (*FileInfoBlock, error) {
	pt := padded(24)
	binary.LittleEndian.PutUint64(pt[0:], uint64(ToFileTime(times.Created)))
	binary.LittleEndian.PutUint64(pt[8:], uint64(ToFileTime(times.LastAccessed)))
	binary.LittleEndian.PutUint64(pt[16:], uint64(ToFileTime(times.LastWritten)))

	eb, err := newEncryptedBlock(BlockFileInfo, cipher, pt)
	if err != nil {
		return nil, err
	}
	return &FileInfoBlock{eb}, nil
}

// Times returns the stored timestamps in UTC.
func (b *FileInfoBlock) Times() (FileTimes, error) {
	pt, err := b.plaintext()
	if err != nil {
		return FileTimes{}, err
	}
	return FileTimes{
		Created:      FromFileTime(int64(binary.LittleEndian.Uint64(pt[0:]))),
		LastAccessed: FromFileTime(int64(binary.LittleEndian.Uint64(pt[8:]))),
		LastWritten:  FromFileTime(int64(binary.LittleEndian.Uint64(pt[16:]))),
	}, nil
}

// FileNameInfoBlock holds the original name in Windows-1252.
type FileNameInfoBlock struct {
	encryptedBlock
}

var ansiEncoding = charmap.Windows1252

// NewFileNameInfoBlock encrypts name as single-nul terminated Windows-1252.
// Characters outside the code page are substituted.
func NewFileNameInfoBlock(cipher HeaderCipher, name string) (*FileNameInfoBlock, error) {
	raw, err := encoding.ReplaceUnsupported(ansiEncoding.NewEncoder()).Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("encode file name: %w", err)
	}
	pt := padded(len(raw) + 1)
	copy(pt, raw)

	eb, err := newEncryptedBlock(BlockFileNameInfo, cipher, pt)
	if err != nil {
		return nil, err
	}
	return &FileNameInfoBlock{eb}, nil
}

// FileName decodes the stored name.
func (b *FileNameInfoBlock) FileName() (string, error) {
	pt, err := b.plaintext()
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(pt, 0); i >= 0 {
		pt = pt[:i]
	}
	name, err := ansiEncoding.NewDecoder().Bytes(pt)
	if err != nil {
		return "", fmt.Errorf("decode file name: %w", err)
	}
	return string(name), nil
}

// UnicodeFileNameInfoBlock holds the original name in UTF-16LE.
type UnicodeFileNameInfoBlock struct {
	encryptedBlock
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// NewUnicodeFileNameInfoBlock encrypts name as double-nul terminated UTF-16LE.
func NewUnicodeFileNameInfoBlock(cipher HeaderCipher, name string) (*UnicodeFileNameInfoBlock, error) {
	raw, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("encode file name: %w", err)
	}
	pt := padded(len(raw) + 2)
	copy(pt, raw)

	eb, err := newEncryptedBlock(BlockUnicodeFileNameInfo, cipher, pt)
	if err != nil {
		return nil, err
	}
	return &UnicodeFileNameInfoBlock{eb}, nil
}

// FileName decodes the stored name.
func (b *UnicodeFileNameInfoBlock) FileName() (string, error) {
	pt, err := b.plaintext()
	if err != nil {
		return "", err
	}
	end := len(pt) &^ 1
	for i := 0; i+1 < len(pt); i += 2 {
		if pt[i] == 0 && pt[i+1] == 0 {
			end = i
			break
		}
	}
	name, err := utf16le.NewDecoder().Bytes(pt[:end])
	if err != nil {
		return "", fmt.Errorf("decode file name: %w", err)
	}
	return string(name), nil
}

// windowsEpochOffset is the number of 100ns ticks between 1601-01-01 and 1970-01-01.
const windowsEpochOffset = 116444736000000000

// ToFileTime converts t to Windows file time ticks.
func ToFileTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()/100 + windowsEpochOffset
}

// FromFileTime converts Windows file time ticks to UTC.
func FromFileTime(ticks int64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	return time.Unix(0, (ticks-windowsEpochOffset)*100).UTC()
}
