// Package document models an encrypted container's header and drives the
// streaming encrypt and decrypt pipeline over it.
package document

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/format"
	"github.com/TheMichaelB/axcrypt/internal/models"
)

// Headers is the ordered block collection of one document together with
// the keys needed to read and rewrite it. Setters replace whole blocks.
type Headers struct {
	kek     crypto.AesKey
	subkeys crypto.Subkeys
	cipher  *crypto.AesCrypto
	blocks  []format.HeaderBlock

	// covered holds the HMAC-covered header bytes exactly as they were read.
	covered []byte
}

// New builds headers for a fresh document: a random master key wrapped
// under kek, a random IV, and the given timestamps.
func New(kek crypto.AesKey, provider crypto.Provider, now time.Time) (*Headers, error) {
	master, err := provider.GenerateKey()
	if err != nil {
		return nil, err
	}
	salt, err := provider.GenerateSalt()
	if err != nil {
		return nil, err
	}
	iv, err := provider.GenerateIV()
	if err != nil {
		return nil, err
	}

	keyWrap, err := format.WrapMasterKey(master, kek, salt, provider.KeyWrapIterations())
	if err != nil {
		return nil, fmt.Errorf("wrap master key: %w", err)
	}

	h := &Headers{kek: kek}
	if err := h.setMasterKey(master); err != nil {
		return nil, err
	}

	encInfo, err := format.NewEncryptionInfoBlock(h.cipher, 0, iv)
	if err != nil {
		return nil, err
	}
	compression, err := format.NewCompressionBlock(h.cipher, false)
	if err != nil {
		return nil, err
	}
	fileInfo, err := format.NewFileInfoBlock(h.cipher, format.FileTimes{
		Created: now, LastAccessed: now, LastWritten: now,
	})
	if err != nil {
		return nil, err
	}
	unicodeName, err := format.NewUnicodeFileNameInfoBlock(h.cipher, "")
	if err != nil {
		return nil, err
	}
	ansiName, err := format.NewFileNameInfoBlock(h.cipher, "")
	if err != nil {
		return nil, err
	}

	h.blocks = []format.HeaderBlock{
		format.NewPreambleBlock(crypto.Hmac{}),
		format.NewVersionBlock(),
		keyWrap,
		encInfo,
		compression,
		fileInfo,
		unicodeName,
		ansiName,
		format.NewDataBlock(0),
	}
	return h, nil
}

// Load parses the header from r and opens it with kek. A kek that does not
// unwrap the master key yields models.ErrPassphraseInvalid.
func Load(r *format.Reader, kek crypto.AesKey) (*Headers, error) {
	item, err := r.Read()
	if err != nil {
		return nil, err
	}
	if item != format.ItemMagicGUID {
		return nil, &models.FormatError{Offset: r.Offset(), Reason: "expected magic guid"}
	}

	var raws []format.RawBlock
	for {
		item, err := r.Read()
		if err != nil {
			return nil, err
		}
		raw := r.Block()

		if len(raws) == 0 && raw.Type != format.BlockPreamble {
			return nil, &models.FormatError{Offset: raw.Offset, Reason: fmt.Sprintf("expected Preamble, found %s", raw.Type)}
		}
		if len(raws) > 0 && raw.Type == format.BlockPreamble {
			return nil, &models.FormatError{Offset: raw.Offset, Reason: "unexpected second Preamble"}
		}
		raws = append(raws, raw)

		if item == format.ItemData {
			break
		}
	}

	if err := checkBlockCounts(raws); err != nil {
		return nil, err
	}

	fileVersionMajor, err := versionOf(raws)
	if err != nil {
		return nil, err
	}

	var keyWrapRaw format.RawBlock
	for _, raw := range raws {
		if raw.Type == format.BlockKeyWrap1 {
			keyWrapRaw = raw
		}
	}
	kwBlock, err := format.NewBlock(keyWrapRaw.Type, keyWrapRaw.Payload, nil)
	if err != nil {
		return nil, &models.FormatError{Offset: keyWrapRaw.Offset, Reason: "malformed key wrap", Err: err}
	}
	master, ok, err := kwBlock.(*format.KeyWrap1Block).UnwrapMasterKey(kek, fileVersionMajor)
	if err != nil {
		return nil, &models.FormatError{Offset: keyWrapRaw.Offset, Reason: "malformed key wrap", Err: err}
	}
	if !ok {
		return nil, models.ErrPassphraseInvalid
	}

	h := &Headers{kek: kek, covered: r.HmacCovered()}
	if err := h.setMasterKey(master); err != nil {
		return nil, err
	}

	h.blocks = make([]format.HeaderBlock, 0, len(raws))
	for _, raw := range raws {
		b, err := format.NewBlock(raw.Type, raw.Payload, h.cipher)
		if err != nil {
			return nil, &models.FormatError{Offset: raw.Offset, Reason: "malformed header block", Err: err}
		}
		h.blocks = append(h.blocks, b)
	}
	return h, nil
}

var singleBlocks = []format.BlockType{
	format.BlockVersion,
	format.BlockKeyWrap1,
	format.BlockIdTag,
	format.BlockEncryptionInfo,
	format.BlockCompression,
	format.BlockCompressionInfo,
	format.BlockFileInfo,
	format.BlockFileNameInfo,
	format.BlockUnicodeFileNameInfo,
}

func checkBlockCounts(raws []format.RawBlock) error {
	counts := make(map[format.BlockType]int)
	for _, raw := range raws {
		counts[raw.Type]++
	}
	for _, t := range singleBlocks {
		if counts[t] > 1 {
			return &models.FormatError{Reason: fmt.Sprintf("duplicate %s block", t)}
		}
	}
	if counts[format.BlockKeyWrap1] != 1 {
		return &models.FormatError{Reason: "missing KeyWrap1 block"}
	}
	if counts[format.BlockEncryptionInfo] != 1 {
		return &models.FormatError{Reason: "missing EncryptionInfo block"}
	}
	return nil
}

func versionOf(raws []format.RawBlock) (byte, error) {
	for _, raw := range raws {
		if raw.Type != format.BlockVersion {
			continue
		}
		b, err := format.NewBlock(raw.Type, raw.Payload, nil)
		if err != nil {
			return 0, &models.FormatError{Offset: raw.Offset, Reason: "malformed version", Err: err}
		}
		major := b.(*format.VersionBlock).FileVersionMajor()
		if major > format.FileVersionMajor {
			return 0, &models.FormatError{
				Offset: raw.Offset,
				Reason: fmt.Sprintf("file version %d", major),
				Err:    models.ErrUnsupportedVersion,
			}
		}
		return major, nil
	}
	return 0, &models.FormatError{Reason: "missing Version block"}
}

func (h *Headers) setMasterKey(master crypto.AesKey) error {
	subkeys, err := crypto.DeriveSubkeys(master)
	if err != nil {
		return fmt.Errorf("derive subkeys: %w", err)
	}
	cipher, err := crypto.NewHeaderCrypto(subkeys.Headers)
	if err != nil {
		return fmt.Errorf("header cipher: %w", err)
	}
	h.subkeys = subkeys
	h.cipher = cipher
	return nil
}

// KeyEncryptingKey returns the key the document was opened or created with.
func (h *Headers) KeyEncryptingKey() crypto.AesKey { return h.kek }

// Blocks returns the ordered blocks.
func (h *Headers) Blocks() []format.HeaderBlock {
	return append([]format.HeaderBlock(nil), h.blocks...)
}

func (h *Headers) find(t format.BlockType) (format.HeaderBlock, int) {
	for i, b := range h.blocks {
		if b.Type() == t {
			return b, i
		}
	}
	return nil, -1
}

// replace swaps the block of b's type, or inserts b before the Data block.
func (h *Headers) replace(b format.HeaderBlock) {
	h.covered = nil
	if _, i := h.find(b.Type()); i >= 0 {
		h.blocks[i] = b
		return
	}
	_, data := h.find(format.BlockData)
	if data < 0 {
		h.blocks = append(h.blocks, b)
		return
	}
	h.blocks = append(h.blocks[:data], append([]format.HeaderBlock{b}, h.blocks[data:]...)...)
}

func (h *Headers) remove(t format.BlockType) {
	if _, i := h.find(t); i >= 0 {
		h.covered = nil
		h.blocks = append(h.blocks[:i], h.blocks[i+1:]...)
	}
}

// FileVersion returns the format major version.
func (h *Headers) FileVersion() byte {
	if b, _ := h.find(format.BlockVersion); b != nil {
		return b.(*format.VersionBlock).FileVersionMajor()
	}
	return 0
}

// WriterVersion returns the version of the program that wrote the document.
func (h *Headers) WriterVersion() string {
	if b, _ := h.find(format.BlockVersion); b != nil {
		return b.(*format.VersionBlock).WriterVersion()
	}
	return ""
}

// KeyWrapIterations returns the iteration count protecting the master key.
func (h *Headers) KeyWrapIterations() int64 {
	if b, _ := h.find(format.BlockKeyWrap1); b != nil {
		return b.(*format.KeyWrap1Block).Iterations()
	}
	return 0
}

// FileName returns the original file name, preferring the Unicode block.
func (h *Headers) FileName() (string, error) {
	if b, _ := h.find(format.BlockUnicodeFileNameInfo); b != nil {
		name, err := b.(*format.UnicodeFileNameInfoBlock).FileName()
		if err != nil || name != "" {
			return name, err
		}
	}
	if b, _ := h.find(format.BlockFileNameInfo); b != nil {
		return b.(*format.FileNameInfoBlock).FileName()
	}
	return "", nil
}

// SetFileName records name in both file name blocks.
func (h *Headers) SetFileName(name string) error {
	unicodeName, err := format.NewUnicodeFileNameInfoBlock(h.cipher, name)
	if err != nil {
		return err
	}
	ansiName, err := format.NewFileNameInfoBlock(h.cipher, name)
	if err != nil {
		return err
	}
	h.replace(unicodeName)
	h.replace(ansiName)
	return nil
}

// FileTimes returns the original timestamps.
func (h *Headers) FileTimes() (format.FileTimes, error) {
	if b, _ := h.find(format.BlockFileInfo); b != nil {
		return b.(*format.FileInfoBlock).Times()
	}
	return format.FileTimes{}, nil
}

// SetFileTimes records the original timestamps.
func (h *Headers) SetFileTimes(times format.FileTimes) error {
	b, err := format.NewFileInfoBlock(h.cipher, times)
	if err != nil {
		return err
	}
	h.replace(b)
	return nil
}

// IsCompressed reports whether the body is deflated.
func (h *Headers) IsCompressed() (bool, error) {
	if b, _ := h.find(format.BlockCompression); b != nil {
		return b.(*format.CompressionBlock).IsCompressed()
	}
	return false, nil
}

// SetCompressed sets the flag and adds or drops the CompressionInfo block.
func (h *Headers) SetCompressed(compressed bool) error {
	b, err := format.NewCompressionBlock(h.cipher, compressed)
	if err != nil {
		return err
	}
	h.replace(b)

	if !compressed {
		h.remove(format.BlockCompressionInfo)
		return nil
	}
	if existing, _ := h.find(format.BlockCompressionInfo); existing == nil {
		return h.SetUncompressedLength(0)
	}
	return nil
}

// UncompressedLength returns the original byte count, or -1 when not compressed.
func (h *Headers) UncompressedLength() (int64, error) {
	if b, _ := h.find(format.BlockCompressionInfo); b != nil {
		return b.(*format.CompressionInfoBlock).UncompressedLength()
	}
	return -1, nil
}

// SetUncompressedLength records the original byte count.
func (h *Headers) SetUncompressedLength(n int64) error {
	b, err := format.NewCompressionInfoBlock(h.cipher, n)
	if err != nil {
		return err
	}
	h.replace(b)
	return nil
}

func (h *Headers) encryptionInfo() (*format.EncryptionInfoBlock, error) {
	b, _ := h.find(format.BlockEncryptionInfo)
	if b == nil {
		return nil, &models.FormatError{Reason: "missing EncryptionInfo block"}
	}
	return b.(*format.EncryptionInfoBlock), nil
}

// PlaintextLength returns the number of bytes that were fed to the cipher.
func (h *Headers) PlaintextLength() (int64, error) {
	b, err := h.encryptionInfo()
	if err != nil {
		return 0, err
	}
	return b.PlaintextLength()
}

// SetPlaintextLength records the number of bytes fed to the cipher.
func (h *Headers) SetPlaintextLength(n int64) error {
	b, err := h.encryptionInfo()
	if err != nil {
		return err
	}
	updated, err := b.WithPlaintextLength(n)
	if err != nil {
		return err
	}
	h.replace(updated)
	return nil
}

// IV returns the data IV.
func (h *Headers) IV() (crypto.AesIV, error) {
	b, err := h.encryptionInfo()
	if err != nil {
		return crypto.AesIV{}, err
	}
	return b.IV()
}

// CipherTextLength returns the body length recorded in the Data block.
func (h *Headers) CipherTextLength() int64 {
	if b, _ := h.find(format.BlockData); b != nil {
		return b.(*format.DataBlock).CipherTextLength()
	}
	return 0
}

// SetCipherTextLength records the body length.
func (h *Headers) SetCipherTextLength(n int64) {
	h.replace(format.NewDataBlock(n))
}

// Hmac returns the stored document HMAC.
func (h *Headers) Hmac() crypto.Hmac {
	if b, _ := h.find(format.BlockPreamble); b != nil {
		return b.(*format.PreambleBlock).Hmac()
	}
	return crypto.Hmac{}
}

// SetHmac stores the document HMAC. The preamble is not HMAC-covered.
func (h *Headers) SetHmac(mac crypto.Hmac) {
	covered := h.covered
	h.replace(format.NewPreambleBlock(mac))
	h.covered = covered
}

// IdTag returns the optional identifier tag.
func (h *Headers) IdTag() string {
	if b, _ := h.find(format.BlockIdTag); b != nil {
		return b.(*format.IdTagBlock).Tag()
	}
	return ""
}

// SetIdTag stamps an identifier tag after the key wrap block.
func (h *Headers) SetIdTag(tag string) {
	h.covered = nil
	b := format.NewIdTagBlock(tag)
	if _, i := h.find(format.BlockIdTag); i >= 0 {
		h.blocks[i] = b
		return
	}
	_, kw := h.find(format.BlockKeyWrap1)
	at := kw + 1
	h.blocks = append(h.blocks[:at], append([]format.HeaderBlock{b}, h.blocks[at:]...)...)
}

// DataKey returns the body encryption subkey.
func (h *Headers) DataKey() crypto.AesKey { return h.subkeys.Data }

// HmacKey returns the HMAC subkey.
func (h *Headers) HmacKey() crypto.AesKey { return h.subkeys.HMAC }

// HmacCovered returns the header bytes included in the HMAC: every block
// after the Preamble except the Data block.
func (h *Headers) HmacCovered() []byte {
	if h.covered != nil {
		return append([]byte(nil), h.covered...)
	}
	var buf bytes.Buffer
	for _, b := range h.blocks {
		if b.Type() == format.BlockPreamble || b.Type() == format.BlockData {
			continue
		}
		buf.Write(format.Marshal(b))
	}
	return buf.Bytes()
}

// Length returns the serialized size of magic plus blocks.
func (h *Headers) Length() int64 {
	n := int64(len(format.MagicGUID))
	for _, b := range h.blocks {
		n += int64(format.PrefixLength + len(b.Payload()))
	}
	return n
}

// WriteTo writes the magic GUID and every block.
func (h *Headers) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.Write(format.MagicGUID[:])
	for _, b := range h.blocks {
		buf.Write(format.Marshal(b))
	}
	n, err := w.Write(buf.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("write headers: %w", err)
	}
	return int64(n), nil
}
