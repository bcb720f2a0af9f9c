package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/TheMichaelB/axcrypt/internal/models"
)

// ItemType is the state of a Reader.
type ItemType int

const (
	ItemNone ItemType = iota
	ItemMagicGUID
	ItemHeaderBlock
	ItemData
	ItemEndOfStream
)

func (t ItemType) String() string {
	switch t {
	case ItemNone:
		return "None"
	case ItemMagicGUID:
		return "MagicGuid"
	case ItemHeaderBlock:
		return "HeaderBlock"
	case ItemData:
		return "Data"
	default:
		return "EndOfStream"
	}
}

// RawBlock is a framed block as read, before typing.
type RawBlock struct {
	Type    BlockType
	Payload []byte
	Offset  int64
}

// Marshal re-frames the block exactly as it was read.
func (b RawBlock) Marshal() []byte {
	out := make([]byte, PrefixLength+len(b.Payload))
	binary.LittleEndian.PutUint32(out, uint32(len(out)))
	out[4] = byte(b.Type)
	copy(out[PrefixLength:], b.Payload)
	return out
}

const magicScanBuffer = 4096

// Reader is a pull parser over a container stream. Each call to Read
// advances one item: the magic GUID, then header blocks up to and
// including the Data block, after which Body returns the ciphertext.
type Reader struct {
	in      *pushbackReader
	state   ItemType
	current RawBlock
	offset  int64

	hmacBuf bytes.Buffer
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{in: &pushbackReader{r: r}}
}

// Item returns the current state.
func (r *Reader) Item() ItemType { return r.state }

// Block returns the block read by the last Read that produced ItemHeaderBlock or ItemData.
func (r *Reader) Block() RawBlock { return r.current }

// Offset returns the number of stream bytes consumed so far.
func (r *Reader) Offset() int64 { return r.offset }

// HmacCovered returns the serialized blocks read after the Preamble,
// excluding the Data block.
func (r *Reader) HmacCovered() []byte {
	return append([]byte(nil), r.hmacBuf.Bytes()...)
}

// Body returns the remaining stream once the Data block has been read.
func (r *Reader) Body() (io.Reader, error) {
	if r.state != ItemData {
		return nil, fmt.Errorf("body requested in state %s", r.state)
	}
	return r.in, nil
}

// Read advances to the next item.
func (r *Reader) Read() (ItemType, error) {
	switch r.state {
	case ItemNone:
		if err := r.findMagic(); err != nil {
			return r.state, err
		}
		r.state = ItemMagicGUID
	case ItemMagicGUID, ItemHeaderBlock:
		if err := r.readBlock(); err != nil {
			return r.state, err
		}
	case ItemData:
		r.state = ItemEndOfStream
	}
	return r.state, nil
}

func (r *Reader) findMagic() error {
	magic := MagicGUID[:]
	buf := make([]byte, magicScanBuffer)
	var window []byte

	for {
		n, err := r.in.Read(buf)
		window = append(window, buf[:n]...)

		if i := indexNaive(window, magic); i >= 0 {
			end := i + len(magic)
			r.in.pushBack(window[end:])
			r.offset += int64(end)
			return nil
		}

		// keep a tail that may hold the start of a match split across reads
		if keep := len(magic) - 1; len(window) > keep {
			r.offset += int64(len(window) - keep)
			window = append([]byte(nil), window[len(window)-keep:]...)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return &models.FormatError{Offset: r.offset, Reason: "no magic guid", Err: models.ErrBadMagic}
			}
			return fmt.Errorf("scan for magic guid: %w", err)
		}
	}
}

func (r *Reader) readBlock() error {
	start := r.offset

	var prefix [PrefixLength]byte
	if _, err := io.ReadFull(r.in, prefix[:]); err != nil {
		return &models.FormatError{Offset: start, Reason: "truncated block prefix", Err: err}
	}
	r.offset += PrefixLength

	total := binary.LittleEndian.Uint32(prefix[:4])
	typ := prefix[4]

	if typ > MaxBlockType {
		return &models.FormatError{Offset: start, Reason: fmt.Sprintf("block type %d out of range", typ)}
	}
	if total < PrefixLength || total > MaxBlockLength {
		return &models.FormatError{Offset: start, Reason: fmt.Sprintf("block length %d out of range", total)}
	}

	payload := make([]byte, total-PrefixLength)
	if _, err := io.ReadFull(r.in, payload); err != nil {
		return &models.FormatError{Offset: start, Reason: "truncated block payload", Err: err}
	}
	r.offset += int64(len(payload))

	r.current = RawBlock{Type: BlockType(typ), Payload: payload, Offset: start}

	switch r.current.Type {
	case BlockPreamble:
		r.state = ItemHeaderBlock
	case BlockData:
		r.state = ItemData
	default:
		r.hmacBuf.Write(prefix[:])
		r.hmacBuf.Write(payload)
		r.state = ItemHeaderBlock
	}
	return nil
}

// indexNaive returns the first index of needle in haystack.
func indexNaive(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if bytes.Equal(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

// pushbackReader serves pushed-back bytes before the underlying reader.
type pushbackReader struct {
	r      io.Reader
	pushed []byte
}

func (p *pushbackReader) pushBack(b []byte) {
	if len(b) == 0 {
		return
	}
	p.pushed = append(append([]byte(nil), b...), p.pushed...)
}

func (p *pushbackReader) Read(b []byte) (int, error) {
	if len(p.pushed) > 0 {
		n := copy(b, p.pushed)
		p.pushed = p.pushed[n:]
		return n, nil
	}
	return p.r.Read(b)
}
