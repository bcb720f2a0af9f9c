package document

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/progress"
)

// Options tune the streaming pipeline.
type Options struct {
	Compress   bool
	BufferSize int
	Tracker    *progress.Tracker
}

// Encrypt writes the container for in to out. The header is written with a
// zero HMAC, the body is streamed, the HMAC is computed over the final
// covered header bytes and the ciphertext re-read from out, and the header
// is rewritten in place.
func Encrypt(ctx context.Context, h *Headers, in io.Reader, out io.ReadWriteSeeker, opts Options) error {
	start, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locate output: %w", err)
	}

	if err := h.SetCompressed(opts.Compress); err != nil {
		return err
	}
	h.SetHmac(crypto.Hmac{})
	if _, err := h.WriteTo(out); err != nil {
		return err
	}
	headerLength := h.Length()

	iv, err := h.IV()
	if err != nil {
		return err
	}

	cipherCount := &countingWriter{w: out}
	cbc, err := newCBCWriter(cipherCount, h.DataKey(), iv)
	if err != nil {
		return fmt.Errorf("data cipher: %w", err)
	}
	plainCount := &countingWriter{w: cbc}

	var sink io.Writer = plainCount
	var deflater *zlib.Writer
	if opts.Compress {
		deflater, err = zlib.NewWriterLevel(plainCount, zlib.DefaultCompression)
		if err != nil {
			return fmt.Errorf("compressor: %w", err)
		}
		sink = deflater
	}

	uncompressed, err := copyStream(ctx, sink, in, opts.BufferSize, opts.Tracker)
	if err != nil {
		return err
	}
	if deflater != nil {
		if err := deflater.Close(); err != nil {
			return fmt.Errorf("flush compressor: %w", err)
		}
	}
	if err := cbc.Close(); err != nil {
		return fmt.Errorf("flush cipher: %w", err)
	}

	if err := h.SetPlaintextLength(plainCount.n); err != nil {
		return err
	}
	if opts.Compress {
		if err := h.SetUncompressedLength(uncompressed); err != nil {
			return err
		}
	}
	h.SetCipherTextLength(cipherCount.n)

	mac, err := computeHmac(h, out, start+headerLength, cipherCount.n)
	if err != nil {
		return err
	}
	h.SetHmac(mac)

	if _, err := out.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("rewind output: %w", err)
	}
	if _, err := h.WriteTo(out); err != nil {
		return err
	}
	if _, err := out.Seek(start+headerLength+cipherCount.n, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

// computeHmac digests the covered header bytes followed by n ciphertext
// bytes read back from rs at offset.
func computeHmac(h *Headers, rs io.ReadSeeker, offset, n int64) (crypto.Hmac, error) {
	mac := crypto.NewHmacHash(h.HmacKey())
	mac.Write(h.HmacCovered())

	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return crypto.Hmac{}, fmt.Errorf("seek to ciphertext: %w", err)
	}
	if _, err := io.CopyN(mac, rs, n); err != nil {
		return crypto.Hmac{}, fmt.Errorf("re-read ciphertext: %w", err)
	}
	return crypto.HmacFromHash(mac), nil
}
