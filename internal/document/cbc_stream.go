package document

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

// cbcWriter encrypts everything written to it and PKCS#7-pads on Close.
type cbcWriter struct {
	mode    cipher.BlockMode
	w       io.Writer
	pending []byte
	out     []byte
	closed  bool
}

func newCBCWriter(w io.Writer, key crypto.AesKey, iv crypto.AesIV) (*cbcWriter, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, err
	}
	return &cbcWriter{mode: cipher.NewCBCEncrypter(block, iv[:]), w: w}, nil
}

func (c *cbcWriter) Write(p []byte) (int, error) {
	if c.closed {
		return 0, errors.New("write to closed cipher stream")
	}
	c.pending = append(c.pending, p...)
	full := len(c.pending) / crypto.BlockSize * crypto.BlockSize
	if full == 0 {
		return len(p), nil
	}
	if err := c.flush(c.pending[:full]); err != nil {
		return 0, err
	}
	c.pending = append(c.pending[:0], c.pending[full:]...)
	return len(p), nil
}

// Close writes the final padded block. It does not close the underlying writer.
func (c *cbcWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.flush(crypto.Pad(c.pending))
}

func (c *cbcWriter) flush(plain []byte) error {
	if cap(c.out) < len(plain) {
		c.out = make([]byte, len(plain))
	}
	out := c.out[:len(plain)]
	c.mode.CryptBlocks(out, plain)
	_, err := c.w.Write(out)
	return err
}

// cbcReader decrypts a CBC stream, holding back the final block until EOF
// so the padding can be removed.
type cbcReader struct {
	src   io.Reader
	mode  cipher.BlockMode
	chunk []byte
	in    []byte
	out   []byte
	err   error
}

func newCBCReader(src io.Reader, key crypto.AesKey, iv crypto.AesIV, bufferSize int) (*cbcReader, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, err
	}
	if bufferSize < crypto.BlockSize {
		bufferSize = crypto.BlockSize
	}
	return &cbcReader{
		src:   src,
		mode:  cipher.NewCBCDecrypter(block, iv[:]),
		chunk: make([]byte, bufferSize),
	}, nil
}

func (c *cbcReader) Read(p []byte) (int, error) {
	for len(c.out) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		c.fill()
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *cbcReader) fill() {
	n, err := c.src.Read(c.chunk)
	c.in = append(c.in, c.chunk[:n]...)

	switch {
	case errors.Is(err, io.EOF):
		if len(c.in) == 0 || len(c.in)%crypto.BlockSize != 0 {
			c.err = crypto.ErrInvalidCiphertext
			return
		}
		plain := make([]byte, len(c.in))
		c.mode.CryptBlocks(plain, c.in)
		c.in = nil
		unpadded, perr := crypto.Unpad(plain)
		if perr != nil {
			c.err = perr
			return
		}
		c.out = unpadded
		c.err = io.EOF
	case err != nil:
		c.err = err
	default:
		full := len(c.in) / crypto.BlockSize * crypto.BlockSize
		if full == len(c.in) {
			full -= crypto.BlockSize
		}
		if full <= 0 {
			return
		}
		plain := make([]byte, full)
		c.mode.CryptBlocks(plain, c.in[:full])
		c.in = append(c.in[:0], c.in[full:]...)
		c.out = plain
	}
}
