package document

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/models"
)

// Decrypt streams the body following h from body to out and verifies the
// HMAC. An HMAC mismatch wins over any error raised while decoding, so a
// tampered file always reports models.ErrIntegrity.
func Decrypt(ctx context.Context, h *Headers, body io.Reader, out io.Writer, opts Options) error {
	iv, err := h.IV()
	if err != nil {
		return err
	}
	compressed, err := h.IsCompressed()
	if err != nil {
		return err
	}

	mac := crypto.NewHmacHash(h.HmacKey())
	mac.Write(h.HmacCovered())
	ciphertext := io.TeeReader(io.LimitReader(body, h.CipherTextLength()), mac)

	cbc, err := newCBCReader(ciphertext, h.DataKey(), iv, opts.BufferSize)
	if err != nil {
		return fmt.Errorf("data cipher: %w", err)
	}

	copyErr := decodeBody(ctx, cbc, out, compressed, opts)
	if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
		return copyErr
	}

	// the HMAC covers every ciphertext byte even if decoding stopped early
	if _, err := io.Copy(io.Discard, ciphertext); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("read ciphertext: %w", err)
	}

	actual := crypto.HmacFromHash(mac)
	expected := h.Hmac()
	if !actual.Equal(expected) {
		return &models.IntegrityError{Expected: expected.String(), Actual: actual.String()}
	}
	return copyErr
}

func decodeBody(ctx context.Context, cbc io.Reader, out io.Writer, compressed bool, opts Options) (err error) {
	if !compressed {
		_, err = copyStream(ctx, out, cbc, opts.BufferSize, opts.Tracker)
		return err
	}

	inflater, err := zlib.NewReader(cbc)
	if err != nil {
		return fmt.Errorf("open decompressor: %w", err)
	}
	// a padding failure surfaces through the inflater first; keep it over
	// whatever Close reports afterwards
	defer func() {
		if cerr := inflater.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close decompressor: %w", cerr)
		}
	}()

	_, err = copyStream(ctx, out, inflater, opts.BufferSize, opts.Tracker)
	return err
}
