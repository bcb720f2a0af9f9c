package document

import (
	"context"
	"errors"
	"io"

	"github.com/TheMichaelB/axcrypt/internal/progress"
)

// DefaultBufferSize is used when no buffer size hint is given.
const DefaultBufferSize = 64 * 1024

// copyStream copies src to dst in bufferSize chunks, reporting each chunk
// to tracker and checking ctx between chunks. Bytes already written are
// reported before a cancellation is returned.
func copyStream(ctx context.Context, dst io.Writer, src io.Reader, bufferSize int, tracker *progress.Tracker) (int64, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	buf := make([]byte, bufferSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			written, werr := dst.Write(buf[:n])
			total += int64(written)
			tracker.AddBytes(int64(written))
			if werr != nil {
				return total, werr
			}
			if written != n {
				return total, io.ErrShortWrite
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

// countingWriter counts bytes passed to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
