package document

import (
	"io"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/format"
)

// Open parses and opens the header at the start of r and returns the
// positioned ciphertext stream.
func Open(r io.Reader, kek crypto.AesKey) (*Headers, io.Reader, error) {
	reader := format.NewReader(r)
	h, err := Load(reader, kek)
	if err != nil {
		return nil, nil, err
	}
	body, err := reader.Body()
	if err != nil {
		return nil, nil, err
	}
	return h, body, nil
}

// Info is the decrypted header metadata of a container.
type Info struct {
	FileName           string    `json:"file_name"`
	Created            time.Time `json:"created"`
	LastAccessed       time.Time `json:"last_accessed"`
	LastWritten        time.Time `json:"last_written"`
	Compressed         bool      `json:"compressed"`
	PlaintextLength    int64     `json:"plaintext_length"`
	UncompressedLength int64     `json:"uncompressed_length,omitempty"`
	CipherTextLength   int64     `json:"ciphertext_length"`
	FileVersion        int       `json:"file_version"`
	WriterVersion      string    `json:"writer_version"`
	KeyWrapIterations  int64     `json:"key_wrap_iterations"`
	IdTag              string    `json:"id_tag,omitempty"`
}

// Inspect reads the header metadata without decrypting the body.
func Inspect(r io.Reader, kek crypto.AesKey) (*Info, error) {
	h, _, err := Open(r, kek)
	if err != nil {
		return nil, err
	}
	return h.Info()
}

// Info collects the decrypted metadata.
func (h *Headers) Info() (*Info, error) {
	name, err := h.FileName()
	if err != nil {
		return nil, err
	}
	times, err := h.FileTimes()
	if err != nil {
		return nil, err
	}
	compressed, err := h.IsCompressed()
	if err != nil {
		return nil, err
	}
	plain, err := h.PlaintextLength()
	if err != nil {
		return nil, err
	}

	info := &Info{
		FileName:          name,
		Created:           times.Created,
		LastAccessed:      times.LastAccessed,
		LastWritten:       times.LastWritten,
		Compressed:        compressed,
		PlaintextLength:   plain,
		CipherTextLength:  h.CipherTextLength(),
		FileVersion:       int(h.FileVersion()),
		WriterVersion:     h.WriterVersion(),
		KeyWrapIterations: h.KeyWrapIterations(),
		IdTag:             h.IdTag(),
	}
	if compressed {
		if info.UncompressedLength, err = h.UncompressedLength(); err != nil {
			return nil, err
		}
	}
	return info, nil
}
