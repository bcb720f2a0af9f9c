// Package files implements the file-level operations on top of the
// document pipeline: encrypt to a file, decrypt to a folder, replace a
// file with a backup, and wipe.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/document"
	"github.com/TheMichaelB/axcrypt/internal/env"
	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/format"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/progress"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// EncryptedExtension is appended to encrypted file names.
const EncryptedExtension = ".axx"

// Service performs file operations through the host environment.
type Service struct {
	env    *env.Env
	logger *events.Logger
}

// NewService creates a file operation service.
func NewService(e *env.Env) *Service {
	return &Service{
		env:    e,
		logger: e.Log("files"),
	}
}

// EncryptOptions selects how a file is encrypted. Exactly one of
// WithCompression and WithoutCompression must be set.
type EncryptOptions struct {
	WithCompression    bool
	WithoutCompression bool

	// IdTag is stamped into the header when set.
	IdTag string

	Tracker *progress.Tracker
}

func (o EncryptOptions) validate() error {
	if o.WithCompression == o.WithoutCompression {
		return fmt.Errorf("%w: exactly one of with or without compression is required", models.ErrUsage)
	}
	return nil
}

// EncryptedName returns the conventional encrypted name for a plaintext
// file, e.g. "report.txt" becomes "report-txt.axx".
func EncryptedName(plainPath string) string {
	dir := path.Dir(storage.CleanPath(plainPath))
	base := path.Base(storage.CleanPath(plainPath))
	ext := path.Ext(base)
	if ext != "" {
		base = strings.TrimSuffix(base, ext) + "-" + strings.TrimPrefix(ext, ".")
	}
	return path.Join(dir, base+EncryptedExtension)
}

// Encrypt encrypts source into destination under key. The header records
// the source's name and times. An existing destination is replaced through
// WriteToFileWithBackup.
func (s *Service) Encrypt(ctx context.Context, source, destination string, key crypto.AesKey, opts EncryptOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	info, err := s.env.Files.Stat(source)
	if err != nil {
		return err
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"source":      source,
		"destination": destination,
		"compress":    opts.WithCompression,
	})
	logger.Debug("Encrypting file")

	h, err := document.New(key, s.env.Crypto, s.env.Clock.Now())
	if err != nil {
		return fmt.Errorf("create headers: %w", err)
	}
	if err := h.SetFileName(path.Base(info.Path)); err != nil {
		return err
	}
	if err := h.SetFileTimes(format.FileTimes{
		Created:      info.Created,
		LastAccessed: info.LastAccessed,
		LastWritten:  info.LastWritten,
	}); err != nil {
		return err
	}
	if opts.IdTag != "" {
		h.SetIdTag(opts.IdTag)
	}

	in, err := s.env.Files.OpenRead(source)
	if err != nil {
		return err
	}
	defer in.Close()

	opts.Tracker.FileStarted(path.Base(info.Path))
	opts.Tracker.AddTotal(info.Size)
	defer opts.Tracker.FileCompleted()

	err = s.WriteToFileWithBackup(ctx, destination, func(out io.ReadWriteSeeker) error {
		return document.Encrypt(ctx, h, in, out, document.Options{
			Compress:   opts.WithCompression,
			BufferSize: s.env.Buffer(),
			Tracker:    opts.Tracker,
		})
	})
	if err != nil {
		return err
	}

	if err := s.env.Files.SetTimes(destination, info.LastAccessed, info.LastWritten); err != nil {
		logger.WithError(err).Warn("Failed to stamp encrypted file times")
	}

	logger.Info("File encrypted")
	return nil
}

// Decrypt decrypts source into destinationDir under the name stored in
// its header and returns the written path. A wrong key returns
// models.ErrPassphraseInvalid and leaves destinationDir untouched.
func (s *Service) Decrypt(ctx context.Context, source, destinationDir string, key crypto.AesKey, tracker *progress.Tracker) (string, error) {
	in, err := s.env.Files.OpenRead(source)
	if err != nil {
		return "", err
	}
	defer in.Close()

	h, body, err := document.Open(in, key)
	if err != nil {
		if errors.Is(err, models.ErrPassphraseInvalid) {
			s.logger.WithField("source", source).Debug("Key does not open file")
		}
		return "", err
	}

	name, err := h.FileName()
	if err != nil {
		return "", err
	}
	destination := path.Join(destinationDir, safeName(name, source))

	times, err := h.FileTimes()
	if err != nil {
		return "", err
	}

	tracker.FileStarted(path.Base(destination))
	if plain, err := h.PlaintextLength(); err == nil {
		tracker.AddTotal(plain)
	}
	defer tracker.FileCompleted()

	err = s.WriteToFileWithBackup(ctx, destination, func(out io.ReadWriteSeeker) error {
		if err := document.Decrypt(ctx, h, body, out, document.Options{
			BufferSize: s.env.Buffer(),
			Tracker:    tracker,
		}); err != nil {
			return &models.DecryptError{Path: source, Reason: "decrypt body", Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := s.env.Files.SetTimes(destination, times.LastAccessed, times.LastWritten); err != nil {
		s.logger.WithError(err).Warn("Failed to restore decrypted file times")
	}

	s.logger.WithFields(map[string]interface{}{
		"source":      source,
		"destination": destination,
	}).Info("File decrypted")
	return destination, nil
}

// DecryptedPath returns the path Decrypt writes for source.
func (s *Service) DecryptedPath(source, destinationDir string, key crypto.AesKey) (string, error) {
	info, err := s.Inspect(source, key)
	if err != nil {
		return "", err
	}
	return path.Join(destinationDir, safeName(info.FileName, source)), nil
}

// safeName reduces a stored file name to a single path element, falling
// back to the encrypted file's name without its extension.
func safeName(stored, source string) string {
	name := path.Base(strings.ReplaceAll(stored, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		name = strings.TrimSuffix(path.Base(storage.CleanPath(source)), EncryptedExtension)
	}
	return name
}

// Inspect returns the header metadata of source without decrypting its body.
func (s *Service) Inspect(source string, key crypto.AesKey) (*document.Info, error) {
	in, err := s.env.Files.OpenRead(source)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	return document.Inspect(in, key)
}

// OpensWith reports whether key unwraps the master key of source.
func (s *Service) OpensWith(source string, key crypto.AesKey) (bool, error) {
	in, err := s.env.Files.OpenRead(source)
	if err != nil {
		return false, err
	}
	defer in.Close()

	_, _, err = document.Open(in, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrPassphraseInvalid):
		return false, nil
	default:
		return false, err
	}
}
