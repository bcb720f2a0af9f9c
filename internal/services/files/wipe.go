package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/progress"
)

// maxRenameAttempts bounds the search for a free random name.
const maxRenameAttempts = 10

// Wipe overwrites p with random bytes, renames it to a random name and
// deletes it. The overwritten length is the file size rounded up to the
// buffer size. Cancellation is checked before each chunk; once the final
// chunk is reached the pass completes first. A file that has been written
// to is always renamed and deleted before the cancellation is returned, so
// a canceled wipe leaves either the untouched file or nothing. If removal
// fails after overwriting began the error wraps models.ErrWipeIncomplete.
// A missing file is not an error.
func (s *Service) Wipe(ctx context.Context, p string, tracker *progress.Tracker) error {
	if !s.env.Files.Exists(p) {
		return nil
	}
	info, err := s.env.Files.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir {
		return fmt.Errorf("wipe %s: is a directory", p)
	}

	logger := s.logger.WithField("path", p)
	logger.Debug("Wiping file")

	started, overwriteErr := s.overwrite(ctx, p, info.Size, tracker)
	if !started {
		return overwriteErr
	}
	if overwriteErr != nil && !isCanceled(overwriteErr) {
		logger.WithError(overwriteErr).Warn("Overwrite failed, removing file anyway")
	}

	if err := s.remove(info.Path, logger); err != nil {
		return fmt.Errorf("wipe %s: %w: %w", p, models.ErrWipeIncomplete, err)
	}

	if overwriteErr != nil {
		if isCanceled(overwriteErr) {
			logger.Info("Wipe canceled, overwritten file removed")
		}
		return overwriteErr
	}
	logger.Debug("File wiped")
	return nil
}

func (s *Service) remove(p string, logger *events.Logger) error {
	target, err := s.freeRandomName(path.Dir(p))
	if err != nil {
		logger.WithError(err).Warn("No random name for wiped file")
		target = p
	} else if err := s.env.Files.Move(p, target); err != nil {
		logger.WithError(err).Warn("Failed to rename wiped file")
		target = p
	}
	return s.env.Files.Delete(target)
}

// overwrite runs the random pass. started reports whether the file was
// opened for writing; until then the file is untouched.
func (s *Service) overwrite(ctx context.Context, p string, size int64, tracker *progress.Tracker) (started bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f, err := s.env.Files.OpenExclusive(p)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close wiped file: %w", cerr)
		}
	}()

	bufferSize := int64(s.env.Buffer())
	length := (size + bufferSize - 1) / bufferSize * bufferSize

	tracker.FileStarted(path.Base(p))
	tracker.AddTotal(length)
	defer tracker.FileCompleted()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return true, fmt.Errorf("seek wiped file: %w", err)
	}

	buf := make([]byte, bufferSize)
	for remaining := length; remaining > 0; remaining -= bufferSize {
		if remaining > bufferSize {
			if err := ctx.Err(); err != nil {
				return true, err
			}
		}

		if _, err := io.ReadFull(s.env.Random, buf); err != nil {
			return true, fmt.Errorf("random bytes: %w", err)
		}
		if _, err := f.Write(buf); err != nil {
			return true, fmt.Errorf("overwrite %s: %w", p, err)
		}
		tracker.AddBytes(bufferSize)
	}
	return true, ctx.Err()
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) freeRandomName(dir string) (string, error) {
	for i := 0; i < maxRenameAttempts; i++ {
		name, err := s.env.RandomName()
		if err != nil {
			return "", err
		}
		candidate := path.Join(dir, name)
		if !s.env.Files.Exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free random name in %s", dir)
}
