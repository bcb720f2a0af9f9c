package files

import (
	"context"
	"fmt"
	"io"

	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// WriteToFileWithBackup runs write against a temporary sibling of
// destination. On success any existing destination is moved to a
// timestamped backup, the temporary file takes its place and the backup is
// wiped. On failure or cancellation the temporary file is wiped and
// destination is left as it was.
func (s *Service) WriteToFileWithBackup(ctx context.Context, destination string, write func(out io.ReadWriteSeeker) error) error {
	now := s.env.Clock.Now()
	temp := storage.TempPath(destination, now)

	logger := s.logger.WithFields(map[string]interface{}{
		"destination": destination,
		"temp":        temp,
	})

	out, err := s.env.Files.OpenWrite(temp)
	if err != nil {
		return err
	}

	writeErr := write(out)
	closeErr := out.Close()
	if writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("close temporary file: %w", closeErr)
	}
	if writeErr != nil {
		s.discard(temp)
		return writeErr
	}

	backup := ""
	if s.env.Files.Exists(destination) {
		backup = storage.BackupPath(destination, now)
		if err := s.env.Files.Move(destination, backup); err != nil {
			s.discard(temp)
			return err
		}
	}

	if err := s.env.Files.Move(temp, destination); err != nil {
		if backup != "" {
			if rerr := s.env.Files.Move(backup, destination); rerr != nil {
				logger.WithError(rerr).Error("Failed to restore backup")
			}
		}
		s.discard(temp)
		return err
	}

	if backup != "" {
		if err := s.Wipe(context.WithoutCancel(ctx), backup, nil); err != nil {
			logger.WithError(err).WithField("backup", backup).Warn("Failed to wipe backup")
		}
	}
	return nil
}

// discard wipes a temporary file regardless of cancellation.
func (s *Service) discard(temp string) {
	if err := s.Wipe(context.Background(), temp, nil); err != nil {
		s.logger.WithError(err).WithField("temp", temp).Warn("Failed to wipe temporary file")
	}
}
