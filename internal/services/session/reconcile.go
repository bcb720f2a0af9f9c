package session

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/services/files"
)

// CheckActiveFiles runs one reconciliation pass over every active file and
// saves the session once. A failure on one file never stops the pass.
func (s *Service) CheckActiveFiles(ctx context.Context) error {
	return s.pass(ctx, false)
}

// PurgeActiveFiles is the shutdown pass: like CheckActiveFiles, but idle
// decrypted copies are wiped on every platform.
func (s *Service) PurgeActiveFiles(ctx context.Context) error {
	return s.pass(ctx, true)
}

func (s *Service) pass(ctx context.Context, purge bool) error {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	s.logger.WithField("purge", purge).Debug("Checking active files")
	return s.state.ForEach(ctx, func(ctx context.Context, af *models.ActiveFile) *models.ActiveFile {
		return s.checkActiveFile(ctx, af, purge)
	})
}

// checkActiveFile applies the reconciliation steps to one file and
// returns af itself when nothing changed.
func (s *Service) checkActiveFile(ctx context.Context, af *models.ActiveFile, purge bool) *models.ActiveFile {
	logger := s.logger.WithFields(map[string]interface{}{
		"encrypted": af.EncryptedPath(),
		"status":    af.Status().String(),
	})

	unlock, ok := s.env.Locks.TryLock(af.EncryptedPath(), af.DecryptedPath())
	if !ok {
		logger.Debug("Active file is locked, skipping")
		return af
	}
	defer unlock()

	original := af
	now := s.env.Clock.Now()

	af = s.adoptKnownKey(af)
	af = s.checkDecryptedAppeared(af)
	af = checkProcessExited(af)

	af, modified := s.checkIfModified(ctx, af, logger)

	pending := af.Status().Has(models.DecryptedIsPendingDelete)
	if (s.env.Desktop || purge || pending) && !modified {
		af = s.checkIfTimeToWipe(ctx, af, logger)
	}

	if af.Status() != original.Status() {
		af = af.WithLastActivity(now)
		logger.WithField("new_status", af.Status().String()).Debug("Active file changed")
	}
	return af
}

// withStatus returns af itself when st is already its status.
func withStatus(af *models.ActiveFile, st models.ActiveFileStatus) *models.ActiveFile {
	if af.Status() == st {
		return af
	}
	return af.WithStatus(st)
}

// viewerRunning reports whether a process we launched still holds the copy.
func viewerRunning(af *models.ActiveFile) bool {
	p := af.Process()
	return p != nil && !p.HasExited()
}

// adoptKnownKey recognizes the key of a restored file by thumbprint.
func (s *Service) adoptKnownKey(af *models.ActiveFile) *models.ActiveFile {
	if _, known := af.Key(); known {
		return af
	}
	key, ok := s.keys.Match(af.Thumbprint())
	if !ok {
		return af
	}
	return af.WithKey(key, af.Thumbprint())
}

// checkDecryptedAppeared promotes a NotDecrypted file whose decrypted copy
// exists.
func (s *Service) checkDecryptedAppeared(af *models.ActiveFile) *models.ActiveFile {
	if !af.Status().Has(models.NotDecrypted) || !s.env.Files.Exists(af.DecryptedPath()) {
		return af
	}
	return af.WithStatus(af.Status().Without(models.NotDecrypted).With(models.AssumedOpenAndDecrypted))
}

// checkProcessExited clears NotShareable once the viewer we launched has
// exited. Without a launched process the flag stays and the blocked step is
// simply retried.
func checkProcessExited(af *models.ActiveFile) *models.ActiveFile {
	if !af.Status().Has(models.NotShareable) {
		return af
	}
	if p := af.Process(); p == nil || !p.HasExited() {
		return af
	}
	return af.WithStatus(af.Status().Without(models.NotShareable))
}

// checkIfModified re-encrypts a modified copy over the original with a
// backup. It reports whether the copy is still modified afterwards. A copy
// pending delete may hold wipe output and is never re-encrypted.
func (s *Service) checkIfModified(ctx context.Context, af *models.ActiveFile, logger *events.Logger) (*models.ActiveFile, bool) {
	st := af.Status()
	if !st.Has(models.AssumedOpenAndDecrypted) || st.Has(models.DecryptedIsPendingDelete) {
		return af, false
	}
	info, err := s.env.Files.Stat(af.DecryptedPath())
	if err != nil {
		return af, false
	}
	if !af.IsModified(info.LastWritten) {
		return af, false
	}

	if st.Has(models.IgnoreChange) {
		logger.Debug("Ignoring change to decrypted copy")
		return af.WithStatus(st.Without(models.IgnoreChange)).WithLastEncryptionWriteTime(info.LastWritten), false
	}
	if st.Has(models.NotShareable) && viewerRunning(af) {
		return af, true
	}
	key, known := af.Key()
	if !known {
		logger.Debug("Decrypted copy modified but key unknown")
		return af, true
	}

	probe, err := s.env.Files.OpenExclusive(af.EncryptedPath())
	if err != nil {
		return s.markFailure(af, err, logger, "Encrypted file not shareable"), true
	}
	_ = probe.Close()

	opts, err := s.reencryptOptions(af.EncryptedPath(), key)
	if err != nil {
		return s.markFailure(af, err, logger, "Failed to read encrypted file headers"), true
	}
	if err := s.files.Encrypt(ctx, af.DecryptedPath(), af.EncryptedPath(), key, opts); err != nil {
		return s.markFailure(af, err, logger, "Failed to re-encrypt modified copy"), true
	}

	logger.Info("Re-encrypted modified copy")
	return af.WithStatus(st.Without(models.Error | models.NotShareable)).WithLastEncryptionWriteTime(info.LastWritten), false
}

// reencryptOptions keeps the compression and id tag of the existing
// document.
func (s *Service) reencryptOptions(encPath string, key crypto.AesKey) (files.EncryptOptions, error) {
	info, err := s.files.Inspect(encPath, key)
	if err != nil {
		return files.EncryptOptions{}, err
	}
	opts := files.EncryptOptions{
		WithCompression:    info.Compressed,
		WithoutCompression: !info.Compressed,
		IdTag:              info.IdTag,
	}
	if opts.IdTag == "" {
		opts.IdTag = s.cfg.IdTag
	}
	return opts, nil
}

// checkIfTimeToWipe wipes an idle, unmodified decrypted copy and demotes
// the file to NotDecrypted.
func (s *Service) checkIfTimeToWipe(ctx context.Context, af *models.ActiveFile, logger *events.Logger) *models.ActiveFile {
	if !af.Status().Has(models.AssumedOpenAndDecrypted) || viewerRunning(af) {
		return af
	}

	af, err := s.wipeCopy(ctx, af)
	if err != nil {
		return s.markFailure(af, err, logger, "Failed to wipe decrypted copy")
	}

	st := af.Status().
		Without(models.AssumedOpenAndDecrypted | models.DecryptedIsPendingDelete | models.NotShareable | models.Error).
		With(models.NotDecrypted)
	return af.WithStatus(st).WithLastEncryptionWriteTime(time.Time{})
}

// wipeCopy wipes the decrypted copy of af and its private folder. A copy
// that was overwritten but could not be removed is flagged
// DecryptedIsPendingDelete so later passes only retry the wipe. A wipe that
// reports an error but removed the copy counts as done.
func (s *Service) wipeCopy(ctx context.Context, af *models.ActiveFile) (*models.ActiveFile, error) {
	dec := af.DecryptedPath()
	if !s.env.Files.Exists(dec) {
		return af, nil
	}
	err := s.files.Wipe(ctx, dec, nil)
	if err != nil && s.env.Files.Exists(dec) {
		if errors.Is(err, models.ErrWipeIncomplete) {
			af = withStatus(af, af.Status().With(models.DecryptedIsPendingDelete))
		}
		return af, err
	}
	if err != nil {
		s.logger.WithError(err).WithField("decrypted", dec).Debug("Wipe interrupted after removing copy")
	}
	s.removePrivateFolder(path.Dir(dec))
	s.logger.WithField("decrypted", dec).Info("Wiped decrypted copy")
	return af, nil
}

// markFailure records a failed step: contention marks the file
// NotShareable for a retry next pass, anything else marks it Error. af is
// returned unchanged when the flag is already set.
func (s *Service) markFailure(af *models.ActiveFile, err error, logger *events.Logger, msg string) *models.ActiveFile {
	if errors.Is(err, models.ErrSharingViolation) || errors.Is(err, models.ErrFileLocked) {
		logger.WithError(err).Debug(msg)
		return withStatus(af, af.Status().With(models.NotShareable))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return af
	}
	logger.WithError(err).Warn(msg)
	return withStatus(af, af.Status().With(models.Error))
}
