package session

import (
	"context"
	"time"
)

// Run reconciles the session every interval and shortly after Notify, until
// ctx is done. On shutdown it runs one last purge pass.
func (s *Service) Run(ctx context.Context, interval, idle time.Duration) error {
	passes := make(chan struct{}, 1)
	request := func() {
		select {
		case passes <- struct{}{}:
		default:
		}
	}

	delayed := NewDelayedAction(idle, request)
	s.setDelayed(delayed)
	defer func() {
		s.setDelayed(nil)
		delayed.Close()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithFields(map[string]interface{}{
		"interval": interval.String(),
		"idle":     idle.String(),
	}).Info("Session monitor started")

	request()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session monitor stopping, purging decrypted copies")
			return s.PurgeActiveFiles(context.WithoutCancel(ctx))
		case <-ticker.C:
			request()
		case <-passes:
			if err := s.CheckActiveFiles(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("Reconciliation pass failed")
			}
		}
	}
}

// Notify asks a running monitor for a pass once activity settles. Without
// a running monitor it does nothing.
func (s *Service) Notify() {
	s.delayedMu.Lock()
	d := s.delayed
	s.delayedMu.Unlock()
	if d != nil {
		d.StartIdleTimer()
	}
}

func (s *Service) setDelayed(d *DelayedAction) {
	s.delayedMu.Lock()
	s.delayed = d
	s.delayedMu.Unlock()
}
