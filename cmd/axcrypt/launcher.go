package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/TheMichaelB/axcrypt/internal/models"
)

// commandLauncher opens decrypted copies with an external viewer command.
type commandLauncher struct {
	command []string
}

func newCommandLauncher(command string) *commandLauncher {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	return &commandLauncher{command: strings.Fields(command)}
}

type viewerProcess struct {
	exited atomic.Bool
	done   chan struct{}
}

func (p *viewerProcess) HasExited() bool { return p.exited.Load() }

// Wait blocks until the viewer exits or ctx is done.
func (p *viewerProcess) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launch starts the viewer. The viewer outlives ctx.
func (l *commandLauncher) Launch(_ context.Context, path string) (models.Process, error) {
	args := append(append([]string(nil), l.command[1:]...), path)
	cmd := exec.Command(l.command[0], args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start viewer %s: %w", l.command[0], err)
	}

	proc := &viewerProcess{done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		proc.exited.Store(true)
		close(proc.done)
	}()

	logger.WithFields(map[string]interface{}{
		"viewer": l.command[0],
		"pid":    cmd.Process.Pid,
	}).Debug("Viewer started")
	return proc, nil
}
