package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/TheMichaelB/axcrypt/internal/env"
	"github.com/TheMichaelB/axcrypt/internal/services/files"
	"github.com/TheMichaelB/axcrypt/internal/services/session"
	"github.com/TheMichaelB/axcrypt/internal/services/worker"
	"github.com/TheMichaelB/axcrypt/internal/state"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// app wires the services one command needs.
type app struct {
	env     *env.Env
	files   *files.Service
	store   state.Store
	state   *session.FileSystemState
	session *session.Service
}

type appOptions struct {
	launcher session.Launcher
	compress *bool
	idTag    string
}

func openApp(opts appOptions) (*app, error) {
	fileStore, err := storage.NewOSStore(logger)
	if err != nil {
		return nil, err
	}

	secretPath, err := filepath.Abs(cfg.Session.ProtectionSecretFile)
	if err != nil {
		return nil, fmt.Errorf("resolve protection secret: %w", err)
	}
	protector, err := env.LoadProtector(fileStore, secretPath, rand.Reader)
	if err != nil {
		return nil, err
	}
	e := env.FromConfig(cfg, fileStore, protector, logger)

	sessionCfg := cfg.Session
	if sessionCfg.StatePath, err = filepath.Abs(sessionCfg.StatePath); err != nil {
		return nil, fmt.Errorf("resolve state path: %w", err)
	}
	store, err := state.Open(&sessionCfg, fileStore, logger)
	if err != nil {
		return nil, err
	}

	st, err := session.Load(e, store, sessionName)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	decryptedDir, err := filepath.Abs(cfg.Session.DecryptedDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("resolve decrypted dir: %w", err)
	}

	compress := cfg.Crypto.Compress
	if opts.compress != nil {
		compress = *opts.compress
	}

	fileOps := files.NewService(e)
	svc := session.NewService(e, st, session.NewKnownKeys(st), fileOps, session.Config{
		DecryptedDir: decryptedDir,
		Compress:     compress,
		IdTag:        opts.idTag,
		Launcher:     opts.launcher,
	})

	return &app{env: e, files: fileOps, store: store, state: st, session: svc}, nil
}

func (a *app) Close() {
	a.state.Close()
	if err := a.store.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close state store")
	}
}

// batchResult is the per-file outcome printed by batch commands.
type batchResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// outputSet records the path each job produced.
type outputSet struct {
	mu sync.Mutex
	m  map[string]string
}

func (o *outputSet) set(name, output string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.m == nil {
		o.m = make(map[string]string)
	}
	o.m[name] = output
}

func (o *outputSet) get(name string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m[name]
}

// runBatch runs jobs on the worker pool and reports every outcome. The
// returned error is the first failure.
func (a *app) runBatch(ctx context.Context, op string, jobs []worker.Job, outputs *outputSet) ([]batchResult, error) {
	display := NewProgressDisplay()
	tracker := display.Tracker(op)

	g := worker.NewGroup(cfg.Workers.MaxConcurrent, nil, tracker, logger)

	var results []batchResult
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range g.Results() {
			br := batchResult{Name: r.Name, Status: r.Status.String(), Output: outputs.get(r.Name)}
			if r.Err != nil {
				br.Error = r.Err.Error()
				br.Output = ""
				display.AddError(fmt.Sprintf("%s: %v", r.Name, r.Err))
			}
			results = append(results, br)
		}
	}()

	for _, job := range jobs {
		if err := g.Go(ctx, job); err != nil {
			break
		}
	}
	first := g.Wait()
	<-collected
	display.Close()

	if !first.OK() {
		return results, first.Err
	}
	return results, nil
}

func absPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		p, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		out = append(out, p)
	}
	return out, nil
}
