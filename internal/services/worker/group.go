// Package worker runs file operations with bounded parallelism.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/progress"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// ErrClosed is returned by Go after Wait.
var ErrClosed = errors.New("worker group is closed")

// Job is one unit of work. Paths are locked for the duration of Run; a job
// whose paths are already locked is skipped with StatusFileLocked.
type Job struct {
	Name  string
	Paths []string
	Run   func(ctx context.Context) error
}

// Group limits concurrently running jobs and keeps the first non-success
// result.
type Group struct {
	sem     *semaphore.Weighted
	max     int64
	locks   *storage.LockRegistry
	tracker *progress.Tracker
	logger  *events.Logger

	mu      sync.Mutex
	first   *Result
	closed  bool
	results chan Result
}

// NewGroup creates a group running at most maxConcurrent jobs at once.
// locks and tracker may be nil.
func NewGroup(maxConcurrent int, locks *storage.LockRegistry, tracker *progress.Tracker, logger *events.Logger) *Group {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if locks == nil {
		locks = storage.NewLockRegistry()
	}
	return &Group{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     int64(maxConcurrent),
		locks:   locks,
		tracker: tracker,
		logger:  logger.WithField("component", "worker_group"),
		results: make(chan Result, 100),
	}
}

// Results returns the completion channel. It is closed by Wait. Results
// are dropped when the channel is full.
func (g *Group) Results() <-chan Result {
	return g.results
}

// Go waits for a free slot and starts job. It returns an error only when no
// slot could be acquired; the job's own outcome is reported as a Result.
func (g *Group) Go(ctx context.Context, job Job) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.complete(Result{Name: job.Name, Status: StatusCanceled, Err: err})
		return err
	}

	go func() {
		defer g.sem.Release(1)
		g.complete(g.run(ctx, job))
	}()
	return nil
}

func (g *Group) run(ctx context.Context, job Job) (res Result) {
	res.Name = job.Name

	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusCanceled, err
		return res
	}

	unlock, ok := g.locks.TryLock(job.Paths...)
	if !ok {
		res.Status = StatusFileLocked
		res.Err = &models.FileOperationError{Op: job.Name, Path: fmt.Sprint(job.Paths), Err: models.ErrFileLocked}
		return res
	}
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("%s panicked: %v", job.Name, r)
		}
	}()

	g.tracker.FileStarted(job.Name)
	defer g.tracker.FileCompleted()

	err := job.Run(ctx)
	res.Status, res.Err = StatusOf(err), err
	return res
}

func (g *Group) complete(res Result) {
	logger := g.logger.WithFields(map[string]interface{}{
		"job":    res.Name,
		"status": res.Status.String(),
	})
	if res.Err != nil {
		logger = logger.WithError(res.Err)
	}
	logger.Debug("Job finished")

	g.mu.Lock()
	defer g.mu.Unlock()

	if !res.OK() && g.first == nil {
		first := res
		g.first = &first
	}
	if g.closed {
		return
	}
	select {
	case g.results <- res:
	default:
		g.logger.Debug("Result channel full, dropping result")
	}
}

// Wait blocks until every started job has finished, finalizes the tracker
// and closes the result channel. It returns the first non-success result.
func (g *Group) Wait() Result {
	// holding every slot means no job is running
	_ = g.sem.Acquire(context.Background(), g.max)
	g.sem.Release(g.max)

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		g.closed = true
		close(g.results)
	}

	if g.first == nil {
		g.tracker.Finish(progress.StatusComplete, nil)
		return Result{Status: StatusSuccess}
	}

	status := progress.StatusFailed
	if g.first.Status == StatusCanceled {
		status = progress.StatusCanceled
	}
	g.tracker.Finish(status, g.first.Err)
	return *g.first
}

// Run executes jobs with at most maxConcurrent in flight and returns the
// first non-success result.
func Run(ctx context.Context, maxConcurrent int, locks *storage.LockRegistry, tracker *progress.Tracker, logger *events.Logger, jobs []Job) Result {
	g := NewGroup(maxConcurrent, locks, tracker, logger)
	for _, job := range jobs {
		if err := g.Go(ctx, job); err != nil {
			break
		}
	}
	return g.Wait()
}
