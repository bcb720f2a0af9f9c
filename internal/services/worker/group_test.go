package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/progress"
	"github.com/TheMichaelB/axcrypt/internal/services/worker"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGroup_LimitsConcurrency(t *testing.T) {
	g := worker.NewGroup(2, nil, nil, events.Discard())

	var running, peak int32
	for i := 0; i < 10; i++ {
		err := g.Go(context.Background(), worker.Job{
			Name:  fmt.Sprintf("job-%d", i),
			Paths: []string{fmt.Sprintf("/docs/%d.axx", i)},
			Run: func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			},
		})
		require.NoError(t, err)
	}

	res := g.Wait()
	assert.True(t, res.OK())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, int32(0), atomic.LoadInt32(&running), "no job runs after Wait")
}

func TestGroup_KeepsFirstFailure(t *testing.T) {
	tracker := progress.NewTracker("batch", nil)
	g := worker.NewGroup(1, nil, tracker, events.Discard())

	outcomes := []error{
		nil,
		&models.IntegrityError{Path: "/docs/b.axx"},
		models.ErrPassphraseInvalid,
		errors.New("disk full"),
	}
	for i, outcome := range outcomes {
		outcome := outcome
		require.NoError(t, g.Go(context.Background(), worker.Job{
			Name: fmt.Sprintf("job-%d", i),
			Run:  func(context.Context) error { return outcome },
		}))
	}

	res := g.Wait()
	assert.Equal(t, worker.StatusIntegrity, res.Status)
	assert.Equal(t, "job-1", res.Name)
	assert.ErrorIs(t, res.Err, models.ErrIntegrity)

	snap := tracker.Snapshot()
	assert.Equal(t, progress.StatusFailed, snap.Status)
	assert.Equal(t, 4, snap.FilesComplete)
}

func TestGroup_Results(t *testing.T) {
	g := worker.NewGroup(3, nil, nil, events.Discard())
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Go(context.Background(), worker.Job{
			Name: fmt.Sprintf("job-%d", i),
			Run:  func(context.Context) error { return nil },
		}))
	}
	g.Wait()

	var names []string
	for res := range g.Results() {
		assert.True(t, res.OK())
		names = append(names, res.Name)
	}
	assert.Len(t, names, 5)
}

// Two operations on the same encrypted path: the second observes the lock
// and skips without touching the first's output.
func TestScenario_SamePathSkips(t *testing.T) {
	locks := storage.NewLockRegistry()
	g := worker.NewGroup(2, locks, nil, events.Discard())

	var mu sync.Mutex
	output := ""
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, g.Go(context.Background(), worker.Job{
		Name:  "first",
		Paths: []string{"/docs/report-txt.axx", "/tmp/report.txt"},
		Run: func(context.Context) error {
			close(started)
			<-release
			mu.Lock()
			output = "first"
			mu.Unlock()
			return nil
		},
	}))
	<-started

	var secondRan atomic.Bool
	require.NoError(t, g.Go(context.Background(), worker.Job{
		Name:  "second",
		Paths: []string{"/docs/./report-txt.axx"},
		Run: func(context.Context) error {
			secondRan.Store(true)
			mu.Lock()
			output = "second"
			mu.Unlock()
			return nil
		},
	}))

	second := <-g.Results()
	assert.Equal(t, "second", second.Name)
	assert.Equal(t, worker.StatusFileLocked, second.Status)
	assert.ErrorIs(t, second.Err, models.ErrFileLocked)

	close(release)
	res := g.Wait()

	assert.Equal(t, worker.StatusFileLocked, res.Status)
	assert.False(t, secondRan.Load())
	assert.Equal(t, "first", output)
	assert.False(t, locks.IsLocked("/docs/report-txt.axx"), "locks released")
}

func TestGroup_Canceled(t *testing.T) {
	g := worker.NewGroup(1, nil, nil, events.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	_ = g.Go(ctx, worker.Job{Name: "job", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}})

	res := g.Wait()
	assert.Equal(t, worker.StatusCanceled, res.Status)
	assert.False(t, ran.Load())
}

func TestGroup_AcquireBlocksUntilDeadline(t *testing.T) {
	g := worker.NewGroup(1, nil, nil, events.Discard())
	release := make(chan struct{})
	require.NoError(t, g.Go(context.Background(), worker.Job{Name: "slow", Run: func(context.Context) error {
		<-release
		return nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Go(ctx, worker.Job{Name: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	res := g.Wait()
	assert.Equal(t, worker.StatusCanceled, res.Status)
	assert.Equal(t, "late", res.Name)
}

func TestGroup_Panic(t *testing.T) {
	g := worker.NewGroup(1, nil, nil, events.Discard())
	require.NoError(t, g.Go(context.Background(), worker.Job{Name: "boom", Run: func(context.Context) error {
		panic("boom")
	}}))

	res := g.Wait()
	assert.Equal(t, worker.StatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "boom")
}

func TestGroup_GoAfterWait(t *testing.T) {
	g := worker.NewGroup(1, nil, nil, events.Discard())
	g.Wait()
	err := g.Go(context.Background(), worker.Job{Name: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, worker.ErrClosed)
}

func TestRun(t *testing.T) {
	var count atomic.Int32
	jobs := make([]worker.Job, 20)
	for i := range jobs {
		jobs[i] = worker.Job{
			Name:  fmt.Sprintf("job-%d", i),
			Paths: []string{fmt.Sprintf("/f/%d", i)},
			Run: func(context.Context) error {
				count.Add(1)
				return nil
			},
		}
	}

	res := worker.Run(context.Background(), 4, nil, nil, events.Discard(), jobs)
	assert.True(t, res.OK())
	assert.Equal(t, int32(20), count.Load())
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want worker.Status
	}{
		{nil, worker.StatusSuccess},
		{context.Canceled, worker.StatusCanceled},
		{fmt.Errorf("copy: %w", context.DeadlineExceeded), worker.StatusCanceled},
		{&models.FileOperationError{Op: "open", Path: "/a", Err: models.ErrSharingViolation}, worker.StatusFileLocked},
		{models.ErrPassphraseInvalid, worker.StatusInvalidKey},
		{&models.DecryptError{Reason: "body", Err: &models.IntegrityError{}}, worker.StatusIntegrity},
		{errors.New("other"), worker.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, worker.StatusOf(tt.err))
		})
	}
}
