package session

import (
	"sync"
	"time"
)

// DelayedAction runs an action once the idle timer expires. Every
// StartIdleTimer call restarts the timer, so a burst of signals produces a
// single run.
type DelayedAction struct {
	delay  time.Duration
	action func()

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDelayedAction starts the timer goroutine. Call Close to stop it.
func NewDelayedAction(delay time.Duration, action func()) *DelayedAction {
	d := &DelayedAction{
		delay:  delay,
		action: action,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// StartIdleTimer (re)starts the idle timer.
func (d *DelayedAction) StartIdleTimer() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// Close stops the timer without running a pending action and waits for a
// running action to return.
func (d *DelayedAction) Close() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *DelayedAction) loop() {
	defer d.wg.Done()

	timer := time.NewTimer(d.delay)
	timer.Stop()
	defer timer.Stop()

	var fire <-chan time.Time
	for {
		select {
		case <-d.signal:
			timer.Reset(d.delay)
			fire = timer.C
		case <-fire:
			fire = nil
			d.action()
		case <-d.done:
			return
		}
	}
}
