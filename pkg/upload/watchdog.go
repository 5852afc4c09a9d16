package upload

import (
	"sync"
	"time"
)

// Watchdog is a resettable repeating timer. After construction and
// after each Reset, the action fires once the interval elapses with no
// further Reset, and keeps firing every interval until Stop is called.
type Watchdog struct {
	resetC   chan struct{}
	stopC    chan struct{}
	stopOnce sync.Once
}

// NewWatchdog starts a watchdog firing action every interval.
func NewWatchdog(interval time.Duration, action func()) *Watchdog {
	w := &Watchdog{
		resetC: make(chan struct{}, 1),
		stopC:  make(chan struct{}),
	}
	go w.run(interval, action)
	return w
}

func (w *Watchdog) run(interval time.Duration, action func()) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			action()
			timer.Reset(interval)
		case <-w.resetC:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
		case <-w.stopC:
			return
		}
	}
}

// Reset restarts the wait. Concurrent resets coalesce.
func (w *Watchdog) Reset() {
	select {
	case w.resetC <- struct{}{}:
	default:
	}
}

// Stop terminates the watchdog. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopC) })
}
