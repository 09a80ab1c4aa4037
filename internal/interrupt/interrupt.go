// Package interrupt counts interrupt requests so a long running write can
// stop cleanly on the first and give up immediately on the second.
package interrupt

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Flag counts the interrupt requests raised so far. The zero value is
// ready to use.
type Flag struct {
	n atomic.Int32
}

// Raise records another interrupt request and returns the new level.
func (f *Flag) Raise() int {
	return int(f.n.Add(1))
}

// Level returns the number of interrupt requests raised.
func (f *Flag) Level() int {
	return int(f.n.Load())
}

// Watch raises the flag on every SIGINT or SIGTERM until the returned
// function is called.
func Watch(f *Flag) (stop func()) {
	sigs := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-sigs:
				f.Raise()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
