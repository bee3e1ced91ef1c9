package session

import (
	"context"
	"time"
)

const DefaultDebounce = 200 * time.Millisecond

// Debounce forwards the last value of each burst once in has been quiet for
// window. A pending value is flushed when in closes. The returned channel is
// closed when in closes or ctx is done.
func Debounce[T any](ctx context.Context, in <-chan T, window time.Duration) <-chan T {
	if window <= 0 {
		window = DefaultDebounce
	}
	out := make(chan T)
	go func() {
		defer close(out)
		var (
			pending T
			has     bool
			timer   *time.Timer
			fire    <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		emit := func() bool {
			select {
			case out <- pending:
				has = false
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					if has {
						emit()
					}
					return
				}
				pending, has = v, true
				if timer == nil {
					timer = time.NewTimer(window)
				} else {
					timer.Reset(window)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if has && !emit() {
					return
				}
			}
		}
	}()
	return out
}
