package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the job did not finish before Options.Timeout.
var ErrTimeout = errors.New("poll: timed out waiting for completion")

type Backoff int

const (
	Fixed Backoff = iota
	Exponential
)

type Options struct {
	Interval    time.Duration // delay before the second check
	MaxInterval time.Duration // cap for Exponential
	Timeout     time.Duration // 0 disables the deadline; ctx still applies
	Backoff     Backoff
}

func DefaultOptions() Options {
	return Options{
		Interval:    2 * time.Second,
		MaxInterval: 10 * time.Second,
		Timeout:     5 * time.Minute,
		Backoff:     Fixed,
	}
}

// CheckFunc reports whether the remote job reached a terminal success state.
// A non-nil error stops the wait and is returned as is.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Until runs check immediately and then after every delay until it is done,
// fails, the context ends or the timeout elapses.
func Until(ctx context.Context, opt Options, check CheckFunc) error {
	if opt.Interval <= 0 {
		opt.Interval = DefaultOptions().Interval
	}
	if opt.MaxInterval < opt.Interval {
		opt.MaxInterval = opt.Interval
	}

	var deadline <-chan time.Time
	if opt.Timeout > 0 {
		t := time.NewTimer(opt.Timeout)
		defer t.Stop()
		deadline = t.C
	}

	delay := opt.Interval
	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		wait := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline:
			wait.Stop()
			return ErrTimeout
		case <-wait.C:
		}

		if opt.Backoff == Exponential {
			delay *= 2
			if delay > opt.MaxInterval {
				delay = opt.MaxInterval
			}
		}
	}
}
