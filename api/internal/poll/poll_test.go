package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntilDone(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Options{Interval: time.Millisecond, Timeout: time.Second}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestUntilCheckError(t *testing.T) {
	boom := errors.New("run failed")
	err := Until(context.Background(), Options{Interval: time.Millisecond}, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestUntilTimeout(t *testing.T) {
	start := time.Now()
	err := Until(context.Background(), Options{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Until(ctx, Options{Interval: 5 * time.Millisecond}, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestUntilExponentialBackoff(t *testing.T) {
	var stamps []time.Time
	err := Until(context.Background(), Options{
		Interval:    4 * time.Millisecond,
		MaxInterval: 16 * time.Millisecond,
		Timeout:     time.Second,
		Backoff:     Exponential,
	}, func(context.Context) (bool, error) {
		stamps = append(stamps, time.Now())
		return len(stamps) == 5, nil
	})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	// 4ms, 8ms, 16ms, 16ms between checks: at least 44ms in total.
	if total := stamps[len(stamps)-1].Sub(stamps[0]); total < 44*time.Millisecond {
		t.Errorf("total wait = %v, want >= 44ms", total)
	}
}
