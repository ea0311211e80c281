package purge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePurger struct {
	calls     atomic.Int32
	olderThan time.Duration
	err       error
}

func (f *fakePurger) Purge(_ context.Context, olderThan time.Duration) (int64, int64, error) {
	f.calls.Add(1)
	f.olderThan = olderThan
	return 2, 3, f.err
}

func TestOnce(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	p := &fakePurger{}

	if err := Once(ctx, p, time.Hour); err != nil {
		t.Fatalf("Once: %v", err)
	}
	if p.olderThan != time.Hour {
		t.Errorf("olderThan = %v", p.olderThan)
	}
	if !strings.Contains(buf.String(), `"conversations":2`) || !strings.Contains(buf.String(), `"analyses":3`) {
		t.Errorf("log = %s", buf.String())
	}

	p.err = errors.New("db gone")
	if err := Once(ctx, p, time.Hour); err == nil || !strings.Contains(err.Error(), "db gone") {
		t.Errorf("err = %v", err)
	}
}

func TestStart(t *testing.T) {
	p := &fakePurger{}
	stop, err := Start(context.Background(), "@every 1s", time.Minute, p)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for p.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	stop()
	if p.calls.Load() == 0 {
		t.Error("purge never ran")
	}
}

func TestStartBadSchedule(t *testing.T) {
	if _, err := Start(context.Background(), "sometimes", time.Minute, &fakePurger{}); err == nil {
		t.Error("expected error")
	}
}
