// Package purge removes stale conversations and cached analyses, once or on a cron schedule.
package purge

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Purger is implemented by *store.Store.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (conversations, analyses int64, err error)
}

const passTimeout = time.Minute

// Once runs a single purge pass.
func Once(ctx context.Context, p Purger, olderThan time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()
	conv, an, err := p.Purge(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Int64("conversations", conv).
		Int64("analyses", an).
		Dur("older_than", olderThan).
		Msg("purged stale records")
	return nil
}

// Start schedules purge passes. The logger is taken from ctx. The returned stop
// function waits for a running pass to finish.
func Start(ctx context.Context, schedule string, olderThan time.Duration, p Purger) (stop func(), err error) {
	log := zerolog.Ctx(ctx).With().Str("component", "purge").Logger()
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
	cl := cronLogger{log: log}
	c := cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
	)
	jobCtx := log.WithContext(context.WithoutCancel(ctx))
	if _, err := c.AddFunc(schedule, func() {
		if err := Once(jobCtx, p, olderThan); err != nil {
			log.Error().Err(err).Msg("scheduled purge failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("purge schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Info().Str("schedule", schedule).Dur("older_than", olderThan).Msg("purge scheduled")

	return func() { <-c.Stop().Done() }, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

var _ cronlib.Logger = cronLogger{}
