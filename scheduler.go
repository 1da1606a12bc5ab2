package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Job is one scheduled run of a command. It reports whether the run
// succeeded; a failed wave moves on to the next one.
type Job func(ctx context.Context) (bool, error)

// Scheduler runs jobs at wall clock times measured on the synced clock.
type Scheduler struct {
	clock *TimeSync
	log   *slog.Logger
	tick  time.Duration
}

func NewScheduler(clock *TimeSync, log *slog.Logger) *Scheduler {
	if log == nil {
		log = discardLogger()
	}
	return &Scheduler{clock: clock, log: log, tick: 30 * time.Second}
}

// RunAt waits until when and runs job once.
func (s *Scheduler) RunAt(ctx context.Context, when time.Time, job Job) (bool, error) {
	if err := s.sleepUntil(ctx, when); err != nil {
		return false, err
	}
	return job(ctx)
}

// RunWaves runs job at each wave until one succeeds. Waves whose grace period
// has already passed are skipped.
func (s *Scheduler) RunWaves(ctx context.Context, waves []time.Time, grace time.Duration, job Job) error {
	if len(waves) == 0 {
		return fmt.Errorf("no waves configured")
	}

	if s.clock.ShouldResync() {
		if err := s.clock.Sync(ctx); err != nil {
			s.log.Warn("time sync failed, using local clock", "error", err)
		}
	}

	now := s.clock.Now()
	start := -1
	for i, wave := range waves {
		if now.Before(wave.Add(grace)) {
			start = i
			break
		}
	}
	if start == -1 {
		fmt.Println(T("schedule_all_waves_passed"))
		return fmt.Errorf("all %d waves have ended", len(waves))
	}
	if start > 0 {
		fmt.Printf(T("schedule_skipping_waves")+"\n", start)
	}

	for i := start; i < len(waves); i++ {
		fmt.Printf(T("schedule_wave_header")+"\n", i+1, len(waves), waves[i].Local().Format("15:04:05 MST"))

		ok, err := s.RunAt(ctx, waves[i], job)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Warn("wave failed", "wave", i+1, "error", err)
		}
		if ok {
			fmt.Println(T("schedule_wave_success"))
			return nil
		}
		fmt.Printf(T("schedule_wave_failed")+"\n", i+1)
	}

	return fmt.Errorf("job failed for all %d waves", len(waves)-start)
}

// sleepUntil waits for target on the synced clock, resyncing hourly and
// printing the remaining time every tick.
func (s *Scheduler) sleepUntil(ctx context.Context, target time.Time) error {
	for {
		remaining := target.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil
		}

		wait := remaining
		if wait > s.tick {
			wait = s.tick
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if s.clock.ShouldResync() {
			if err := s.clock.Sync(ctx); err != nil {
				fmt.Printf(T("schedule_resync_failed")+"\n", err)
			}
		}

		if left := target.Sub(s.clock.Now()); left > 0 {
			fmt.Printf(T("schedule_waiting")+"\n", left.Round(time.Second))
		}
	}
}
