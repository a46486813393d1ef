// Package jobs runs the daemon's periodic maintenance work (daily analytics
// aggregation, event retention cleanup) on cron schedules.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"
)

// Func is the body of a job.
type Func func(ctx context.Context) error

// Job is a named unit of work run on a cron schedule.
type Job struct {
	Name string
	Cron string
	Run  Func
}

// Scheduler runs each job in its own goroutine. A job never overlaps with
// itself: ticks that fall while it is still running are skipped.
type Scheduler struct {
	jobs []Job
	loc  *time.Location

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New validates every cron expression and returns a Scheduler evaluating
// them in loc (UTC when nil).
func New(loc *time.Location, jobs ...Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	seen := make(map[string]bool, len(jobs))
	var errs []error
	for _, j := range jobs {
		switch {
		case j.Name == "":
			errs = append(errs, errors.New("job name is empty"))
		case seen[j.Name]:
			errs = append(errs, fmt.Errorf("job %q registered twice", j.Name))
		case j.Run == nil:
			errs = append(errs, fmt.Errorf("job %q has no function", j.Name))
		case !gronx.IsValid(j.Cron):
			errs = append(errs, fmt.Errorf("job %q: invalid cron expression %q", j.Name, j.Cron))
		}
		seen[j.Name] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("jobs: %w", errors.Join(errs...))
	}
	return &Scheduler{jobs: jobs, loc: loc, now: time.Now, after: time.After}, nil
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

// NextRun returns the next tick of the named job after now.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	j, ok := s.lookup(name)
	if !ok {
		return time.Time{}, fmt.Errorf("jobs: unknown job %q", name)
	}
	return gronx.NextTickAfter(j.Cron, s.now().In(s.loc), false)
}

// RunNow runs the named job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("jobs: unknown job %q", name)
	}
	return runSafe(ctx, j)
}

// Start launches one goroutine per job. The returned channel is closed once
// every job loop has returned after ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	log.Info().Int("jobs", len(s.jobs)).Str("timezone", s.loc.String()).Msg("scheduler started")
	return done
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	for {
		now := s.now().In(s.loc)
		next, err := gronx.NextTickAfter(j.Cron, now, false)
		wait := next.Sub(now)
		if err != nil {
			log.Error().Err(err).Str("job", j.Name).Str("cron", j.Cron).Msg("scheduler: next tick failed")
			wait = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			log.Debug().Str("job", j.Name).Msg("scheduler: job loop stopping")
			return
		case <-s.after(wait):
		}
		if err != nil {
			continue
		}

		started := time.Now()
		if err := runSafe(ctx, j); err != nil {
			log.Error().Err(err).Str("job", j.Name).Msg("scheduled job failed")
			continue
		}
		log.Info().Str("job", j.Name).Dur("took", time.Since(started)).Msg("scheduled job finished")
	}
}

func (s *Scheduler) lookup(name string) (Job, bool) {
	for _, j := range s.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

// runSafe runs the job, turning a panic into an error.
func runSafe(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("job", j.Name).Msg("scheduler: recovered from panic")
			err = fmt.Errorf("jobs: %s panicked: %v", j.Name, r)
		}
	}()
	return j.Run(ctx)
}
