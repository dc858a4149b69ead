package jobs

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/visitor-analytics-go/internal/audit"
)

// SessionPurger is the part of the session store the retention job needs.
type SessionPurger interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob periodically deletes sessions older than the retention window.
type RetentionJob struct {
	repo      SessionPurger
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	done      chan struct{}
	stopped   chan struct{}
}

func NewRetentionJob(repo SessionPurger, retention, interval time.Duration, clk clock.Clock) *RetentionJob {
	if clk == nil {
		clk = clock.New()
	}
	return &RetentionJob{
		repo:      repo,
		retention: retention,
		interval:  interval,
		clock:     clk,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("retention job started")
}

// Stop signals the loop and waits for an in-flight purge to finish.
func (j *RetentionJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	defer close(j.stopped)

	ticker := j.clock.Ticker(j.interval)
	defer ticker.Stop()

	j.purge()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.purge()
		}
	}
}

func (j *RetentionJob) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runPurge(ctx, j.clock.Now().Add(-j.retention))
}

func (j *RetentionJob) runPurge(ctx context.Context, cutoff time.Time) int64 {
	count, err := j.repo.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Time("cutoff", cutoff).Msg("failed to purge expired visitor sessions")
		return 0
	}
	if count > 0 {
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("purged expired visitor sessions")
		audit.Log(ctx, audit.Event{
			Type:    audit.EventRetentionPurge,
			Details: map[string]interface{}{"count": count, "cutoff": cutoff.UTC().Format(time.RFC3339)},
		})
	}
	return count
}
