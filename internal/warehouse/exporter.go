package warehouse

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/visitor-analytics-go/internal/model"
)

const (
	DefaultQueueSize     = 10000
	DefaultFlushInterval = 5 * time.Second
	flushTimeout         = 10 * time.Second
)

// BatchWriter persists one batch of dwell events.
type BatchWriter interface {
	WriteDwellEvents(ctx context.Context, events []model.DwellEvent) error
}

// Exporter buffers dwell events in memory and writes them in batches from a
// single worker. A failed batch is logged and dropped; the session store
// stays the source of truth.
type Exporter struct {
	writer        BatchWriter
	queue         chan model.DwellEvent
	batchSize     int
	flushInterval time.Duration
	clock         clock.Clock

	dropped   atomic.Int64
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewExporter(writer BatchWriter, batchSize int, flushInterval time.Duration, queueSize int, clk clock.Clock) *Exporter {
	if batchSize < 1 {
		batchSize = 1
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Exporter{
		writer:        writer,
		queue:         make(chan model.DwellEvent, queueSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		clock:         clk,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

func (e *Exporter) Start() {
	ticker := e.clock.Ticker(e.flushInterval)
	go e.run(ticker)
	log.Info().
		Int("batchSize", e.batchSize).
		Dur("flushInterval", e.flushInterval).
		Msg("dwell exporter started")
}

// Enqueue never blocks; events that do not fit in the queue are dropped.
func (e *Exporter) Enqueue(events ...model.DwellEvent) {
	for _, event := range events {
		select {
		case e.queue <- event:
		default:
			if n := e.dropped.Add(1); n == 1 || n%1000 == 0 {
				log.Warn().Int64("dropped", n).Msg("dwell export queue full, dropping events")
			}
		}
	}
}

func (e *Exporter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops the worker after it flushes whatever is queued, or when ctx
// expires first.
func (e *Exporter) Close(ctx context.Context) error {
	e.closeOnce.Do(func() { close(e.done) })

	select {
	case <-e.stopped:
		log.Info().Int64("dropped", e.Dropped()).Msg("dwell exporter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Exporter) run(ticker *clock.Ticker) {
	defer close(e.stopped)
	defer ticker.Stop()

	batch := make([]model.DwellEvent, 0, e.batchSize)

	for {
		select {
		case event := <-e.queue:
			batch = append(batch, event)
			if len(batch) >= e.batchSize {
				batch = e.flush(batch)
			}

		case <-ticker.C:
			batch = e.flush(batch)

		case <-e.done:
			for {
				select {
				case event := <-e.queue:
					batch = append(batch, event)
					if len(batch) >= e.batchSize {
						batch = e.flush(batch)
					}
				default:
					e.flush(batch)
					return
				}
			}
		}
	}
}

func (e *Exporter) flush(batch []model.DwellEvent) []model.DwellEvent {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := e.writer.WriteDwellEvents(ctx, batch); err != nil {
		log.Error().Err(err).Int("count", len(batch)).Msg("failed to export dwell events")
	} else {
		log.Debug().Int("count", len(batch)).Msg("dwell events exported")
	}

	return make([]model.DwellEvent, 0, e.batchSize)
}

// NoopExporter discards events when no warehouse is configured.
type NoopExporter struct{}

func (NoopExporter) Enqueue(...model.DwellEvent) {}
