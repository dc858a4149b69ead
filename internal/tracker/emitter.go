package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultEmitTimeout = 5 * time.Second

// Emitter hands a section record to the network without blocking the caller.
type Emitter interface {
	Emit(rec SectionRecord)
}

// SectionSender performs the actual section append.
type SectionSender interface {
	RecordSection(ctx context.Context, rec SectionRecord) error
}

// AsyncEmitter delivers each record at most once from its own goroutine.
// Failures are logged and dropped; retrying would double count dwell time
// because appends carry no idempotency key.
type AsyncEmitter struct {
	sender  SectionSender
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncEmitter(sender SectionSender, timeout time.Duration) *AsyncEmitter {
	if timeout <= 0 {
		timeout = DefaultEmitTimeout
	}
	return &AsyncEmitter{sender: sender, timeout: timeout}
}

func (e *AsyncEmitter) Emit(rec SectionRecord) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := e.sender.RecordSection(ctx, rec); err != nil {
			log.Warn().
				Err(err).
				Str("sessionId", rec.SessionID).
				Str("page", rec.PageName).
				Str("section", rec.SectionName).
				Msg("dropping section dwell")
			return
		}
		log.Debug().
			Str("sessionId", rec.SessionID).
			Str("section", rec.SectionName).
			Int64("duration", rec.Duration).
			Msg("section dwell sent")
	}()
}

// Wait blocks until every emission started so far has finished.
func (e *AsyncEmitter) Wait() {
	e.wg.Wait()
}
