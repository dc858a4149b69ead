package tracker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

const (
	// VisibleRatio is the share of a section's area that must intersect the
	// viewport for it to count as entered.
	VisibleRatio = 0.5

	DefaultSettleWindow = 150 * time.Millisecond
)

// SectionSink receives committed section transitions.
type SectionSink interface {
	Enter(section string)
}

// VisibilityObserver turns raw intersection ratios into section
// transitions. The candidate is the most recently entered visible section;
// it is committed only after the settle window passes without further
// changes, and only when it differs from the last committed section.
type VisibilityObserver struct {
	sink   SectionSink
	clock  clock.Clock
	settle time.Duration

	// commitMu keeps sink calls in commit order.
	commitMu sync.Mutex

	mu        sync.Mutex
	visible   []string
	committed string
	timer     *clock.Timer
	stopped   bool
}

func NewVisibilityObserver(sink SectionSink, clk clock.Clock, settle time.Duration) *VisibilityObserver {
	if clk == nil {
		clk = clock.New()
	}
	return &VisibilityObserver{sink: sink, clock: clk, settle: settle}
}

// Observe records the latest intersection ratio reported for section.
func (o *VisibilityObserver) Observe(section string, ratio float64) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}

	if ratio >= VisibleRatio {
		if !lo.Contains(o.visible, section) {
			o.visible = append(o.visible, section)
		}
	} else {
		o.visible = lo.Without(o.visible, section)
	}

	if o.settle <= 0 {
		o.mu.Unlock()
		o.commit()
		return
	}

	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = o.clock.AfterFunc(o.settle, o.commit)
	o.mu.Unlock()
}

// Stop cancels any pending commit.
func (o *VisibilityObserver) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
	}
}

func (o *VisibilityObserver) commit() {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	o.mu.Lock()
	if o.stopped || len(o.visible) == 0 {
		o.mu.Unlock()
		return
	}
	candidate := o.visible[len(o.visible)-1]
	if candidate == o.committed {
		o.mu.Unlock()
		return
	}
	o.committed = candidate
	o.mu.Unlock()

	o.sink.Enter(candidate)
}
