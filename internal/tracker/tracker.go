// Package tracker measures how long a visitor dwells in each section of a
// page and reports every completed dwell to the sessions API.
package tracker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

type Config struct {
	// FlushOnLeave reports the last section's dwell when the page view ends.
	// Off by default, which leaves the final section unrecorded.
	FlushOnLeave bool
}

type Tracker struct {
	emitter Emitter
	clock   clock.Clock
	cfg     Config
}

func New(emitter Emitter, clk clock.Clock, cfg Config) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{emitter: emitter, clock: clk, cfg: cfg}
}

// StartPage opens the tracking context for one page view. An empty
// sessionID yields a view whose transitions are all no-ops.
func (t *Tracker) StartPage(sessionID, pageName string) *PageView {
	return &PageView{
		tracker:      t,
		sessionID:    sessionID,
		pageName:     pageName,
		sectionStart: t.clock.Now(),
	}
}

// PageView holds the section state of a single page view.
type PageView struct {
	tracker *Tracker

	mu              sync.Mutex
	sessionID       string
	pageName        string
	currentSection  string
	previousSection string
	sectionStart    time.Time
	left            bool
}

// Enter makes section the active one. The dwell of the section it replaces
// is emitted when it lasted at least one whole second.
func (p *PageView) Enter(section string) {
	p.mu.Lock()
	if p.sessionID == "" || p.left || section == "" || section == p.currentSection {
		p.mu.Unlock()
		return
	}

	now := p.tracker.clock.Now()
	rec, ok := p.completed(now)
	if p.currentSection != "" {
		p.previousSection = p.currentSection
	}
	p.currentSection = section
	p.sectionStart = now
	p.mu.Unlock()

	if ok {
		p.tracker.emitter.Emit(rec)
	}
}

// Leave ends the page view. With FlushOnLeave the active section's dwell is
// emitted; later calls to Enter are ignored.
func (p *PageView) Leave() {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return
	}
	p.left = true

	var (
		rec SectionRecord
		ok  bool
	)
	if p.sessionID != "" && p.tracker.cfg.FlushOnLeave {
		rec, ok = p.completed(p.tracker.clock.Now())
	}
	p.mu.Unlock()

	if ok {
		p.tracker.emitter.Emit(rec)
	}
}

func (p *PageView) CurrentSection() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentSection
}

// completed builds the record for the active section; callers hold mu.
func (p *PageView) completed(now time.Time) (SectionRecord, bool) {
	if p.currentSection == "" {
		return SectionRecord{}, false
	}
	duration := int64(now.Sub(p.sectionStart) / time.Second)
	if duration <= 0 {
		return SectionRecord{}, false
	}

	rec := SectionRecord{
		SessionID:   p.sessionID,
		PageName:    p.pageName,
		SectionName: p.currentSection,
		Duration:    duration,
	}
	if p.previousSection != "" {
		rec.PreviousSection = lo.ToPtr(p.previousSection)
	}
	return rec, true
}
