package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu      sync.Mutex
	records []SectionRecord
}

func (e *recordingEmitter) Emit(rec SectionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
}

func (e *recordingEmitter) all() []SectionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SectionRecord(nil), e.records...)
}

func newTestTracker(cfg Config) (*Tracker, *clock.Mock, *recordingEmitter) {
	mockClock := clock.NewMock()
	emitter := &recordingEmitter{}
	return New(emitter, mockClock, cfg), mockClock, emitter
}

func TestPageView_FlushesPreviousSectionOnEnter(t *testing.T) {
	tr, mockClock, emitter := newTestTracker(Config{})
	view := tr.StartPage("123456789", "home")

	view.Enter("hero")
	assert.Empty(t, emitter.all())

	mockClock.Add(12 * time.Second)
	view.Enter("features")

	records := emitter.all()
	require.Len(t, records, 1)
	assert.Equal(t, SectionRecord{
		SessionID:   "123456789",
		PageName:    "home",
		SectionName: "hero",
		Duration:    12,
	}, records[0])
	assert.Equal(t, "features", view.CurrentSection())
}

func TestPageView_CarriesPreviousSection(t *testing.T) {
	tr, mockClock, emitter := newTestTracker(Config{})
	view := tr.StartPage("123456789", "home")

	view.Enter("hero")
	mockClock.Add(3 * time.Second)
	view.Enter("features")
	mockClock.Add(7500 * time.Millisecond)
	view.Enter("pricing")

	records := emitter.all()
	require.Len(t, records, 2)
	assert.Nil(t, records[0].PreviousSection)

	assert.Equal(t, "features", records[1].SectionName)
	require.NotNil(t, records[1].PreviousSection)
	assert.Equal(t, "hero", *records[1].PreviousSection)
	assert.Equal(t, int64(7), records[1].Duration)
}

func TestPageView_NoSessionIsNoop(t *testing.T) {
	tr, mockClock, emitter := newTestTracker(Config{FlushOnLeave: true})
	view := tr.StartPage("", "home")

	view.Enter("hero")
	mockClock.Add(10 * time.Second)
	view.Enter("features")
	view.Leave()

	assert.Empty(t, emitter.all())
	assert.Equal(t, "", view.CurrentSection())
}

func TestPageView_SubSecondDwellNotEmitted(t *testing.T) {
	tr, mockClock, emitter := newTestTracker(Config{})
	view := tr.StartPage("123456789", "home")

	view.Enter("hero")
	mockClock.Add(900 * time.Millisecond)
	view.Enter("features")

	assert.Empty(t, emitter.all())
	assert.Equal(t, "features", view.CurrentSection())
}

func TestPageView_ReenteringCurrentSectionKeepsTimer(t *testing.T) {
	tr, mockClock, emitter := newTestTracker(Config{})
	view := tr.StartPage("123456789", "home")

	view.Enter("hero")
	mockClock.Add(4 * time.Second)
	view.Enter("hero")
	mockClock.Add(4 * time.Second)
	view.Enter("faq")

	records := emitter.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(8), records[0].Duration)
}

func TestPageView_Leave(t *testing.T) {
	t.Run("last section is dropped by default", func(t *testing.T) {
		tr, mockClock, emitter := newTestTracker(Config{})
		view := tr.StartPage("123456789", "home")

		view.Enter("hero")
		mockClock.Add(20 * time.Second)
		view.Leave()

		assert.Empty(t, emitter.all())
	})

	t.Run("flush on leave reports last section once", func(t *testing.T) {
		tr, mockClock, emitter := newTestTracker(Config{FlushOnLeave: true})
		view := tr.StartPage("123456789", "home")

		view.Enter("hero")
		mockClock.Add(20 * time.Second)
		view.Leave()
		view.Leave()
		view.Enter("features")

		records := emitter.all()
		require.Len(t, records, 1)
		assert.Equal(t, "hero", records[0].SectionName)
		assert.Equal(t, int64(20), records[0].Duration)
	})
}

func TestTracker_PageViewsAreIndependent(t *testing.T) {
	tr, mockClock, emitter := newTestTracker(Config{})

	home := tr.StartPage("123456789", "home")
	home.Enter("hero")
	mockClock.Add(5 * time.Second)

	about := tr.StartPage("123456789", "about")
	about.Enter("team")
	mockClock.Add(2 * time.Second)
	about.Enter("history")

	records := emitter.all()
	require.Len(t, records, 1)
	assert.Equal(t, "about", records[0].PageName)
	assert.Equal(t, "team", records[0].SectionName)
	assert.Equal(t, "hero", home.CurrentSection())
}
