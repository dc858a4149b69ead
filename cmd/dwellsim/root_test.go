package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/visitor-analytics-go/internal/tracker"
)

func TestParseSections(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []sectionStep
		wantErr bool
	}{
		{
			name:  "ordered pairs",
			input: "hero:12, features:5,pricing:0",
			want: []sectionStep{
				{Name: "hero", Dwell: 12 * time.Second},
				{Name: "features", Dwell: 5 * time.Second},
				{Name: "pricing", Dwell: 0},
			},
		},
		{name: "trailing comma", input: "hero:1,", want: []sectionStep{{Name: "hero", Dwell: time.Second}}},
		{name: "missing seconds", input: "hero", wantErr: true},
		{name: "negative seconds", input: "hero:-2", wantErr: true},
		{name: "empty name", input: ":4", wantErr: true},
		{name: "nothing", input: " , ", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSections(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type fakeSessionsAPI struct {
	mu       sync.Mutex
	sections []tracker.SectionRecord
	failing  bool
}

func (f *fakeSessionsAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"session_id":"000000314","created_at":"2026-05-10T08:00:00Z"}`))
	})
	mux.HandleFunc("/sessions/sections", func(w http.ResponseWriter, r *http.Request) {
		if f.failing {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Internal server error","code":"DATABASE_ERROR"}`))
			return
		}
		var rec tracker.SectionRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sections = append(f.sections, rec)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeSessionsAPI) recorded() []tracker.SectionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracker.SectionRecord(nil), f.sections...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunSimulation(t *testing.T) {
	api := &fakeSessionsAPI{}
	srv := api.server(t)

	out, err := execute(t,
		"--server", srv.URL,
		"--page", "home",
		"--sections", "hero:12,features:5,pricing:8",
		"--settle", "150ms",
		"--flush-on-leave",
	)
	require.NoError(t, err)

	sections := api.recorded()
	require.Len(t, sections, 3)
	durations := map[string]int64{}
	for _, rec := range sections {
		assert.Equal(t, "000000314", rec.SessionID)
		durations[rec.SectionName] = rec.Duration
	}
	assert.Equal(t, map[string]int64{"hero": 12, "features": 5, "pricing": 8}, durations)
	assert.Contains(t, out, "3 dwell records delivered, 0 dropped")
}

func TestRunSimulation_RepeatedSectionIsOneVisit(t *testing.T) {
	api := &fakeSessionsAPI{}
	srv := api.server(t)

	_, err := execute(t,
		"--server", srv.URL,
		"--page", "pricing",
		"--sections", "plans:4,plans:3,faq:2",
		"--settle", "150ms",
		"--flush-on-leave=false",
	)
	require.NoError(t, err)

	sections := api.recorded()
	require.Len(t, sections, 1)
	assert.Equal(t, "plans", sections[0].SectionName)
	assert.Equal(t, int64(7), sections[0].Duration)
}

func TestRunSimulation_CountsDroppedRecords(t *testing.T) {
	api := &fakeSessionsAPI{failing: true}
	srv := api.server(t)

	out, err := execute(t,
		"--server", srv.URL,
		"--page", "home",
		"--sections", "hero:2,features:3",
		"--settle", "150ms",
		"--flush-on-leave",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "0 dwell records delivered, 2 dropped")
}

func TestRunSimulation_RejectsLongSettle(t *testing.T) {
	api := &fakeSessionsAPI{}
	srv := api.server(t)

	_, err := execute(t,
		"--server", srv.URL,
		"--sections", "hero:2",
		"--settle", "2s",
	)
	assert.ErrorContains(t, err, "settle")
}
