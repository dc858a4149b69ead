package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openclaw/visitor-analytics-go/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "dwellsim",
	Short: "Replay a scripted page view against the sessions API",
	Long: "dwellsim provisions a visitor session and walks the given sections in order, " +
		"feeding scroll visibility to the same observer and tracker the browser uses. " +
		"Simulated time is used, so the walk finishes immediately.",
	Example: `  dwellsim --server http://localhost:8080 --page home --sections hero:12,features:5,pricing:8`,
	RunE:    runSimulation,
}

func init() {
	rootCmd.Flags().String("server", "http://localhost:8080", "Base URL of the sessions API")
	rootCmd.Flags().String("page", "home", "Page name to record")
	rootCmd.Flags().String("sections", "hero:12,features:5", "Comma separated section:seconds pairs, in scroll order")
	rootCmd.Flags().Bool("flush-on-leave", false, "Report the last section's dwell when the page view ends")
	rootCmd.Flags().Duration("settle", tracker.DefaultSettleWindow, "Time a section must stay in view before it counts as entered")
	rootCmd.Flags().Duration("timeout", tracker.DefaultEmitTimeout, "Timeout for each API call")
	rootCmd.Flags().Bool("verbose", false, "Log every request")
}

type sectionStep struct {
	Name  string
	Dwell time.Duration
}

// parseSections reads "hero:12,features:5" into ordered steps.
func parseSections(raw string) ([]sectionStep, error) {
	var steps []sectionStep
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, secs, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid section %q: want name:seconds", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(secs))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid dwell for section %q: %q", name, secs)
		}
		steps = append(steps, sectionStep{Name: name, Dwell: time.Duration(n) * time.Second})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no sections given")
	}
	return steps, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	page, _ := cmd.Flags().GetString("page")
	sectionsFlag, _ := cmd.Flags().GetString("sections")
	flushOnLeave, _ := cmd.Flags().GetBool("flush-on-leave")
	settle, _ := cmd.Flags().GetDuration("settle")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	steps, err := parseSections(sectionsFlag)
	if err != nil {
		return err
	}
	if settle < 0 || settle >= time.Second {
		return fmt.Errorf("settle must be at least 0 and under 1s, got %s", settle)
	}

	client := tracker.NewClient(server, &http.Client{Timeout: timeout})
	sessionID, err := tracker.NewProvisioner(client).SessionID(cmd.Context(), page, steps[0].Name)
	if err != nil {
		return err
	}

	sender := &countingSender{next: client}
	emitter := tracker.NewAsyncEmitter(sender, timeout)
	mockClock := clock.NewMock()
	tr := tracker.New(emitter, mockClock, tracker.Config{FlushOnLeave: flushOnLeave})

	walkErr := walk(tr.StartPage(sessionID, page), mockClock, settle, steps)
	emitter.Wait()
	if walkErr != nil {
		return walkErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s: walked %d sections on %q, %d dwell records delivered, %d dropped\n",
		sessionID, len(steps), page, sender.delivered.Load(), sender.failed.Load())
	return nil
}

// walk scrolls through steps on simulated time. Each new section is pushed
// past the visibility threshold while the previous one drops below it, and
// the observer commits the change once the settle window passes. Visible
// time starts at the commit, so the next scroll happens settle early to
// keep the measured dwell equal to the scripted one. A repeated section
// stays in view and just extends its dwell.
func walk(view *tracker.PageView, mockClock *clock.Mock, settle time.Duration, steps []sectionStep) error {
	sink := &signalingSink{view: view, entered: make(chan string, 1)}
	observer := tracker.NewVisibilityObserver(sink, mockClock, settle)
	defer observer.Stop()

	previous := ""
	for i, step := range steps {
		if step.Name != previous {
			observer.Observe(step.Name, tracker.VisibleRatio/2)
			observer.Observe(step.Name, 1)
			if previous != "" {
				observer.Observe(previous, tracker.VisibleRatio/2)
			}
			mockClock.Add(settle)

			select {
			case <-sink.entered:
			case <-time.After(commitWait):
				return fmt.Errorf("section %q was never committed", step.Name)
			}
			previous = step.Name
		}

		remaining := step.Dwell
		if i+1 < len(steps) && steps[i+1].Name != step.Name {
			remaining -= settle
		}
		if remaining > 0 {
			mockClock.Add(remaining)
		}
	}
	view.Leave()
	return nil
}

const commitWait = 5 * time.Second

// signalingSink forwards committed sections to the page view and reports
// each one so the walk can advance time only after the entry is recorded.
type signalingSink struct {
	view    *tracker.PageView
	entered chan string
}

func (s *signalingSink) Enter(section string) {
	s.view.Enter(section)
	s.entered <- section
}

// countingSender tallies which section appends the server accepted.
type countingSender struct {
	next      tracker.SectionSender
	delivered atomic.Int64
	failed    atomic.Int64
}

func (s *countingSender) RecordSection(ctx context.Context, rec tracker.SectionRecord) error {
	if err := s.next.RecordSection(ctx, rec); err != nil {
		s.failed.Add(1)
		return err
	}
	s.delivered.Add(1)
	return nil
}
