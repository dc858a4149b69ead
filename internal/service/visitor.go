package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/model"
	"github.com/openclaw/visitor-analytics-go/internal/repository"
	"github.com/openclaw/visitor-analytics-go/internal/sse"
	"github.com/openclaw/visitor-analytics-go/internal/util"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
	// MaxPage keeps (page-1)*perPage inside int for any clamped perPage.
	MaxPage = math.MaxInt / MaxPerPage

	DefaultSessionIDMaxAttempts = 5
)

// ActivityPublisher delivers live activity events to admin dashboards.
type ActivityPublisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

// DwellExporter queues events for the analytics warehouse. Enqueue must not block.
type DwellExporter interface {
	Enqueue(events ...model.DwellEvent)
}

// EventsRequest is the decoded body of the events route: either a
// CreateFromEvents or an AppendToSession.
type EventsRequest interface {
	eventsRequest()
}

type CreateFromEvents struct {
	Details   *model.SessionDetails
	Analytics model.Analytics
}

type AppendToSession struct {
	SessionID string
	Details   *model.SessionDetails
	Analytics model.Analytics
}

func (CreateFromEvents) eventsRequest() {}
func (AppendToSession) eventsRequest()  {}

// EventsInput is the raw events body; SessionID presence selects the variant.
type EventsInput struct {
	SessionID      *string              `json:"session_id"`
	SessionDetails *SessionDetailsInput `json:"session_details"`
	Analytics      []PageVisitInput     `json:"analytics"`
}

type RecordSectionInput struct {
	SessionID       string       `json:"session_id"`
	PageName        string       `json:"page_name"`
	SectionName     string       `json:"section_name"`
	PreviousSection *string      `json:"previous_section"`
	Duration        *json.Number `json:"duration"`
}

type UpdateMetadataInput struct {
	SessionID      string               `json:"session_id"`
	SessionDetails *SessionDetailsInput `json:"session_details"`
	Analytics      []PageVisitInput     `json:"analytics"`
}

type EventsResult struct {
	Session *model.VisitorSession
	Created bool
}

type VisitorService struct {
	repo          repository.VisitorSessionRepository
	publisher     ActivityPublisher
	exporter      DwellExporter
	maxIDAttempts int
	newID         func() (string, error)
	clock         clock.Clock
}

func NewVisitorService(
	repo repository.VisitorSessionRepository,
	publisher ActivityPublisher,
	exporter DwellExporter,
	maxIDAttempts int,
) *VisitorService {
	if maxIDAttempts <= 0 {
		maxIDAttempts = DefaultSessionIDMaxAttempts
	}
	return &VisitorService{
		repo:          repo,
		publisher:     publisher,
		exporter:      exporter,
		maxIDAttempts: maxIDAttempts,
		newID:         util.GenerateSessionID,
		clock:         clock.New(),
	}
}

// CreateSession starts a session whose log holds one page with one
// zero-duration section.
func (s *VisitorService) CreateSession(ctx context.Context, pageName, sectionName string) (*model.VisitorSession, error) {
	if strings.TrimSpace(pageName) == "" {
		return nil, apperrors.MissingRequired("page_name")
	}
	if strings.TrimSpace(sectionName) == "" {
		return nil, apperrors.MissingRequired("section_name")
	}

	return s.create(ctx, nil, model.Analytics{{
		PageName:     pageName,
		PageSections: []model.SectionVisit{{Name: sectionName}},
	}})
}

// ParseEventsRequest validates the raw body and picks the request variant.
func ParseEventsRequest(in EventsInput) (EventsRequest, error) {
	if in.Analytics == nil {
		return nil, apperrors.MissingRequired("analytics")
	}
	analytics, err := ValidateAnalytics("analytics", in.Analytics)
	if err != nil {
		return nil, err
	}

	var details *model.SessionDetails
	if in.SessionDetails != nil {
		d, err := ValidateSessionDetails("session_details", in.SessionDetails)
		if err != nil {
			return nil, err
		}
		details = &d
	}

	if in.SessionID == nil {
		return CreateFromEvents{Details: details, Analytics: analytics}, nil
	}
	if strings.TrimSpace(*in.SessionID) == "" {
		return nil, apperrors.InvalidInput("session_id", "must not be empty")
	}
	if err := ValidateSessionID(*in.SessionID); err != nil {
		return nil, err
	}
	return AppendToSession{SessionID: *in.SessionID, Details: details, Analytics: analytics}, nil
}

func (s *VisitorService) HandleEvents(ctx context.Context, req EventsRequest) (*EventsResult, error) {
	switch r := req.(type) {
	case CreateFromEvents:
		session, err := s.create(ctx, r.Details, r.Analytics)
		if err != nil {
			return nil, err
		}
		return &EventsResult{Session: session, Created: true}, nil

	case AppendToSession:
		var (
			session *model.VisitorSession
			err     error
		)
		if r.Details != nil {
			session, err = s.repo.UpdateDetails(ctx, r.SessionID, *r.Details, r.Analytics)
		} else {
			session, err = s.repo.AppendAnalytics(ctx, r.SessionID, r.Analytics)
		}
		if err != nil {
			return nil, apperrors.Database(fmt.Errorf("append analytics: %w", err))
		}
		if session == nil {
			return nil, apperrors.NotFound("Session")
		}

		s.publish(ctx, model.VisitorActivity{
			Type:      model.VisitorEventAnalyticsAppended,
			SessionID: r.SessionID,
			Count:     int64(len(r.Analytics)),
		})
		s.export(r.SessionID, session.Details, r.Analytics)
		return &EventsResult{Session: session}, nil

	default:
		return nil, apperrors.Internal(fmt.Sprintf("unsupported events request %T", req))
	}
}

func (s *VisitorService) GetSession(ctx context.Context, sessionID string) (*model.VisitorSession, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	session, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find session: %w", err))
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// NormalizePagination applies the list defaults: pages are 1-indexed and
// perPage is clamped to MaxPerPage.
func NormalizePagination(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func (s *VisitorService) ListSessions(ctx context.Context, page, perPage int) (*model.ListVisitorSessionsResult, error) {
	page, perPage = NormalizePagination(page, perPage)

	sessions, err := s.repo.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("list sessions: %w", err))
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("count sessions: %w", err))
	}

	return &model.ListVisitorSessionsResult{
		Sessions: sessions,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
	}, nil
}

// UpdateMetadata overwrites session_details and appends any analytics sent
// along with them.
func (s *VisitorService) UpdateMetadata(ctx context.Context, in UpdateMetadataInput) (*model.VisitorSession, error) {
	if err := ValidateSessionID(in.SessionID); err != nil {
		return nil, err
	}
	details, err := ValidateSessionDetails("session_details", in.SessionDetails)
	if err != nil {
		return nil, err
	}
	analytics, err := ValidateAnalytics("analytics", in.Analytics)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.UpdateDetails(ctx, in.SessionID, details, analytics)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("update session details: %w", err))
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	log.Debug().
		Str("sessionId", in.SessionID).
		Str("deviceType", string(details.DeviceType)).
		Int("pages", len(analytics)).
		Msg("session metadata updated")

	s.publish(ctx, model.VisitorActivity{
		Type:      model.VisitorEventSessionUpdated,
		SessionID: in.SessionID,
		Count:     int64(len(analytics)),
	})
	s.export(in.SessionID, session.Details, analytics)
	return session, nil
}

// RecordSection appends one dwell record to the most recent visit of the
// named page.
func (s *VisitorService) RecordSection(ctx context.Context, in RecordSectionInput) error {
	if err := ValidateSessionID(in.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(in.PageName) == "" {
		return apperrors.MissingRequired("page_name")
	}
	if strings.TrimSpace(in.SectionName) == "" {
		return apperrors.MissingRequired("section_name")
	}
	duration, err := parseDuration("duration", in.Duration)
	if err != nil {
		return err
	}
	visit := model.SectionVisit{
		Name:            in.SectionName,
		PreviousSection: emptyToNil(in.PreviousSection),
		Duration:        duration,
	}

	session, err := s.repo.AppendSection(ctx, in.SessionID, in.PageName, visit)
	if err != nil {
		return apperrors.Database(fmt.Errorf("append section: %w", err))
	}
	if session == nil {
		return apperrors.NotFound("Session")
	}

	s.publish(ctx, model.VisitorActivity{
		Type:      model.VisitorEventSectionRecorded,
		SessionID: in.SessionID,
		PageName:  in.PageName,
		Section:   visit.Name,
		Duration:  visit.Duration,
	})
	s.export(in.SessionID, session.Details, model.Analytics{{
		PageName:     in.PageName,
		PageSections: []model.SectionVisit{visit},
	}}, withoutPageView())
	return nil
}

func (s *VisitorService) DeleteSession(ctx context.Context, sessionID string) (*model.VisitorSession, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	session, err := s.repo.DeleteBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("delete session: %w", err))
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	log.Info().Str("sessionId", sessionID).Msg("visitor session deleted")
	s.publish(ctx, model.VisitorActivity{
		Type:      model.VisitorEventSessionDeleted,
		SessionID: sessionID,
	})
	return session, nil
}

func (s *VisitorService) DeleteAllSessions(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, apperrors.Database(fmt.Errorf("delete all sessions: %w", err))
	}

	log.Info().Int64("count", count).Msg("visitor sessions purged")
	s.publish(ctx, model.VisitorActivity{
		Type:  model.VisitorEventSessionsPurged,
		Count: count,
	})
	return count, nil
}

// create inserts a session under a fresh id, drawing a new id whenever the
// store reports a collision, up to maxIDAttempts times.
func (s *VisitorService) create(ctx context.Context, details *model.SessionDetails, analytics model.Analytics) (*model.VisitorSession, error) {
	for attempt := 1; attempt <= s.maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not generate session id", err)
		}

		session, err := s.repo.Create(ctx, model.CreateVisitorSessionParams{
			SessionID: id,
			Details:   details,
			Analytics: analytics,
		})
		if errors.Is(err, repository.ErrSessionIDTaken) {
			log.Warn().
				Str("sessionId", id).
				Int("attempt", attempt).
				Msg("session id collision, regenerating")
			continue
		}
		if err != nil {
			return nil, apperrors.Database(fmt.Errorf("create session: %w", err))
		}

		log.Info().
			Str("sessionId", session.SessionID).
			Int("pages", len(analytics)).
			Msg("visitor session created")

		activity := model.VisitorActivity{
			Type:      model.VisitorEventSessionCreated,
			SessionID: session.SessionID,
		}
		if len(analytics) > 0 {
			activity.PageName = analytics[0].PageName
		}
		s.publish(ctx, activity)
		s.export(session.SessionID, details, analytics)
		return session, nil
	}

	log.Error().Int("attempts", s.maxIDAttempts).Msg("session id allocation exhausted")
	return nil, apperrors.SessionIDExhausted(s.maxIDAttempts)
}

// publish is best effort; a Redis outage must not fail ingestion.
func (s *VisitorService) publish(ctx context.Context, activity model.VisitorActivity) {
	if s.publisher == nil {
		return
	}
	activity.OccurredAt = s.clock.Now().UTC()

	err := s.publisher.Publish(ctx, sse.VisitorsTopic, sse.Event{
		Type: string(activity.Type),
		Data: activity.ToSSEEventData(),
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("type", string(activity.Type)).
			Msg("failed to publish visitor activity")
	}
}

type exportOptions struct {
	pageViews bool
}

type exportOption func(*exportOptions)

func withoutPageView() exportOption {
	return func(o *exportOptions) { o.pageViews = false }
}

func (s *VisitorService) export(sessionID string, details *model.SessionDetails, pages model.Analytics, opts ...exportOption) {
	if s.exporter == nil || len(pages) == 0 {
		return
	}
	o := exportOptions{pageViews: true}
	for _, opt := range opts {
		opt(&o)
	}

	events := DwellEvents(sessionID, details, pages, s.clock.Now().UTC(), o.pageViews)
	if len(events) > 0 {
		s.exporter.Enqueue(events...)
	}
}

// DwellEvents flattens analytics into warehouse rows: one page_view per page
// when pageViews is set, and one section_dwell per section.
func DwellEvents(sessionID string, details *model.SessionDetails, pages model.Analytics, at time.Time, pageViews bool) []model.DwellEvent {
	device := ""
	if details != nil {
		device = string(details.DeviceType)
	}

	return lo.FlatMap(pages, func(page model.PageVisit, _ int) []model.DwellEvent {
		events := make([]model.DwellEvent, 0, len(page.PageSections)+1)
		if pageViews {
			events = append(events, model.DwellEvent{
				EventID:      uuid.NewString(),
				SessionID:    sessionID,
				EventType:    model.DwellEventPageView,
				PageName:     page.PageName,
				PreviousPage: lo.FromPtr(page.PreviousPage),
				DeviceType:   device,
				RecordedAt:   at,
			})
		}
		for _, section := range page.PageSections {
			events = append(events, model.DwellEvent{
				EventID:         uuid.NewString(),
				SessionID:       sessionID,
				EventType:       model.DwellEventSectionDwell,
				PageName:        page.PageName,
				SectionName:     section.Name,
				PreviousSection: lo.FromPtr(section.PreviousSection),
				DurationSeconds: section.Duration,
				DeviceType:      device,
				RecordedAt:      at,
			})
		}
		return events
	})
}
