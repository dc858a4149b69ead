package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/openclaw/visitor-analytics-go/internal/audit"
	"github.com/openclaw/visitor-analytics-go/internal/httputil"
	"github.com/openclaw/visitor-analytics-go/internal/middleware"
	"github.com/openclaw/visitor-analytics-go/internal/model"
	"github.com/openclaw/visitor-analytics-go/internal/service"
)

type VisitorHandler struct {
	visitorService   *service.VisitorService
	ingestMiddleware func(http.Handler) http.Handler
	adminMiddleware  func(http.Handler) http.Handler
}

// NewVisitorHandler serves the session routes. ingestMiddleware wraps the
// public browser-facing writes and adminMiddleware gates reads and deletes.
func NewVisitorHandler(
	visitorService *service.VisitorService,
	ingestMiddleware func(http.Handler) http.Handler,
	adminMiddleware func(http.Handler) http.Handler,
) *VisitorHandler {
	return &VisitorHandler{
		visitorService:   visitorService,
		ingestMiddleware: ingestMiddleware,
		adminMiddleware:  adminMiddleware,
	}
}

func (h *VisitorHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.ingestMiddleware)
		r.Post("/", h.CreateSession)
		r.Post("/events", h.Events)
		r.Post("/metadata", h.UpdateMetadata)
		r.Post("/sections", h.RecordSection)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.adminMiddleware)
		r.Get("/", h.GetSessions)
		r.Delete("/", h.DeleteAllSessions)
		r.Delete("/{id}", h.DeleteSession)
	})

	return r
}

type createSessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *VisitorHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageName    string `json:"page_name"`
		SectionName string `json:"section_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.visitorService.CreateSession(r.Context(), req.PageName, req.SectionName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: session.SessionID,
		CreatedAt: session.CreatedAt,
	})
}

// Events creates a session when the body has no session_id and appends to
// the named session otherwise.
func (h *VisitorHandler) Events(w http.ResponseWriter, r *http.Request) {
	var in service.EventsInput
	if err := decodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := service.ParseEventsRequest(in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.visitorService.HandleEvents(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result.Session)
}

func (h *VisitorHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateMetadataInput
	if err := decodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.visitorService.UpdateMetadata(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *VisitorHandler) RecordSection(w http.ResponseWriter, r *http.Request) {
	var in service.RecordSectionInput
	if err := decodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.visitorService.RecordSection(r.Context(), in); err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// sessionSummary is a listed session plus the figures the visitor table shows.
type sessionSummary struct {
	model.VisitorSession
	DetailsComplete bool `json:"enriched"`
	SectionCount    int  `json:"section_count"`
}

func summarizeSessions(sessions []model.VisitorSession) []sessionSummary {
	return lo.Map(sessions, func(s model.VisitorSession, _ int) sessionSummary {
		return sessionSummary{
			VisitorSession:  s,
			DetailsComplete: s.Enriched(),
			SectionCount:    s.Analytics.SectionCount(),
		}
	})
}

type listSessionsResponse struct {
	Results    []sessionSummary `json:"results"`
	Pagination Pagination       `json:"pagination"`
}

func (h *VisitorHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		session, err := h.visitorService.GetSession(r.Context(), sessionID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	p := ParsePagination(r)
	result, err := h.visitorService.ListSessions(r.Context(), p.Page, p.PerPage)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{
		Results: summarizeSessions(result.Sessions),
		Pagination: Pagination{
			Page:       result.Page,
			PerPage:    result.PerPage,
			Total:      result.Total,
			TotalPages: result.TotalPages(),
		},
	})
}

func (h *VisitorHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := h.visitorService.DeleteSession(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionDelete,
		TokenID:   adminTokenID(r),
		SessionID: sessionID,
	})
	writeJSON(w, http.StatusOK, session)
}

func (h *VisitorHandler) DeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	count, err := h.visitorService.DeleteAllSessions(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventSessionsPurge,
		TokenID: adminTokenID(r),
		Details: map[string]interface{}{"count": count},
	})
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
}

func adminTokenID(r *http.Request) string {
	if claims := middleware.GetAdminClaims(r.Context()); claims != nil {
		return claims.ID
	}
	return ""
}
