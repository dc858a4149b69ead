package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/visitor-analytics-go/internal/audit"
	"github.com/openclaw/visitor-analytics-go/internal/config"
	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/httputil"
	"github.com/openclaw/visitor-analytics-go/internal/middleware"
	"github.com/openclaw/visitor-analytics-go/internal/service"
)

type AdminHandler struct {
	adminService     *service.AdminService
	authMiddleware   func(http.Handler) http.Handler
	loginRateLimiter func(http.Handler) http.Handler
	streamHandler    http.Handler
}

func NewAdminHandler(
	adminService *service.AdminService,
	authMiddleware func(http.Handler) http.Handler,
	loginRateLimiter func(http.Handler) http.Handler,
	streamHandler http.Handler,
) *AdminHandler {
	return &AdminHandler{
		adminService:     adminService,
		authMiddleware:   authMiddleware,
		loginRateLimiter: loginRateLimiter,
		streamHandler:    streamHandler,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.With(h.loginRateLimiter).Post("/api/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)
			r.Post("/api/logout", h.Logout)
			r.Get("/api/stats/pages", h.PageStats)
			r.Get("/api/stats/sections", h.SectionStats)
		})
	})

	// The stream outlives the request timeout.
	r.With(h.authMiddleware).Method(http.MethodGet, "/api/stream", h.streamHandler)

	return r
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Password == "" {
		httputil.WriteError(w, apperrors.MissingRequired("password"))
		return
	}

	result, err := h.adminService.Login(r.Context(), req.Password)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeUnauthorized {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginFailure})
		}
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess})
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetAdminClaims(r.Context())
	if err := h.adminService.Logout(r.Context(), claims); err != nil {
		log.Error().Err(err).Msg("admin logout failed")
		httputil.WriteError(w, apperrors.External("redis", err))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout, TokenID: adminTokenID(r)})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) PageStats(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	stats, err := h.adminService.PageStats(r.Context(), days, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": stats})
}

func (h *AdminHandler) SectionStats(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	stats, err := h.adminService.SectionStats(r.Context(), r.URL.Query().Get("page"), days)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": stats})
}
