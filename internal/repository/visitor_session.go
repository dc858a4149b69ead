package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openclaw/visitor-analytics-go/internal/database"
	"github.com/openclaw/visitor-analytics-go/internal/model"
)

// ErrSessionIDTaken is returned by Create when the session id already exists.
var ErrSessionIDTaken = errors.New("session id already taken")

const pgUniqueViolation = "23505"

type VisitorSessionRepository interface {
	Create(ctx context.Context, params model.CreateVisitorSessionParams) (*model.VisitorSession, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.VisitorSession, error)
	List(ctx context.Context, limit, offset int) ([]model.VisitorSession, error)
	Count(ctx context.Context) (int, error)
	AppendAnalytics(ctx context.Context, sessionID string, pages model.Analytics) (*model.VisitorSession, error)
	AppendSection(ctx context.Context, sessionID, pageName string, section model.SectionVisit) (*model.VisitorSession, error)
	UpdateDetails(ctx context.Context, sessionID string, details model.SessionDetails, pages model.Analytics) (*model.VisitorSession, error)
	DeleteBySessionID(ctx context.Context, sessionID string) (*model.VisitorSession, error)
	DeleteAll(ctx context.Context) (int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type visitorSessionRepo struct {
	db database.DBTX
}

func NewVisitorSessionRepository(db database.DBTX) VisitorSessionRepository {
	return &visitorSessionRepo{db: db}
}

func (r *visitorSessionRepo) Create(ctx context.Context, params model.CreateVisitorSessionParams) (*model.VisitorSession, error) {
	analytics := params.Analytics
	if analytics == nil {
		analytics = model.Analytics{}
	}

	var session model.VisitorSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO visitor_sessions (session_id, session_details, analytics)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.SessionID, params.Details, analytics)
	if isUniqueViolation(err) {
		return nil, ErrSessionIDTaken
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *visitorSessionRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.VisitorSession, error) {
	var session model.VisitorSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM visitor_sessions WHERE session_id = $1
	`, sessionID)
	return HandleNotFound(&session, err)
}

func (r *visitorSessionRepo) List(ctx context.Context, limit, offset int) ([]model.VisitorSession, error) {
	sessions := []model.VisitorSession{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM visitor_sessions
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *visitorSessionRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM visitor_sessions`)
	return count, err
}

// AppendAnalytics pushes pages onto the end of the analytics array in a
// single statement, so concurrent appends to one session never lose writes.
func (r *visitorSessionRepo) AppendAnalytics(ctx context.Context, sessionID string, pages model.Analytics) (*model.VisitorSession, error) {
	var session model.VisitorSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE visitor_sessions SET
			analytics = analytics || $2::jsonb,
			updated_at = NOW()
		WHERE session_id = $1
		RETURNING *
	`, sessionID, pages)
	return HandleNotFound(&session, err)
}

// AppendSection adds section to the most recent page visit named pageName,
// creating that page visit first when the session has none.
func (r *visitorSessionRepo) AppendSection(ctx context.Context, sessionID, pageName string, section model.SectionVisit) (*model.VisitorSession, error) {
	sectionJSON, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("encode section: %w", err)
	}

	var session model.VisitorSession
	err = r.db.GetContext(ctx, &session, `
		UPDATE visitor_sessions SET
			analytics = append_page_section(analytics, $2, $3::jsonb),
			updated_at = NOW()
		WHERE session_id = $1
		RETURNING *
	`, sessionID, pageName, string(sectionJSON))
	return HandleNotFound(&session, err)
}

func (r *visitorSessionRepo) UpdateDetails(ctx context.Context, sessionID string, details model.SessionDetails, pages model.Analytics) (*model.VisitorSession, error) {
	if pages == nil {
		pages = model.Analytics{}
	}

	var session model.VisitorSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE visitor_sessions SET
			session_details = $2,
			analytics = analytics || $3::jsonb,
			updated_at = NOW()
		WHERE session_id = $1
		RETURNING *
	`, sessionID, details, pages)
	return HandleNotFound(&session, err)
}

func (r *visitorSessionRepo) DeleteBySessionID(ctx context.Context, sessionID string) (*model.VisitorSession, error) {
	var session model.VisitorSession
	err := r.db.GetContext(ctx, &session, `
		DELETE FROM visitor_sessions WHERE session_id = $1
		RETURNING *
	`, sessionID)
	return HandleNotFound(&session, err)
}

func (r *visitorSessionRepo) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM visitor_sessions`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *visitorSessionRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM visitor_sessions WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
