package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/visitor-analytics-go/internal/database"
	"github.com/openclaw/visitor-analytics-go/internal/model"
)

func strPtr(s string) *string { return &s }

func TestVisitorSessionRepository_Create(t *testing.T) {
	repo := setupVisitorRepo(t)
	ctx := context.Background()

	t.Run("stores initial analytics", func(t *testing.T) {
		session, err := repo.Create(ctx, model.CreateVisitorSessionParams{
			SessionID: "100000001",
			Analytics: model.Analytics{{
				PageName:     "home",
				PageSections: []model.SectionVisit{{Name: "hero", Duration: 0}},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, "100000001", session.SessionID)
		assert.Nil(t, session.Details)
		require.Len(t, session.Analytics, 1)
		assert.Equal(t, "home", session.Analytics[0].PageName)
		assert.Nil(t, session.Analytics[0].PreviousPage)
		assert.Equal(t, "hero", session.Analytics[0].PageSections[0].Name)
		assert.False(t, session.CreatedAt.IsZero())
	})

	t.Run("normalizes missing sections", func(t *testing.T) {
		session, err := repo.Create(ctx, model.CreateVisitorSessionParams{
			SessionID: "100000002",
			Analytics: model.Analytics{{PageName: "about"}},
		})
		require.NoError(t, err)
		assert.NotNil(t, session.Analytics[0].PageSections)
		assert.Empty(t, session.Analytics[0].PageSections)
	})

	t.Run("reports duplicate id", func(t *testing.T) {
		_, err := repo.Create(ctx, model.CreateVisitorSessionParams{SessionID: "100000001"})
		assert.ErrorIs(t, err, ErrSessionIDTaken)
	})
}

func TestVisitorSessionRepository_AppendAnalytics(t *testing.T) {
	repo := setupVisitorRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, model.CreateVisitorSessionParams{SessionID: "200000001"})
	require.NoError(t, err)

	t.Run("preserves submission order", func(t *testing.T) {
		session, err := repo.AppendAnalytics(ctx, "200000001", model.Analytics{
			{PageName: "home"},
			{PageName: "blog", PreviousPage: strPtr("home")},
			{PageName: "home", PreviousPage: strPtr("blog")},
		})
		require.NoError(t, err)
		require.Len(t, session.Analytics, 3)
		assert.Equal(t, "home", session.Analytics[0].PageName)
		assert.Equal(t, "blog", session.Analytics[1].PageName)
		assert.Equal(t, "home", session.Analytics[2].PageName)
	})

	t.Run("returns nil for unknown session", func(t *testing.T) {
		session, err := repo.AppendAnalytics(ctx, "999999999", model.Analytics{{PageName: "home"}})
		require.NoError(t, err)
		assert.Nil(t, session)
	})

	t.Run("concurrent appends both survive", func(t *testing.T) {
		_, err := repo.Create(ctx, model.CreateVisitorSessionParams{SessionID: "200000002"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.AppendAnalytics(ctx, "200000002", model.Analytics{{PageName: fmt.Sprintf("page-%d", i)}})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		session, err := repo.FindBySessionID(ctx, "200000002")
		require.NoError(t, err)
		assert.Len(t, session.Analytics, 10)
	})
}

func TestVisitorSessionRepository_AppendSection(t *testing.T) {
	repo := setupVisitorRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, model.CreateVisitorSessionParams{
		SessionID: "300000001",
		Analytics: model.Analytics{{PageName: "home"}},
	})
	require.NoError(t, err)

	t.Run("creates missing page once", func(t *testing.T) {
		session, err := repo.AppendSection(ctx, "300000001", "portfolio", model.SectionVisit{Name: "grid", Duration: 4})
		require.NoError(t, err)
		require.Len(t, session.Analytics, 2)
		page := session.Analytics[1]
		assert.Equal(t, "portfolio", page.PageName)
		assert.Nil(t, page.PreviousPage)
		require.Len(t, page.PageSections, 1)
		assert.Equal(t, int64(4), page.PageSections[0].Duration)

		session, err = repo.AppendSection(ctx, "300000001", "portfolio", model.SectionVisit{
			Name:            "contact",
			PreviousSection: strPtr("grid"),
			Duration:        7,
		})
		require.NoError(t, err)
		require.Len(t, session.Analytics, 2)
		assert.Len(t, session.Analytics[1].PageSections, 2)
		assert.Equal(t, "grid", *session.Analytics[1].PageSections[1].PreviousSection)
	})

	t.Run("targets most recent matching page", func(t *testing.T) {
		_, err := repo.AppendAnalytics(ctx, "300000001", model.Analytics{{PageName: "home", PreviousPage: strPtr("portfolio")}})
		require.NoError(t, err)

		session, err := repo.AppendSection(ctx, "300000001", "home", model.SectionVisit{Name: "hero"})
		require.NoError(t, err)
		require.Len(t, session.Analytics, 3)
		assert.Empty(t, session.Analytics[0].PageSections)
		assert.Len(t, session.Analytics[2].PageSections, 1)
	})

	t.Run("returns nil for unknown session", func(t *testing.T) {
		session, err := repo.AppendSection(ctx, "999999999", "home", model.SectionVisit{Name: "hero"})
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestVisitorSessionRepository_UpdateDetails(t *testing.T) {
	repo := setupVisitorRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, model.CreateVisitorSessionParams{SessionID: "400000001"})
	require.NoError(t, err)

	details := model.SessionDetails{
		IPAddress:   "203.0.113.7",
		Location:    "Lisbon",
		BrowserType: "Firefox",
		DeviceType:  model.DeviceTypeMobile,
	}
	session, err := repo.UpdateDetails(ctx, "400000001", details, model.Analytics{{PageName: "careers"}})
	require.NoError(t, err)
	require.NotNil(t, session.Details)
	assert.Equal(t, details, *session.Details)
	assert.Len(t, session.Analytics, 1)
	assert.True(t, session.Enriched())
}

func TestVisitorSessionRepository_Delete(t *testing.T) {
	repo := setupVisitorRepo(t)
	ctx := context.Background()

	for _, id := range []string{"500000001", "500000002", "500000003"} {
		_, err := repo.Create(ctx, model.CreateVisitorSessionParams{SessionID: id})
		require.NoError(t, err)
	}

	deleted, err := repo.DeleteBySessionID(ctx, "500000001")
	require.NoError(t, err)
	assert.Equal(t, "500000001", deleted.SessionID)

	found, err := repo.FindBySessionID(ctx, "500000001")
	require.NoError(t, err)
	assert.Nil(t, found)

	count, err := repo.DeleteCreatedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	sessions, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestVisitorSessionRepository_InsideTransaction(t *testing.T) {
	db := setupVisitorDB(t)
	repo := NewVisitorSessionRepository(db.DB)
	ctx := context.Background()
	errAbort := errors.New("abort")

	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		txRepo := NewVisitorSessionRepository(tx)
		if _, err := txRepo.Create(ctx, model.CreateVisitorSessionParams{SessionID: "600000001"}); err != nil {
			return err
		}
		found, err := txRepo.FindBySessionID(ctx, "600000001")
		require.NoError(t, err)
		require.NotNil(t, found)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	found, err := repo.FindBySessionID(ctx, "600000001")
	require.NoError(t, err)
	assert.Nil(t, found, "rolled back insert must not be visible")
}

func setupVisitorRepo(t *testing.T) VisitorSessionRepository {
	t.Helper()
	return NewVisitorSessionRepository(setupVisitorDB(t).DB)
}

func setupVisitorDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE visitor_sessions`)
	require.NoError(t, err)

	return db
}
