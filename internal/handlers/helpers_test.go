package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/termgate/internal/auth"
	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/secrets"
	"github.com/gluk-w/termgate/internal/ticket"
)

// setupTestDB creates a fresh in-memory SQLite database for each test.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.DB = db
	if err := db.AutoMigrate(&database.Host{}, &database.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

// setupServices wires fresh package-level collaborators for a test.
func setupServices(t *testing.T) {
	t.Helper()
	setupTestDB(t)

	key := make([]byte, 32)
	rand.Read(key)
	svc, err := secrets.NewService(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("secrets service: %v", err)
	}
	Secrets = svc
	Tickets = ticket.NewStore(time.Minute)
	SessionStore = auth.NewSessionStore()
}

// authedRequest attaches a verified user and a chi URL parameter to req.
func authedRequest(req *http.Request, username string, params map[string]string) *http.Request {
	req = middleware.WithUser(req, &database.User{ID: 1, Username: username, Role: "user"})
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	return req
}
