package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/artifact"
	"github.com/nana77mi/lonelycat/pkg/conversation"
	"github.com/nana77mi/lonelycat/pkg/memory"
	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/sandbox"
	"github.com/nana77mi/lonelycat/pkg/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))
	return db
}

func newTestServer(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	convStore := conversation.NewStore(db)
	convOrch := conversation.NewOrchestrator(convStore, conversation.Config{})
	s := NewServer(db, convOrch, convStore, runqueue.NewStore(db),
		memory.NewStore(db), &memory.AuditLogger{DB: db}, nil, sandbox.NewStore(db),
		store.NewExecutionStore(db), artifact.NewManager(t.TempDir()))
	return s, db
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(b)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
