package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/sandbox"
)

func TestCreateSandboxExec_NoRunnerConfigured(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/sandbox/execs", sandbox.Request{
		ProjectID: "proj-1",
		Exec:      sandbox.Exec{Kind: sandbox.KindShell, Command: "echo hi"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListAndGetSandboxExecs(t *testing.T) {
	s, db := newTestServer(t)
	st := sandbox.NewStore(db)
	require.NoError(t, st.Insert(context.Background(), &sandbox.Record{
		ExecID: "exec-1", ProjectID: "proj-1", TaskID: "task-1",
		Image: "lonelycat-shell:latest", Cmd: "echo hi", Cwd: "/workspace",
		Status: sandbox.StatusRunning, StartedAt: time.Now().UTC(), ArtifactsPath: t.TempDir(),
	}))

	rec := doRequest(t, s, http.MethodGet, "/sandbox/execs?task_id=task-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Execs []sandbox.Record `json:"execs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Execs, 1)
	assert.Equal(t, "exec-1", listResp.Execs[0].ExecID)

	rec = doRequest(t, s, http.MethodGet, "/sandbox/execs/exec-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/sandbox/execs?task_id=", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSandboxHealth_NoRunnerConfigured(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/sandbox/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
