package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/store"
)

func TestListAndGetExecutions(t *testing.T) {
	s, db := newTestServer(t)
	execStore := store.NewExecutionStore(db)
	require.NoError(t, execStore.RecordExecutionStart(context.Background(), &store.ExecutionRecord{
		ExecutionID: "exec-1", PlanID: "plan-1", ChangesetID: "cs-1", DecisionID: "dec-1",
		Checksum: "chk", Verdict: "ALLOW", RiskLevel: "low", StartedAt: time.Now().UTC(),
	}))

	rec := doRequest(t, s, http.MethodGet, "/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Executions []store.ExecutionRecord `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Executions, 1)

	rec = doRequest(t, s, http.MethodGet, "/executions/exec-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/executions/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/executions/exec-1/lineage", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetExecution_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/executions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
