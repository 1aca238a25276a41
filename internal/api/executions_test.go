package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ari-apc-lab/croupier-backend/internal/database"
	"github.com/ari-apc-lab/croupier-backend/internal/models"
	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
	"github.com/ari-apc-lab/croupier-backend/internal/reconciler"
	"github.com/ari-apc-lab/croupier-backend/internal/store"
)

type stubAdapter struct {
	summaries map[string]*orchestrator.ExecutionSummary
	plans     map[string][]string
	events    map[string][]orchestrator.RawEvent
	fail      map[string]error
}

func (f *stubAdapter) ExecutionSummary(_ context.Context, id string) (*orchestrator.ExecutionSummary, error) {
	if err, ok := f.fail[id]; ok {
		return nil, err
	}
	s, ok := f.summaries[id]
	if !ok {
		return nil, &orchestrator.ClientError{StatusCode: 404, ErrorCode: "not_found_error", Message: id}
	}
	return s, nil
}

func (f *stubAdapter) JobPlan(_ context.Context, blueprintID string) ([]string, error) {
	return f.plans[blueprintID], nil
}

func (f *stubAdapter) AllEvents(_ context.Context, id string) ([]orchestrator.RawEvent, error) {
	return f.events[id], nil
}

// asUser stands in for the auth middleware in tests.
func asUser(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user", name)
		c.Set("access_token", "test-token")
		c.Next()
	}
}

func testServer(t *testing.T, adapter *stubAdapter, user string) (*Server, *gorm.DB, *store.ExecutionStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	execs := store.NewExecutionStore(db)
	log := zap.NewNop().Sugar()
	srv := NewServer(Deps{
		DB:          db,
		Reconciler:  reconciler.New(execs, adapter, log),
		Executions:  execs,
		AuthHandler: asUser(user),
		Log:         log,
	})
	return srv, db, execs
}

func seedRun(t *testing.T, db *gorm.DB, execs *store.ExecutionStore, id, owner string) {
	t.Helper()
	app := models.Application{Name: "wordcount"}
	require.NoError(t, db.Create(&app).Error)
	inst := models.AppInstance{Name: "wordcount_" + owner, AppID: app.ID, Owner: owner}
	require.NoError(t, db.Create(&inst).Error)
	require.NoError(t, execs.Create(&models.Execution{
		ID: id, InstanceID: inst.ID, Owner: owner,
		Created: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}))
}

func doJSON(t *testing.T, srv *Server, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(method, target, nil))

	var body map[string]interface{}
	if w.Body.Len() > 0 && json.Valid(w.Body.Bytes()) {
		json.Unmarshal(w.Body.Bytes(), &body)
	}
	return w, body
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _, _ := testServer(t, &stubAdapter{}, "alice")
	w, body := doJSON(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestGetExecutionReconcilesBeforeReturning(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &stubAdapter{
		summaries: map[string]*orchestrator.ExecutionSummary{
			"exec-1": {ID: "exec-1", Status: "started", BlueprintID: "wordcount", CreatedAt: start},
		},
		plans: map[string][]string{"wordcount": {"job1"}},
		events: map[string][]orchestrator.RawEvent{
			"exec-1": {
				{NodeName: "job1", EventType: orchestrator.EventSendingTask, Operation: "x.lifecycle.queue"},
				{NodeName: "job1", EventType: orchestrator.EventTaskSucceeded, Operation: "x.lifecycle.queue"},
			},
		},
	}
	srv, db, execs := testServer(t, adapter, "alice")
	seedRun(t, db, execs, "exec-1", "alice")

	w, body := doJSON(t, srv, http.MethodGet, "/api/executions/exec-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusStarted, body["status"])
	assert.Equal(t, 8.0, body["progress"])
	assert.Equal(t, "job1", body["current_task"])
	assert.Equal(t, "Executing task", body["current_operation"])
	assert.NotContains(t, body, "reconcile_error")
}

func TestGetExecutionUnknownRecord(t *testing.T) {
	srv, _, _ := testServer(t, &stubAdapter{}, "alice")
	w, _ := doJSON(t, srv, http.MethodGet, "/api/executions/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetExecutionGoneFromOrchestrator(t *testing.T) {
	srv, db, execs := testServer(t, &stubAdapter{}, "alice")
	seedRun(t, db, execs, "exec-1", "alice")

	w, _ := doJSON(t, srv, http.MethodGet, "/api/executions/exec-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetExecutionDegradesToStoredState(t *testing.T) {
	adapter := &stubAdapter{
		fail: map[string]error{
			"exec-1": &orchestrator.ClientError{StatusCode: 502, Message: "orchestrator down"},
		},
	}
	srv, db, execs := testServer(t, adapter, "alice")
	seedRun(t, db, execs, "exec-1", "alice")

	w, body := doJSON(t, srv, http.MethodGet, "/api/executions/exec-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusPending, body["status"], "stored state is served when polling fails")
	assert.Contains(t, body["reconcile_error"], "orchestrator down")
}

func TestGetExecutionForeignOwner(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &stubAdapter{
		summaries: map[string]*orchestrator.ExecutionSummary{
			"exec-1": {ID: "exec-1", Status: "started", BlueprintID: "wordcount", CreatedAt: start},
		},
		plans:  map[string][]string{"wordcount": {"job1"}},
		events: map[string][]orchestrator.RawEvent{},
	}
	srv, db, execs := testServer(t, adapter, "mallory")
	seedRun(t, db, execs, "exec-1", "alice")

	w, _ := doJSON(t, srv, http.MethodGet, "/api/executions/exec-1")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListExecutionsFiltersAndRefreshes(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := &stubAdapter{
		summaries: map[string]*orchestrator.ExecutionSummary{
			"exec-1": {ID: "exec-1", Status: "started", BlueprintID: "wordcount", CreatedAt: start},
		},
		plans:  map[string][]string{"wordcount": {"job1"}},
		events: map[string][]orchestrator.RawEvent{},
	}
	srv, db, execs := testServer(t, adapter, "alice")
	seedRun(t, db, execs, "exec-1", "alice")

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/executions?status=STARTED", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "exec-1", list[0]["id"])
	assert.Equal(t, models.StatusStarted, list[0]["status"], "listing refreshes unsettled records first")
}

func TestListExecutionsRejectsBadTimestamp(t *testing.T) {
	srv, _, _ := testServer(t, &stubAdapter{}, "alice")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/executions?created_after=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMutatingCatalogRoutesAreForbidden(t *testing.T) {
	srv, _, _ := testServer(t, &stubAdapter{}, "alice")
	for _, route := range []struct{ method, path string }{
		{http.MethodPut, "/api/applications/wordcount"},
		{http.MethodPatch, "/api/applications/wordcount"},
		{http.MethodPut, "/api/instances/wordcount_alice"},
		{http.MethodPatch, "/api/instances/wordcount_alice"},
	} {
		w, _ := doJSON(t, srv, route.method, route.path)
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s", route.method, route.path)
	}
}
