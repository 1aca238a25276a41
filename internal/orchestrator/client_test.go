package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		Host:     srv.URL,
		Username: "admin",
		Password: "secret",
		Tenant:   "default_tenant",
		Timeout:  5 * time.Second,
	}, zap.NewNop().Sugar())
	return c, srv
}

func TestExecutionStatusAbsentID(t *testing.T) {
	var calls int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	status, workflowID, err := c.ExecutionStatus(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "terminated", status)
	assert.Empty(t, workflowID)
	assert.Zero(t, atomic.LoadInt32(&calls), "absent execution id must not contact the orchestrator")
}

func TestExecutionStatus(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3.1/executions/exec-1", r.URL.Path)
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "default_tenant", r.Header.Get("Tenant"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "exec-1", "status": "started", "workflow_id": "install",
		})
	}))

	status, workflowID, err := c.ExecutionStatus(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "started", status)
	assert.Equal(t, "install", workflowID)
}

func TestStartWorkflowRetriesWhileEnvironmentPending(t *testing.T) {
	var attempts int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"message":    "deployment environment creation is pending",
				"error_code": codeCreationPending,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "exec-9", "status": "pending", "workflow_id": "run_jobs", "deployment_id": "dep-1",
		})
	}))

	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	handle, err := c.StartWorkflow(context.Background(), "dep-1", "run_jobs", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "exec-9", handle.ID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	require.Len(t, slept, 2)
	for _, d := range slept {
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestStartWorkflowEnvironmentTimeout(t *testing.T) {
	var attempts int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"message":    "still preparing",
			"error_code": codeCreationInProgress,
		})
	}))
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := c.StartWorkflow(context.Background(), "dep-1", "install", nil, false)
	assert.ErrorIs(t, err, ErrEnvironmentTimeout)
	assert.EqualValues(t, maxEnvironmentRetries, atomic.LoadInt32(&attempts))
}

func TestStartWorkflowSurfacesOtherErrors(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "already running", "error_code": "existing_running_execution_error",
		})
	}))

	_, err := c.StartWorkflow(context.Background(), "dep-1", "install", nil, false)
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusConflict, ce.StatusCode)
	assert.Equal(t, "existing_running_execution_error", ce.ErrorCode)
}

func TestIsNotFound(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "no such execution", "error_code": codeNotFound,
		})
	}))

	_, err := c.ExecutionSummary(context.Background(), "gone")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(fmt.Errorf("unrelated")))
}

func TestAllEventsPaginatesAndSorts(t *testing.T) {
	// Three pages of 100, 100 and 50 events, served newest-first to prove
	// the client re-sorts by timestamp.
	const total = 250
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3.1/events", r.URL.Path)
		assert.Equal(t, "exec-1", r.URL.Query().Get("execution_id"))

		offset := 0
		fmt.Sscanf(r.URL.Query().Get("_offset"), "%d", &offset)

		items := []map[string]interface{}{}
		for i := offset; i < offset+100 && i < total; i++ {
			ts := base.Add(time.Duration(total-i) * time.Second) // reversed
			items = append(items, map[string]interface{}{
				"node_name":          fmt.Sprintf("job%d", i),
				"event_type":         "sending_task",
				"operation":          "croupier.interfaces.lifecycle.queue",
				"reported_timestamp": ts.Format(time.RFC3339),
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": items,
			"metadata": map[string]interface{}{
				"pagination": map[string]interface{}{"total": total},
			},
		})
	}))

	events, err := c.AllEvents(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, events, total)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			"events must be sorted ascending at index %d", i)
	}
}

func TestJobPlanFiltersNodes(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3.1/blueprints/bp-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "bp-1",
			"plan": map[string]interface{}{
				"nodes": []map[string]interface{}{
					{"name": "job_b", "type_hierarchy": []string{"cloudify.nodes.Root", "croupier.nodes.Job"}},
					{"name": "hpc_interface", "type_hierarchy": []string{"cloudify.nodes.Root", "croupier.nodes.InfrastructureInterface"}},
					{"name": "job_a", "type_hierarchy": []string{"cloudify.nodes.Root", "croupier.nodes.Job"}},
					{"name": "vm", "type_hierarchy": []string{"cloudify.nodes.Root", "cloudify.nodes.Compute"}},
				},
			},
		})
	}))

	plan, err := c.JobPlan(context.Background(), "bp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"job_a", "job_b"}, plan)
}

func TestListBlueprints(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{
					"id":             "wordcount",
					"description":    "Word count pipeline",
					"main_file_name": "blueprint.yaml",
					"created_by":     "admin",
					"created_at":     "2024-03-01T10:00:00.000Z",
					"updated_at":     "2024-03-02T10:00:00.000Z",
				},
			},
			"metadata": map[string]interface{}{
				"pagination": map[string]interface{}{"total": 1},
			},
		})
	}))

	blueprints, err := c.ListBlueprints(context.Background())
	require.NoError(t, err)
	require.Len(t, blueprints, 1)
	assert.Equal(t, "wordcount", blueprints[0].ID)
	assert.Equal(t, "blueprint.yaml", blueprints[0].MainFileName)
	assert.Equal(t, 2024, blueprints[0].CreatedAt.Year())
	assert.True(t, blueprints[0].UpdatedAt.After(blueprints[0].CreatedAt))
}
