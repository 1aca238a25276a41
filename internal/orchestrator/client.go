package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	apiVersion = "v3.1"

	// waitForExecutionSleepInterval is the fixed backoff while the
	// deployment environment is still being prepared.
	waitForExecutionSleepInterval = 5 * time.Second

	// maxEnvironmentRetries caps the environment-creation wait at roughly
	// one minute before ErrEnvironmentTimeout is returned.
	maxEnvironmentRetries = 12

	eventsPageSize = 100
)

// Config carries the connection settings for one orchestrator tenant.
type Config struct {
	Host     string
	Username string
	Password string
	Tenant   string
	Timeout  time.Duration
}

// Client is a stateless adapter over the orchestrator REST API. All methods
// perform exactly one logical remote operation and report failures as typed
// errors; nothing panics past this boundary.
type Client struct {
	cfg  Config
	http *http.Client
	base string
	log  *zap.SugaredLogger

	// sleep is swapped out in tests to avoid real 5s backoffs.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds an adapter from explicit configuration. The host may be a
// bare hostname (https is assumed) or a full URL, which the tests use.
func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	base := cfg.Host
	if u, err := url.Parse(base); err != nil || u.Scheme == "" {
		base = "https://" + base
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		base:  base + "/api/" + apiVersion,
		log:   log,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ListBlueprints returns all blueprints visible to the configured tenant.
func (c *Client) ListBlueprints(ctx context.Context) ([]BlueprintInfo, error) {
	var resp listResponse[wireBlueprint]
	if err := c.do(ctx, http.MethodGet, "/blueprints", nil, nil, &resp); err != nil {
		return nil, err
	}
	infos := make([]BlueprintInfo, 0, len(resp.Items))
	for _, b := range resp.Items {
		infos = append(infos, b.toInfo())
	}
	return infos, nil
}

// UploadBlueprint publishes a blueprint archive under the given id.
func (c *Client) UploadBlueprint(ctx context.Context, blueprintID, archivePath, mainFileName string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open blueprint archive: %w", err)
	}
	defer f.Close()

	query := url.Values{}
	if mainFileName != "" {
		query.Set("application_file_name", mainFileName)
	}
	return c.doRaw(ctx, http.MethodPut, "/blueprints/"+blueprintID, query, f, "application/octet-stream", nil)
}

// DeleteBlueprint removes a blueprint from the orchestrator.
func (c *Client) DeleteBlueprint(ctx context.Context, blueprintID string) error {
	return c.do(ctx, http.MethodDelete, "/blueprints/"+blueprintID, nil, nil, nil)
}

// BlueprintInputs lists the inputs declared in a blueprint's plan.
func (c *Client) BlueprintInputs(ctx context.Context, blueprintID string) ([]InputSpec, error) {
	bp, err := c.getBlueprint(ctx, blueprintID)
	if err != nil {
		return nil, err
	}
	specs := make([]InputSpec, 0, len(bp.Plan.Inputs))
	for name, in := range bp.Plan.Inputs {
		specs = append(specs, InputSpec{
			Name:        name,
			Type:        stringOr(in.Type, "-"),
			Default:     stringOr(asString(in.Default), "-"),
			Description: stringOr(in.Description, "-"),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// JobPlan returns the job-type node names declared in a blueprint's plan,
// excluding infrastructure-interface nodes. The result is the denominator of
// the progress computation.
func (c *Client) JobPlan(ctx context.Context, blueprintID string) ([]string, error) {
	bp, err := c.getBlueprint(ctx, blueprintID)
	if err != nil {
		return nil, err
	}
	var jobs []string
	for _, node := range bp.Plan.Nodes {
		if node.isJob() {
			jobs = append(jobs, node.Name)
		}
	}
	sort.Strings(jobs)
	return jobs, nil
}

// ListDeployments returns all deployments visible to the configured tenant.
func (c *Client) ListDeployments(ctx context.Context) ([]DeploymentInfo, error) {
	var resp listResponse[wireDeployment]
	if err := c.do(ctx, http.MethodGet, "/deployments", nil, nil, &resp); err != nil {
		return nil, err
	}
	infos := make([]DeploymentInfo, 0, len(resp.Items))
	for _, d := range resp.Items {
		infos = append(infos, d.toInfo())
	}
	return infos, nil
}

// CreateDeployment instantiates a blueprint under the given deployment id.
func (c *Client) CreateDeployment(ctx context.Context, deploymentID, blueprintID string, inputs map[string]interface{}) (*DeploymentInfo, error) {
	body := map[string]interface{}{
		"blueprint_id":            blueprintID,
		"inputs":                  inputs,
		"skip_plugins_validation": true,
	}
	var d wireDeployment
	if err := c.do(ctx, http.MethodPut, "/deployments/"+deploymentID, nil, body, &d); err != nil {
		return nil, err
	}
	info := d.toInfo()
	return &info, nil
}

// DeploymentInputs lists the concrete input values of a deployment.
func (c *Client) DeploymentInputs(ctx context.Context, deploymentID string) ([]DeploymentInput, error) {
	var d wireDeployment
	if err := c.do(ctx, http.MethodGet, "/deployments/"+deploymentID, nil, nil, &d); err != nil {
		return nil, err
	}
	inputs := make([]DeploymentInput, 0, len(d.Inputs))
	for name, value := range d.Inputs {
		inputs = append(inputs, DeploymentInput{Name: name, Value: asString(value)})
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	return inputs, nil
}

// DeleteDeployment removes a deployment; force ignores live nodes.
func (c *Client) DeleteDeployment(ctx context.Context, deploymentID string, force bool) error {
	query := url.Values{}
	if force {
		query.Set("ignore_live_nodes", "true")
	}
	return c.doRaw(ctx, http.MethodDelete, "/deployments/"+deploymentID, query, nil, "", nil)
}

// StartWorkflow launches a named workflow against a deployment. While the
// orchestrator reports the deployment environment as still being prepared it
// waits a fixed 5 seconds and retries, up to maxEnvironmentRetries attempts.
func (c *Client) StartWorkflow(ctx context.Context, deploymentID, workflow string, params map[string]interface{}, force bool) (*ExecutionHandle, error) {
	body := map[string]interface{}{
		"deployment_id": deploymentID,
		"workflow_id":   workflow,
		"parameters":    params,
		"force":         force,
	}

	for attempt := 0; attempt < maxEnvironmentRetries; attempt++ {
		var h wireExecution
		err := c.do(ctx, http.MethodPost, "/executions", nil, body, &h)
		if err == nil {
			return &ExecutionHandle{
				ID:           h.ID,
				WorkflowID:   h.WorkflowID,
				DeploymentID: h.DeploymentID,
				Status:       h.Status,
			}, nil
		}
		if !isCreationPending(err) {
			return nil, err
		}
		c.log.Warnw("deployment environment not ready, retrying",
			"deployment", deploymentID, "workflow", workflow, "attempt", attempt+1)
		if err := c.sleep(ctx, waitForExecutionSleepInterval); err != nil {
			return nil, err
		}
	}
	return nil, ErrEnvironmentTimeout
}

// ExecutionStatus reports the status and workflow of an execution. An absent
// execution id means the deployment never ran a workflow; it is reported as
// terminated without contacting the orchestrator.
func (c *Client) ExecutionStatus(ctx context.Context, executionID string) (status, workflowID string, err error) {
	if executionID == "" {
		return "terminated", "", nil
	}
	var e wireExecution
	if err := c.do(ctx, http.MethodGet, "/executions/"+executionID, nil, nil, &e); err != nil {
		return "", "", err
	}
	return e.Status, e.WorkflowID, nil
}

// ExecutionSummary fetches the orchestrator's view of one execution.
func (c *Client) ExecutionSummary(ctx context.Context, executionID string) (*ExecutionSummary, error) {
	var e wireExecution
	if err := c.do(ctx, http.MethodGet, "/executions/"+executionID, nil, nil, &e); err != nil {
		return nil, err
	}
	summary := &ExecutionSummary{
		ID:           e.ID,
		Status:       e.Status,
		WorkflowID:   e.WorkflowID,
		BlueprintID:  e.BlueprintID,
		DeploymentID: e.DeploymentID,
		Error:        e.Error,
	}
	if t, ok := parseTime(e.CreatedAt); ok {
		summary.CreatedAt = t
	}
	if t, ok := parseTime(e.EndedAt); ok {
		summary.EndedAt = &t
	}
	return summary, nil
}

// RawEvents fetches one page of the execution's event log along with the
// total event count.
func (c *Client) RawEvents(ctx context.Context, executionID string, offset, pageSize int) ([]RawEvent, int, error) {
	query := url.Values{}
	query.Set("execution_id", executionID)
	query.Set("_offset", strconv.Itoa(offset))
	query.Set("_size", strconv.Itoa(pageSize))
	query.Set("include_logs", "true")

	var resp listResponse[wireEvent]
	if err := c.do(ctx, http.MethodGet, "/events", query, nil, &resp); err != nil {
		return nil, 0, err
	}
	events := make([]RawEvent, 0, len(resp.Items))
	for _, e := range resp.Items {
		events = append(events, e.toRawEvent(executionID))
	}
	return events, resp.Metadata.Pagination.Total, nil
}

// AllEvents drains the paginated event log and returns it sorted by
// timestamp ascending, the only order the classifier is defined over.
func (c *Client) AllEvents(ctx context.Context, executionID string) ([]RawEvent, error) {
	var all []RawEvent
	for offset := 0; ; {
		page, total, err := c.RawEvents(ctx, executionID, offset, eventsPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		offset += len(page)
		if offset >= total || len(page) == 0 {
			break
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// wire-level payloads

type listResponse[T any] struct {
	Items    []T `json:"items"`
	Metadata struct {
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	} `json:"metadata"`
}

type wireBlueprint struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	MainFileName string `json:"main_file_name"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	Plan         struct {
		Inputs map[string]struct {
			Type        string      `json:"type"`
			Default     interface{} `json:"default"`
			Description string      `json:"description"`
		} `json:"inputs"`
		Nodes []wireNode `json:"nodes"`
	} `json:"plan"`
}

func (b wireBlueprint) toInfo() BlueprintInfo {
	info := BlueprintInfo{
		ID:           b.ID,
		Description:  b.Description,
		MainFileName: b.MainFileName,
		CreatedBy:    b.CreatedBy,
	}
	if t, ok := parseTime(b.CreatedAt); ok {
		info.CreatedAt = t
	}
	if t, ok := parseTime(b.UpdatedAt); ok {
		info.UpdatedAt = t
	}
	return info
}

type wireNode struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	TypeHierarchy []string `json:"type_hierarchy"`
}

func (n wireNode) isJob() bool {
	job := false
	for _, t := range n.TypeHierarchy {
		switch t {
		case "croupier.nodes.Job":
			job = true
		case "croupier.nodes.InfrastructureInterface":
			return false
		}
	}
	return job
}

type wireDeployment struct {
	ID          string                 `json:"id"`
	BlueprintID string                 `json:"blueprint_id"`
	Description string                 `json:"description"`
	CreatedBy   string                 `json:"created_by"`
	CreatedAt   string                 `json:"created_at"`
	UpdatedAt   string                 `json:"updated_at"`
	Inputs      map[string]interface{} `json:"inputs"`
}

func (d wireDeployment) toInfo() DeploymentInfo {
	info := DeploymentInfo{
		ID:          d.ID,
		BlueprintID: d.BlueprintID,
		Description: d.Description,
		CreatedBy:   d.CreatedBy,
	}
	if t, ok := parseTime(d.CreatedAt); ok {
		info.CreatedAt = t
	}
	if t, ok := parseTime(d.UpdatedAt); ok {
		info.UpdatedAt = t
	}
	return info
}

type wireExecution struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	WorkflowID   string `json:"workflow_id"`
	BlueprintID  string `json:"blueprint_id"`
	DeploymentID string `json:"deployment_id"`
	Error        string `json:"error"`
	CreatedAt    string `json:"created_at"`
	EndedAt      string `json:"ended_at"`
}

type wireEvent struct {
	NodeInstanceID string `json:"node_instance_id"`
	NodeName       string `json:"node_name"`
	EventType      string `json:"event_type"`
	Operation      string `json:"operation"`
	Timestamp      string `json:"reported_timestamp"`
}

func (e wireEvent) toRawEvent(executionID string) RawEvent {
	ev := RawEvent{
		ExecutionID:    executionID,
		NodeInstanceID: e.NodeInstanceID,
		NodeName:       e.NodeName,
		EventType:      e.EventType,
		Operation:      e.Operation,
	}
	if t, ok := parseTime(e.Timestamp); ok {
		ev.Timestamp = t
	}
	return ev
}

func (c *Client) getBlueprint(ctx context.Context, blueprintID string) (*wireBlueprint, error) {
	var bp wireBlueprint
	if err := c.do(ctx, http.MethodGet, "/blueprints/"+blueprintID, nil, nil, &bp); err != nil {
		return nil, err
	}
	return &bp, nil
}

// do issues one JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.doRaw(ctx, method, path, query, reader, "application/json", out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out interface{}) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &ClientError{Message: err.Error()}
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Tenant", c.cfg.Tenant)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ClientError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ClientError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		ce := &ClientError{StatusCode: resp.StatusCode, Message: string(data)}
		var envelope struct {
			Message   string `json:"message"`
			ErrorCode string `json:"error_code"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.ErrorCode != "" {
			ce.ErrorCode = envelope.ErrorCode
			ce.Message = envelope.Message
		}
		return ce
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ClientError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// parseTime accepts the timestamp layouts the orchestrator is known to emit.
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
