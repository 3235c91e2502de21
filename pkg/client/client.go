// Package client wraps the drover HTTP API for CLI and programmatic usage.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/droverd/drover/pkg/queue"
	"github.com/droverd/drover/pkg/types"
)

// Client talks to a drover server over HTTP with bearer authentication.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. The token may be
// empty when the server runs in bootstrap mode.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ErrNoContent is returned by claim and poll calls when the server answered
// 204: nothing to hand out right now.
var ErrNoContent = fmt.Errorf("no content")

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// do issues a JSON request and decodes the response into out when out is
// non-nil. A 204 response surfaces as ErrNoContent so callers can tell an
// empty hand-off from a real failure.
func (c *Client) do(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return ErrNoContent
	}
	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = string(raw)
		}
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// EnrollRequest registers or refreshes a worker machine.
type EnrollRequest struct {
	FQDN         string `json:"fqdn"`
	Name         string `json:"name"`
	Capabilities string `json:"capabilities"`
}

func (c *Client) EnrollResource(req EnrollRequest) (*types.Resource, error) {
	var r types.Resource
	if err := c.do(http.MethodPost, "/api/v1/resources", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListResources() ([]*types.Resource, error) {
	var out []*types.Resource
	if err := c.do(http.MethodGet, "/api/v1/resources", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetResource(id string) (*types.Resource, error) {
	var r types.Resource
	if err := c.do(http.MethodGet, "/api/v1/resources/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) PingResource(id string) error {
	return c.do(http.MethodPut, "/api/v1/resources/"+url.PathEscape(id)+"/ping", nil, nil)
}

func (c *Client) DetachResource(id string) error {
	err := c.do(http.MethodDelete, "/api/v1/resources/"+url.PathEscape(id), nil, nil)
	if err == ErrNoContent {
		return nil
	}
	return err
}

func (c *Client) CreateProcess(p *types.Process) (*types.Process, error) {
	var out types.Process
	if err := c.do(http.MethodPost, "/api/v1/processes", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProcesses() ([]*types.Process, error) {
	var out []*types.Process
	if err := c.do(http.MethodGet, "/api/v1/processes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetProcess(id string) (*types.Process, error) {
	var out types.Process
	if err := c.do(http.MethodGet, "/api/v1/processes/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProcess(p *types.Process) (*types.Process, error) {
	var out types.Process
	if err := c.do(http.MethodPut, "/api/v1/processes/"+url.PathEscape(p.ID), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProcess(id string) error {
	err := c.do(http.MethodDelete, "/api/v1/processes/"+url.PathEscape(id), nil, nil)
	if err == ErrNoContent {
		return nil
	}
	return err
}

func (c *Client) CreateTrigger(trg *types.Trigger) (*types.Trigger, error) {
	var out types.Trigger
	if err := c.do(http.MethodPost, "/api/v1/triggers", trg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTriggers(processID string) ([]*types.Trigger, error) {
	path := "/api/v1/triggers"
	if processID != "" {
		path += "?process_id=" + url.QueryEscape(processID)
	}
	var out []*types.Trigger
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteTrigger(id string) error {
	err := c.do(http.MethodDelete, "/api/v1/triggers/"+url.PathEscape(id), nil, nil)
	if err == ErrNoContent {
		return nil
	}
	return err
}

// CreateSessionRequest starts a run of a process. Force bypasses the
// duplicate-session guard.
type CreateSessionRequest struct {
	ProcessID  string `json:"process_id"`
	Parameters string `json:"parameters"`
	Force      bool   `json:"force"`
}

// CreateSession queues a run. ErrNoContent means a pending session already
// covers the process and nothing new was created.
func (c *Client) CreateSession(req CreateSessionRequest) (*types.Session, error) {
	var out types.Session
	if err := c.do(http.MethodPost, "/api/v1/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions() ([]*types.Session, error) {
	var out []*types.Session
	if err := c.do(http.MethodGet, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSession(id string) (*types.Session, error) {
	var out types.Session
	if err := c.do(http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionByResource is the worker poll: the next session assigned to the
// resource, or ErrNoContent when there is none.
func (c *Client) SessionByResource(resourceID string) (*types.Session, error) {
	var out types.Session
	if err := c.do(http.MethodGet, "/api/v1/sessions/by_resource_id/"+url.PathEscape(resourceID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSessionStatus(id string, status types.SessionStatus) (*types.Session, error) {
	var out types.Session
	body := map[string]types.SessionStatus{"status": status}
	if err := c.do(http.MethodPut, "/api/v1/sessions/"+url.PathEscape(id)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StopSession(id string) error {
	return c.do(http.MethodPut, "/api/v1/sessions/"+url.PathEscape(id)+"/stop", nil, nil)
}

func (c *Client) CreateWorkqueue(q *types.Workqueue) (*types.Workqueue, error) {
	var out types.Workqueue
	if err := c.do(http.MethodPost, "/api/v1/workqueues", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListWorkqueues() ([]*types.Workqueue, error) {
	var out []*types.Workqueue
	if err := c.do(http.MethodGet, "/api/v1/workqueues", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteWorkqueue(id string) error {
	err := c.do(http.MethodDelete, "/api/v1/workqueues/"+url.PathEscape(id), nil, nil)
	if err == ErrNoContent {
		return nil
	}
	return err
}

func (c *Client) AddWorkItem(queueID, data, reference string) (*types.WorkItem, error) {
	var out types.WorkItem
	body := map[string]string{"data": data, "reference": reference}
	if err := c.do(http.MethodPost, "/api/v1/workqueues/"+url.PathEscape(queueID)+"/add", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClaimNextItem pulls the oldest pending item off a queue, or ErrNoContent
// when the queue is drained or disabled.
func (c *Client) ClaimNextItem(queueID string) (*types.WorkItem, error) {
	var out types.WorkItem
	if err := c.do(http.MethodGet, "/api/v1/workqueues/"+url.PathEscape(queueID)+"/next_item", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateWorkItemStatus(id string, status types.WorkItemStatus, message string) (*types.WorkItem, error) {
	var out types.WorkItem
	body := map[string]interface{}{"status": status, "message": message}
	if err := c.do(http.MethodPut, "/api/v1/workitems/"+url.PathEscape(id)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WorkqueueInfo(queueID string) (*queue.Info, error) {
	var out queue.Info
	if err := c.do(http.MethodGet, "/api/v1/workqueues/"+url.PathEscape(queueID)+"/information", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClearWorkItems(queueID string, status *types.WorkItemStatus, olderThan *time.Time) (int, error) {
	body := map[string]interface{}{}
	if status != nil {
		body["status"] = *status
	}
	if olderThan != nil {
		body["older_than"] = olderThan.UTC()
	}
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(http.MethodPost, "/api/v1/workqueues/"+url.PathEscape(queueID)+"/clear", body, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) AppendAuditLog(entry *types.AuditLog) error {
	return c.do(http.MethodPost, "/api/v1/audit-logs", entry, nil)
}

func (c *Client) SessionAuditLogs(sessionID string) ([]*types.AuditLog, error) {
	var out []*types.AuditLog
	if err := c.do(http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/audit-logs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CredentialSummary is the metadata view the server exposes; ciphertext
// never travels back over the API.
type CredentialSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	HasData   bool      `json:"has_data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateCredentialRequest carries secret material to the server, which
// encrypts it at rest.
type CreateCredentialRequest struct {
	Name     string `json:"name"`
	Data     string `json:"data,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (c *Client) CreateCredential(req CreateCredentialRequest) (*CredentialSummary, error) {
	var out CredentialSummary
	if err := c.do(http.MethodPost, "/api/v1/credentials", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCredentials() ([]*CredentialSummary, error) {
	var out []*CredentialSummary
	if err := c.do(http.MethodGet, "/api/v1/credentials", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteCredential(id string) error {
	err := c.do(http.MethodDelete, "/api/v1/credentials/"+url.PathEscape(id), nil, nil)
	if err == ErrNoContent {
		return nil
	}
	return err
}

// MintedToken is the one-time response from token creation; the secret is
// not retrievable afterwards.
type MintedToken struct {
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
	Secret     string     `json:"secret"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

func (c *Client) CreateToken(identifier string, expiresAt *time.Time) (*MintedToken, error) {
	body := map[string]interface{}{"identifier": identifier}
	if expiresAt != nil {
		body["expires_at"] = expiresAt.UTC()
	}
	var out MintedToken
	if err := c.do(http.MethodPost, "/api/v1/tokens", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTokens() ([]*types.AccessToken, error) {
	var out []*types.AccessToken
	if err := c.do(http.MethodGet, "/api/v1/tokens", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteToken(id string) error {
	err := c.do(http.MethodDelete, "/api/v1/tokens/"+url.PathEscape(id), nil, nil)
	if err == ErrNoContent {
		return nil
	}
	return err
}
