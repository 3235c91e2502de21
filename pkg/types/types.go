package types

import (
	"time"
)

// Process is a runnable automation definition: what to fetch, what it needs
// to run, and which credentials it may use.
type Process struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Requirements is a comma or whitespace separated capability expression,
	// e.g. "python linux" or "dotnet,chrome".
	Requirements string `json:"requirements"`

	TargetType   TargetType `json:"target_type,omitempty"`
	TargetSource string     `json:"target_source,omitempty"`

	// Credential references are opaque to the scheduling core.
	TargetCredentialID string `json:"target_credential_id,omitempty"`
	CredentialID       string `json:"credential_id,omitempty"`

	WorkqueueID string `json:"workqueue_id,omitempty"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetType defines where a process payload comes from.
type TargetType string

const (
	TargetTypePython TargetType = "python"
	TargetTypeGit    TargetType = "git"
	TargetTypeBlob   TargetType = "blob"
)

// Resource is a worker machine that has enrolled with the control plane.
type Resource struct {
	ID   string `json:"id"`
	FQDN string `json:"fqdn"`
	Name string `json:"name"`

	// Capabilities is a comma or whitespace separated token set matched
	// against process requirements.
	Capabilities string `json:"capabilities"`

	Available bool      `json:"available"`
	LastSeen  time.Time `json:"last_seen"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one execution of a process on a resource.
type Session struct {
	ID        string `json:"id"`
	ProcessID string `json:"process_id"`

	// ResourceID is empty until the dispatcher pairs the session with a
	// resource. An empty ResourceID always coincides with a nil
	// DispatchedAt and status new.
	ResourceID   string     `json:"resource_id,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	Status SessionStatus `json:"status"`

	// Parameters is an opaque string forwarded from the trigger that
	// created the session.
	Parameters string `json:"parameters,omitempty"`

	// StopRequested is opaque to the core; workers honor it out of band.
	StopRequested bool `json:"stop_requested"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStatus represents the session state machine.
type SessionStatus string

const (
	SessionStatusNew        SessionStatus = "new"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// CanTransitionTo reports whether a worker-initiated status update from s to
// next is allowed. The only legal moves are new → in_progress and
// in_progress → completed/failed.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusNew:
		return next == SessionStatusInProgress
	case SessionStatusInProgress:
		return next == SessionStatusCompleted || next == SessionStatusFailed
	default:
		return false
	}
}

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Workqueue is a named FIFO container of work items.
type Workqueue struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkItem is a single unit of input pulled by a session.
type WorkItem struct {
	ID          string `json:"id"`
	WorkqueueID string `json:"workqueue_id"`

	// Data is the structured payload handed to the worker.
	Data string `json:"data"`

	// Reference is an opaque user-supplied correlation string.
	Reference string `json:"reference,omitempty"`

	Locked  bool           `json:"locked"`
	Status  WorkItemStatus `json:"status"`
	Message string         `json:"message,omitempty"`

	// StartedAt is stamped on every transition into in_progress.
	// WorkDurationSeconds is computed when the item leaves in_progress.
	StartedAt           *time.Time `json:"started_at,omitempty"`
	WorkDurationSeconds *int64     `json:"work_duration_seconds,omitempty"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkItemStatus represents the work-item state machine.
type WorkItemStatus string

const (
	WorkItemStatusNew               WorkItemStatus = "new"
	WorkItemStatusInProgress        WorkItemStatus = "in_progress"
	WorkItemStatusCompleted         WorkItemStatus = "completed"
	WorkItemStatusFailed            WorkItemStatus = "failed"
	WorkItemStatusPendingUserAction WorkItemStatus = "pending_user_action"
)

// ClearsLock reports whether a status update to s releases the claim lock.
// Everything except in_progress runs unlocked.
func (s WorkItemStatus) ClearsLock() bool {
	return s != WorkItemStatusInProgress
}

// Trigger is a scheduling rule that creates sessions for a process.
type Trigger struct {
	ID        string      `json:"id"`
	ProcessID string      `json:"process_id"`
	Type      TriggerType `json:"type"`

	// Cron is set for cron triggers only.
	Cron string `json:"cron,omitempty"`

	// Date is set for one-shot date triggers only.
	Date *time.Time `json:"date,omitempty"`

	// Workqueue fields are set for workqueue triggers only.
	WorkqueueID               string `json:"workqueue_id,omitempty"`
	WorkqueueScaleUpThreshold int    `json:"workqueue_scale_up_threshold,omitempty"`
	WorkqueueResourceLimit    int    `json:"workqueue_resource_limit,omitempty"`

	// Parameters is forwarded verbatim to sessions created by this trigger.
	Parameters string `json:"parameters,omitempty"`

	Enabled       bool       `json:"enabled"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerType defines how a trigger decides to fire.
type TriggerType string

const (
	TriggerTypeCron      TriggerType = "cron"
	TriggerTypeDate      TriggerType = "date"
	TriggerTypeWorkqueue TriggerType = "workqueue"
)

// AuditLog is an append-only structured event pushed by workers and the
// control plane itself. Entries are never modified or deleted.
type AuditLog struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id,omitempty"`
	WorkItemID string `json:"workitem_id,omitempty"`

	Message    string `json:"message"`
	Level      string `json:"level"`
	LoggerName string `json:"logger_name,omitempty"`
	Module     string `json:"module,omitempty"`
	FuncName   string `json:"function_name,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`

	ExceptionType      string `json:"exception_type,omitempty"`
	ExceptionMessage   string `json:"exception_message,omitempty"`
	ExceptionTraceback string `json:"exception_traceback,omitempty"`

	StructuredData map[string]string `json:"structured_data,omitempty"`

	EventTimestamp time.Time `json:"event_timestamp"`
	CreatedAt      time.Time `json:"created_at"`
}

// Credential is a named secret bundle. Data and Password are stored
// AES-256-GCM encrypted.
type Credential struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Data     []byte `json:"data,omitempty"`
	Username string `json:"username,omitempty"`
	Password []byte `json:"password,omitempty"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccessToken is a bearer credential for the HTTP surface. The core treats
// caller identity as opaque; tokens only gate the door.
type AccessToken struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Secret     string `json:"-"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the token is past its expiry, if it has one.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
