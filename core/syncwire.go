package core

import "encoding/json"

// Wire types for the batch sync exchange between field agents and the API.

type SyncKind string

const (
	SyncKindEntity     SyncKind = "ENTITY"
	SyncKindAssessment SyncKind = "ASSESSMENT"
	SyncKindResponse   SyncKind = "RESPONSE"
	SyncKindIncident   SyncKind = "INCIDENT"
	SyncKindMedia      SyncKind = "MEDIA"
)

type SyncAction string

const (
	SyncActionCreate SyncAction = "CREATE"
	SyncActionUpdate SyncAction = "UPDATE"
	SyncActionDelete SyncAction = "DELETE"
)

// SyncOperation is one deferred write replayed against the server.
type SyncOperation struct {
	ID       string          `json:"id"` // queue item ID, echoed back in the result
	Kind     SyncKind        `json:"kind"`
	Action   SyncAction      `json:"action"`
	TargetID string          `json:"target_id,omitempty"` // server ID for UPDATE/DELETE
	Payload  json.RawMessage `json:"payload"`
}

type SyncPushRequest struct {
	Operations []SyncOperation `json:"operations"`
}

// SyncItemResult reports the outcome of one operation. Status is one of
// OK, INVALID, CONFLICT, ERROR.
type SyncItemResult struct {
	ID       string      `json:"id"`
	Status   string      `json:"status"`
	ServerID string      `json:"server_id,omitempty"` // assigned on CREATE
	Message  string      `json:"message,omitempty"`
	Errors   interface{} `json:"errors,omitempty"`
	Remote   interface{} `json:"remote,omitempty"` // current server record on CONFLICT
}

const (
	SyncResultOK       = "OK"
	SyncResultInvalid  = "INVALID"
	SyncResultConflict = "CONFLICT"
	SyncResultError    = "ERROR"
)

// Change is a server-side verification status update pulled by agents.
type Change struct {
	Kind      SyncKind           `json:"kind"`
	ID        string             `json:"id"`
	OfflineID string             `json:"offline_id,omitempty"`
	Status    VerificationStatus `json:"status"`
	ChangedAt int64              `json:"changed_at"` // unix seconds
}

type ChangeSet struct {
	Changes   []Change `json:"changes"`
	Watermark int64    `json:"watermark"` // pass back as ?since= on the next pull
}
