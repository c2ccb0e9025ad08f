package core

import "fmt"

// VerificationStatus is the review state attached to assessments and responses.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "PENDING"
	StatusVerified VerificationStatus = "VERIFIED"
	StatusRejected VerificationStatus = "REJECTED"
)

// CanTransition reports whether moving to `next` is a legal review step.
// PENDING may become VERIFIED or REJECTED; a REJECTED record goes back to
// PENDING on re-submission; VERIFIED is terminal.
func (s VerificationStatus) CanTransition(next VerificationStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusVerified || next == StatusRejected
	case StatusRejected:
		return next == StatusPending
	default:
		return false
	}
}

func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

var ErrBadTransition = fmt.Errorf("illegal verification status transition")

// SyncStatus tracks an offline-captured record's trip to the server.
type SyncStatus string

const (
	SyncLocal   SyncStatus = "LOCAL"   // captured, not yet pushed
	SyncPending SyncStatus = "PENDING" // queued for push
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)
