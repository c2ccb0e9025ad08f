package notification

import "time"

// Notification is an in-app message targeted at a single user; email delivery
// rides along when the user has an address on file.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"` // e.g. ASSESSMENT_REJECTED, INCIDENT_OPENED
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"` // UTC
}

type QueryFilter struct {
	UnreadOnly bool `query:"unread"`
}
