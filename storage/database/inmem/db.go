// Package inmemdb holds map-backed repositories used by service and handler
// tests.
package inmemdb

import (
	"sync"

	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/donation"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/incident"
	"github.com/relieflab/dms/core/media"
	"github.com/relieflab/dms/core/notification"
	"github.com/relieflab/dms/core/response"
	"github.com/relieflab/dms/core/user"
)

type DB struct {
	mutex sync.RWMutex

	users         map[string]*user.User
	entities      map[string]*entity.AffectedEntity
	assessments   map[string]*assessment.RapidAssessment
	feedback      map[string][]assessment.Feedback
	responses     map[string]*response.RapidResponse
	incidents     map[string]*incident.Incident
	commitments   map[string]*donation.Commitment
	media         map[string]*media.MediaAttachment
	notifications map[string]*notification.Notification
}

func NewDB() *DB {
	return &DB{
		users:         make(map[string]*user.User),
		entities:      make(map[string]*entity.AffectedEntity),
		assessments:   make(map[string]*assessment.RapidAssessment),
		feedback:      make(map[string][]assessment.Feedback),
		responses:     make(map[string]*response.RapidResponse),
		incidents:     make(map[string]*incident.Incident),
		commitments:   make(map[string]*donation.Commitment),
		media:         make(map[string]*media.MediaAttachment),
		notifications: make(map[string]*notification.Notification),
	}
}
