package assessment_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/entity"
	inmemdb "github.com/relieflab/dms/storage/database/inmem"
)

type notifierMock struct {
	notified []string // kinds, in order
}

func (n *notifierMock) NotifyUser(_ context.Context, _, kind, _, _ string) error {
	n.notified = append(n.notified, kind)
	return nil
}

type incidentOpenerMock struct {
	opened int
}

func (o *incidentOpenerMock) OpenFromAssessment(_ context.Context, _, _ string, _ assessment.IncidentFlag) (string, error) {
	o.opened++
	return "incident-1", nil
}

func setup(t *testing.T) (*assessment.Service, *entity.Service, *notifierMock, *incidentOpenerMock) {
	t.Helper()
	db := inmemdb.NewDB()
	entSvc := entity.NewService(inmemdb.NewEntityRepository(db))
	notifier := &notifierMock{}
	opener := &incidentOpenerMock{}
	svc := assessment.NewService(inmemdb.NewAssessmentRepository(db), entSvc, notifier, opener)
	return svc, entSvc, notifier, opener
}

func createEntity(t *testing.T, entSvc *entity.Service) entity.AffectedEntity {
	t.Helper()
	ent, err := entSvc.Create(context.Background(), "coord-1", entity.NewEntity{
		Type: entity.TypeCamp,
		Name: "Durumi Camp",
		LGA:  "AMAC",
		Camp: &entity.CampDetails{
			CoordinatorName:  "A. Bello",
			CoordinatorPhone: "08030000000",
			Status:           entity.CampOpen,
		},
	})
	require.NoError(t, err)
	return ent
}

func washData(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(assessment.WASHData{
		WaterSource:        []string{"BOREHOLE"},
		WaterSufficient:    false,
		FunctionalLatrines: 4,
	})
	require.NoError(t, err)
	return raw
}

func TestServiceCreate(t *testing.T) {
	svc, entSvc, _, opener := setup(t)
	ent := createEntity(t, entSvc)
	ctx := context.Background()

	na := assessment.NewAssessment{
		Type:      assessment.TypeWASH,
		EntityID:  ent.ID,
		Data:      washData(t),
		OfflineID: "off-123",
	}
	require.NoError(t, na.Validate())

	ra, err := svc.Create(ctx, "assessor-1", na)
	require.NoError(t, err)
	assert.NotEmpty(t, ra.ID)
	assert.Equal(t, core.StatusPending, ra.VerificationStatus)
	assert.Equal(t, "assessor-1", ra.AssessorID)
	assert.False(t, ra.Date.IsZero())
	assert.Zero(t, opener.opened)

	// a retried push with the same offline ID must not duplicate
	again, err := svc.Create(ctx, "assessor-1", na)
	require.NoError(t, err)
	assert.Equal(t, ra.ID, again.ID)

	// unknown entity is a validation failure
	na.OfflineID = ""
	na.EntityID = "nope"
	_, err = svc.Create(ctx, "assessor-1", na)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestServiceCreateOpensIncident(t *testing.T) {
	svc, entSvc, _, opener := setup(t)
	ent := createEntity(t, entSvc)

	ra, err := svc.Create(context.Background(), "assessor-1", assessment.NewAssessment{
		Type:     assessment.TypeWASH,
		EntityID: ent.ID,
		Data:     washData(t),
		Incident: &assessment.IncidentFlag{
			IncidentType:    "FLOOD",
			Severity:        "SEVERE",
			AffectedPersons: 1200,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, opener.opened)
	assert.Equal(t, "incident-1", ra.IncidentID)
}

func TestServiceVerifyReject(t *testing.T) {
	svc, entSvc, notifier, _ := setup(t)
	ent := createEntity(t, entSvc)
	ctx := context.Background()

	ra, err := svc.Create(ctx, "assessor-1", assessment.NewAssessment{
		Type:     assessment.TypeWASH,
		EntityID: ent.ID,
		Data:     washData(t),
	})
	require.NoError(t, err)

	ra, err = svc.Verify(ctx, ra.ID, "coord-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusVerified, ra.VerificationStatus)
	assert.Equal(t, "coord-1", ra.VerifiedBy)
	require.NotNil(t, ra.VerifiedAt)
	assert.Equal(t, []string{"ASSESSMENT_VERIFIED"}, notifier.notified)

	// verified is terminal
	_, err = svc.Verify(ctx, ra.ID, "coord-1")
	assert.Error(t, err)
	_, err = svc.Reject(ctx, ra.ID, "coord-1", assessment.RejectionFeedback{Reason: "too late"})
	assert.Error(t, err)
	_, err = svc.Update(ctx, ra.ID, assessment.UpdateAssessment{Data: washData(t)})
	assert.Error(t, err)
}

func TestServiceRejectResubmit(t *testing.T) {
	svc, entSvc, notifier, _ := setup(t)
	ent := createEntity(t, entSvc)
	ctx := context.Background()

	ra, err := svc.Create(ctx, "assessor-1", assessment.NewAssessment{
		Type:     assessment.TypeWASH,
		EntityID: ent.ID,
		Data:     washData(t),
	})
	require.NoError(t, err)

	ra, err = svc.Reject(ctx, ra.ID, "coord-1", assessment.RejectionFeedback{
		Reason:   "incomplete data",
		Comments: "latrine count missing",
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, ra.VerificationStatus)
	assert.Equal(t, []string{"ASSESSMENT_REJECTED"}, notifier.notified)

	fbs, err := svc.FeedbackFor(ctx, ra.ID)
	require.NoError(t, err)
	require.Len(t, fbs, 1)
	assert.Equal(t, "incomplete data", fbs[0].Reason)
	assert.Equal(t, "coord-1", fbs[0].CreatedBy)

	// re-submission flips back to pending for another review round
	ra, err = svc.Update(ctx, ra.ID, assessment.UpdateAssessment{Data: washData(t)})
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, ra.VerificationStatus)
	assert.Empty(t, ra.VerifiedBy)
	assert.Nil(t, ra.VerifiedAt)
}

func TestServiceUpdateRejectsMismatchedData(t *testing.T) {
	svc, entSvc, _, _ := setup(t)
	ent := createEntity(t, entSvc)
	ctx := context.Background()

	ra, err := svc.Create(ctx, "assessor-1", assessment.NewAssessment{
		Type:     assessment.TypeWASH,
		EntityID: ent.ID,
		Data:     washData(t),
	})
	require.NoError(t, err)

	// a WASH assessment cannot carry a negative latrine count
	bad, err := json.Marshal(assessment.WASHData{WaterSource: []string{"RIVER"}, FunctionalLatrines: -1})
	require.NoError(t, err)
	_, err = svc.Update(ctx, ra.ID, assessment.UpdateAssessment{Data: bad})
	assert.Error(t, err)
}

func TestServiceGetByIDNotFound(t *testing.T) {
	svc, _, _, _ := setup(t)
	_, err := svc.GetByID(context.Background(), "nope")
	assert.Equal(t, assessment.ErrNotFound, errors.Cause(err))
}
