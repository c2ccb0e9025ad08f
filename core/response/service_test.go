package response_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/response"
	inmemdb "github.com/relieflab/dms/storage/database/inmem"
)

type notifierMock struct {
	notified []string
}

func (n *notifierMock) NotifyUser(_ context.Context, _, kind, _, _ string) error {
	n.notified = append(n.notified, kind)
	return nil
}

type fixture struct {
	svc       *response.Service
	assessSvc *assessment.Service
	notifier  *notifierMock
	ent       entity.AffectedEntity
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := inmemdb.NewDB()
	entSvc := entity.NewService(inmemdb.NewEntityRepository(db))
	notifier := &notifierMock{}
	assessSvc := assessment.NewService(inmemdb.NewAssessmentRepository(db), entSvc, notifier, nil)
	svc := response.NewService(inmemdb.NewResponseRepository(db), entSvc, assessSvc, notifier)

	ent, err := entSvc.Create(context.Background(), "coord-1", entity.NewEntity{
		Type: entity.TypeCommunity,
		Name: "Gwoza Ward 3",
		LGA:  "Gwoza",
		Community: &entity.CommunityDetails{
			ContactName:  "M. Musa",
			ContactPhone: "08030000001",
		},
	})
	require.NoError(t, err)
	return fixture{svc: svc, assessSvc: assessSvc, notifier: notifier, ent: ent}
}

func plan(t *testing.T, svc *response.Service, entID string) response.RapidResponse {
	t.Helper()
	rr, err := svc.Create(context.Background(), "responder-1", response.NewResponse{
		Type:     assessment.TypeFood,
		EntityID: entID,
		PlannedItems: []response.Item{
			{Name: "Rice", Unit: "bag", Quantity: 100},
			{Name: "Oil", Unit: "litre", Quantity: 50},
		},
	})
	require.NoError(t, err)
	return rr
}

func TestPercentDelivered(t *testing.T) {
	planned := []response.Item{
		{Name: "Rice", Unit: "bag", Quantity: 100},
		{Name: "Oil", Unit: "litre", Quantity: 50},
	}

	tests := []struct {
		name      string
		delivered []response.Item
		want      float64
	}{
		{name: "nothing delivered", delivered: nil, want: 0},
		{name: "full delivery", delivered: planned, want: 100},
		{name: "half of everything", delivered: []response.Item{
			{Name: "Rice", Unit: "bag", Quantity: 50},
			{Name: "Oil", Unit: "litre", Quantity: 25},
		}, want: 50},
		{name: "over-delivery does not compensate", delivered: []response.Item{
			{Name: "Rice", Unit: "bag", Quantity: 500},
		}, want: float64(100) / 150 * 100},
		{name: "unknown item ignored", delivered: []response.Item{
			{Name: "Tents", Unit: "piece", Quantity: 10},
		}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, response.PercentDelivered(planned, tt.delivered), 0.001)
		})
	}
}

func TestPercentDeliveredDuplicatePlanLines(t *testing.T) {
	// two plan lines for the same item share one delivered pool; a single
	// delivery must not be credited against both
	planned := []response.Item{
		{Name: "Rice", Unit: "bag", Quantity: 5},
		{Name: "Rice", Unit: "bag", Quantity: 5},
	}
	delivered := []response.Item{{Name: "Rice", Unit: "bag", Quantity: 5}}
	assert.InDelta(t, 50, response.PercentDelivered(planned, delivered), 0.001)

	// both lines covered once enough is actually delivered
	delivered = []response.Item{{Name: "Rice", Unit: "bag", Quantity: 10}}
	assert.InDelta(t, 100, response.PercentDelivered(planned, delivered), 0.001)
}

func TestServiceLifecycle(t *testing.T) {
	fx := setup(t)
	svc, notifier, ent := fx.svc, fx.notifier, fx.ent
	ctx := context.Background()

	rr := plan(t, svc, ent.ID)
	assert.Equal(t, response.StatusPlanned, rr.Status)

	rr, err := svc.Start(ctx, rr.ID)
	require.NoError(t, err)
	assert.Equal(t, response.StatusInProgress, rr.Status)

	// starting twice is illegal
	_, err = svc.Start(ctx, rr.ID)
	assert.Error(t, err)

	// full delivery needs no reason codes
	rr, err = svc.Deliver(ctx, rr.ID, response.Delivery{})
	require.NoError(t, err)
	assert.Equal(t, response.StatusDelivered, rr.Status)
	assert.InDelta(t, 100, rr.DeliveryPercent, 0.001)
	require.NotNil(t, rr.DeliveredAt)

	rr, err = svc.Verify(ctx, rr.ID, "coord-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusVerified, rr.VerificationStatus)
	assert.Equal(t, []string{"RESPONSE_VERIFIED"}, notifier.notified)
}

func TestServiceCreateAssessmentLink(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	newResp := func(assessmentID string) response.NewResponse {
		return response.NewResponse{
			Type:         assessment.TypeFood,
			EntityID:     fx.ent.ID,
			AssessmentID: assessmentID,
			PlannedItems: []response.Item{{Name: "Rice", Unit: "bag", Quantity: 10}},
		}
	}

	// unknown assessment
	var vErr *core.ValidationError
	_, err := fx.svc.Create(ctx, "responder-1", newResp("no-such-assessment"))
	require.ErrorAs(t, err, &vErr)

	ra, err := fx.assessSvc.Create(ctx, "assessor-1", assessment.NewAssessment{
		Type:     assessment.TypeFood,
		EntityID: fx.ent.ID,
		Data: json.RawMessage(`{
			"food_source": ["market"],
			"available_food_days": 3,
			"malnutrition_cases": 12,
			"feeding_program_exists": false
		}`),
	})
	require.NoError(t, err)

	// pending assessments cannot back a response yet
	_, err = fx.svc.Create(ctx, "responder-1", newResp(ra.ID))
	require.ErrorAs(t, err, &vErr)

	_, err = fx.assessSvc.Verify(ctx, ra.ID, "coord-1")
	require.NoError(t, err)

	rr, err := fx.svc.Create(ctx, "responder-1", newResp(ra.ID))
	require.NoError(t, err)
	assert.Equal(t, ra.ID, rr.AssessmentID)
}

func TestServiceUpdatePlan(t *testing.T) {
	fx := setup(t)
	svc, ent := fx.svc, fx.ent
	ctx := context.Background()

	rr := plan(t, svc, ent.ID)

	rr, err := svc.Update(ctx, rr.ID, response.UpdateResponse{
		PlannedItems: []response.Item{{Name: "Rice", Unit: "bag", Quantity: 120}},
		DonorID:      "donor-1",
	})
	require.NoError(t, err)
	assert.Len(t, rr.PlannedItems, 1)
	assert.InDelta(t, 120, rr.PlannedItems[0].Quantity, 0.001)
	assert.Equal(t, "donor-1", rr.DonorID)

	// a stale baseline is rejected with the current copy attached
	stale := rr.UpdatedAt.Add(-time.Second)
	_, err = svc.Update(ctx, rr.ID, response.UpdateResponse{
		DonorID:       "donor-2",
		BaseUpdatedAt: stale,
	})
	var conflict *core.ConflictError
	require.ErrorAs(t, err, &conflict)

	// force pushes through anyway
	rr, err = svc.Update(ctx, rr.ID, response.UpdateResponse{
		DonorID:       "donor-2",
		BaseUpdatedAt: stale,
		Force:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "donor-2", rr.DonorID)

	// once in motion the plan is frozen
	_, err = svc.Start(ctx, rr.ID)
	require.NoError(t, err)
	_, err = svc.Update(ctx, rr.ID, response.UpdateResponse{DonorID: "donor-3"})
	assert.Error(t, err)
}

func TestServicePartialDelivery(t *testing.T) {
	fx := setup(t)
	svc, ent := fx.svc, fx.ent
	ctx := context.Background()

	rr := plan(t, svc, ent.ID)

	// partial delivery without reason codes is rejected
	short := []response.Item{{Name: "Rice", Unit: "bag", Quantity: 40}}
	_, err := svc.Deliver(ctx, rr.ID, response.Delivery{Items: short})
	require.Error(t, err)

	rr, err = svc.Deliver(ctx, rr.ID, response.Delivery{
		Items:       short,
		ReasonCodes: []string{"ACCESS_BLOCKED"},
	})
	require.NoError(t, err)
	assert.InDelta(t, float64(40)/150*100, rr.DeliveryPercent, 0.001)
	assert.Equal(t, []string{"ACCESS_BLOCKED"}, rr.ReasonCodes)
}

func TestServiceRejectDelivery(t *testing.T) {
	fx := setup(t)
	svc, notifier, ent := fx.svc, fx.notifier, fx.ent
	ctx := context.Background()

	rr := plan(t, svc, ent.ID)
	rr, err := svc.Deliver(ctx, rr.ID, response.Delivery{})
	require.NoError(t, err)

	// empty reason is refused
	_, err = svc.Reject(ctx, rr.ID, "coord-1", "  ")
	require.Error(t, err)

	rr, err = svc.Reject(ctx, rr.ID, "coord-1", "no delivery evidence")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, rr.VerificationStatus)
	assert.Equal(t, []string{"RESPONSE_REJECTED"}, notifier.notified)

	// undelivered plans cannot be verified
	other := plan(t, svc, ent.ID)
	_, err = svc.Verify(ctx, other.ID, "coord-1")
	assert.Error(t, err)
}
