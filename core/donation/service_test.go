package donation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieflab/dms/core/donation"
	inmemdb "github.com/relieflab/dms/storage/database/inmem"
)

func setup(t *testing.T) *donation.Service {
	t.Helper()
	return donation.NewService(inmemdb.NewDonationRepository(inmemdb.NewDB()), nil)
}

func commit(t *testing.T, svc *donation.Service, donorID string, target time.Time) donation.Commitment {
	t.Helper()
	c, err := svc.Commit(context.Background(), donorID, donation.NewCommitment{
		ItemName:   "Rice",
		Unit:       "bag",
		Quantity:   100,
		TargetDate: target,
	})
	require.NoError(t, err)
	return c
}

func deliver(t *testing.T, svc *donation.Service, id string) donation.Commitment {
	t.Helper()
	c, err := svc.ChangeStatus(context.Background(), id, donation.StatusChange{Status: donation.StatusDelivered})
	require.NoError(t, err)
	return c
}

func TestServiceLifecycle(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	c := commit(t, svc, "donor-1", time.Now().Add(7*24*time.Hour))
	assert.Equal(t, donation.StatusPlanned, c.Status)

	c, err := svc.ChangeStatus(ctx, c.ID, donation.StatusChange{Status: donation.StatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, donation.StatusInProgress, c.Status)

	c, err = svc.ChangeStatus(ctx, c.ID, donation.StatusChange{Status: donation.StatusDelivered, ResponseID: "resp-1"})
	require.NoError(t, err)
	assert.Equal(t, donation.StatusDelivered, c.Status)
	assert.Equal(t, "resp-1", c.ResponseID)
	require.NotNil(t, c.DeliveredAt)

	// delivered is terminal
	_, err = svc.ChangeStatus(ctx, c.ID, donation.StatusChange{Status: donation.StatusCancelled})
	assert.Error(t, err)
}

func TestServiceMetrics(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()
	future := time.Now().Add(7 * 24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)

	deliver(t, svc, commit(t, svc, "donor-1", future).ID) // on time
	deliver(t, svc, commit(t, svc, "donor-1", past).ID)   // late
	c := commit(t, svc, "donor-1", future)
	_, err := svc.ChangeStatus(ctx, c.ID, donation.StatusChange{Status: donation.StatusCancelled})
	require.NoError(t, err)
	commit(t, svc, "donor-1", future) // still planned

	m, err := svc.MetricsFor(ctx, "donor-1")
	require.NoError(t, err)
	assert.Equal(t, 4, m.TotalCommitments)
	assert.Equal(t, 2, m.Delivered)
	assert.Equal(t, 1, m.Cancelled)
	// cancelled pledges do not count against the delivery rate
	assert.InDelta(t, float64(2)/3, m.DeliveryRate, 0.001)
	assert.InDelta(t, 0.5, m.OnTimeRate, 0.001)
}

func TestServiceLeaderboard(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()
	future := time.Now().Add(7 * 24 * time.Hour)

	// donor-a: 2/2 delivered; donor-b: 1/2; donor-c: 0/1
	deliver(t, svc, commit(t, svc, "donor-a", future).ID)
	deliver(t, svc, commit(t, svc, "donor-a", future).ID)
	deliver(t, svc, commit(t, svc, "donor-b", future).ID)
	commit(t, svc, "donor-b", future)
	commit(t, svc, "donor-c", future)

	board, err := svc.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "donor-a", board[0].DonorID)
	assert.Equal(t, "donor-b", board[1].DonorID)
}
