package donation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
)

var (
	ErrNotFound = errors.New("commitment not found")
)

type (
	Repository interface {
		CreateCommitment(ctx context.Context, c Commitment) (Commitment, error)
		QueryCommitments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Commitment, error)
		GetCommitmentByID(ctx context.Context, id string) (Commitment, error)
		UpdateCommitment(ctx context.Context, c Commitment) (Commitment, error)
	}

	Notifier interface {
		NotifyUser(ctx context.Context, userID, kind, subject, body string) error
	}

	Service struct {
		repo     Repository
		notifier Notifier
	}
)

func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

func (svc *Service) Commit(ctx context.Context, donorID string, nc NewCommitment) (Commitment, error) {
	now := core.UTCNow()
	c := Commitment{
		ID:         uuid.New().String(),
		DonorID:    donorID,
		ItemName:   nc.ItemName,
		Unit:       nc.Unit,
		Quantity:   nc.Quantity,
		TargetDate: nc.TargetDate.UTC(),
		Status:     StatusPlanned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return svc.repo.CreateCommitment(ctx, c)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Commitment, error) {
	return svc.repo.QueryCommitments(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Commitment, error) {
	return svc.repo.GetCommitmentByID(ctx, id)
}

// ChangeStatus walks the commitment lifecycle; delivery stamps DeliveredAt and
// optionally links the response that consumed the pledge.
func (svc *Service) ChangeStatus(ctx context.Context, id string, sc StatusChange) (Commitment, error) {
	c, err := svc.repo.GetCommitmentByID(ctx, id)
	if err != nil {
		return Commitment{}, err
	}
	if !c.Status.CanTransition(sc.Status) {
		return Commitment{}, core.NewValidationError(core.ErrBadTransition,
			core.FieldError{Field: "status", Error: fmt.Sprintf("cannot move a %s commitment to %s", c.Status, sc.Status)})
	}

	now := core.UTCNow()
	c.Status = sc.Status
	if sc.ResponseID != "" {
		c.ResponseID = sc.ResponseID
	}
	if sc.Status == StatusDelivered {
		c.DeliveredAt = &now
	}
	c.UpdatedAt = now
	c, err = svc.repo.UpdateCommitment(ctx, c)
	if err != nil {
		return Commitment{}, err
	}

	if svc.notifier != nil {
		_ = svc.notifier.NotifyUser(ctx, c.DonorID, "COMMITMENT_"+string(c.Status),
			fmt.Sprintf("Commitment %s", c.Status),
			fmt.Sprintf("Your commitment of %.0f %s %s is now %s.", c.Quantity, c.Unit, c.ItemName, c.Status))
	}
	return c, nil
}

// MetricsFor summarizes a donor's delivery performance.
func (svc *Service) MetricsFor(ctx context.Context, donorID string) (DonorMetrics, error) {
	commitments, err := svc.repo.QueryCommitments(ctx, &QueryFilter{DonorID: donorID}, nil)
	if err != nil {
		return DonorMetrics{}, err
	}
	return computeMetrics(donorID, commitments), nil
}

// Leaderboard ranks donors by delivery rate, then on-time rate.
func (svc *Service) Leaderboard(ctx context.Context, limit int) ([]DonorMetrics, error) {
	commitments, err := svc.repo.QueryCommitments(ctx, &QueryFilter{}, nil)
	if err != nil {
		return nil, err
	}

	byDonor := make(map[string][]Commitment)
	for _, c := range commitments {
		byDonor[c.DonorID] = append(byDonor[c.DonorID], c)
	}
	board := make([]DonorMetrics, 0, len(byDonor))
	for donorID, cs := range byDonor {
		board = append(board, computeMetrics(donorID, cs))
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].DeliveryRate != board[j].DeliveryRate {
			return board[i].DeliveryRate > board[j].DeliveryRate
		}
		if board[i].OnTimeRate != board[j].OnTimeRate {
			return board[i].OnTimeRate > board[j].OnTimeRate
		}
		return board[i].DonorID < board[j].DonorID
	})
	if limit > 0 && len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}

func computeMetrics(donorID string, commitments []Commitment) DonorMetrics {
	m := DonorMetrics{DonorID: donorID, TotalCommitments: len(commitments)}
	var onTime int
	for _, c := range commitments {
		switch c.Status {
		case StatusDelivered:
			m.Delivered++
			if c.DeliveredAt != nil && !c.DeliveredAt.After(c.TargetDate) {
				onTime++
			}
		case StatusCancelled:
			m.Cancelled++
		}
	}
	if active := m.TotalCommitments - m.Cancelled; active > 0 {
		m.DeliveryRate = float64(m.Delivered) / float64(active)
	}
	if m.Delivered > 0 {
		m.OnTimeRate = float64(onTime) / float64(m.Delivered)
	}
	return m
}
