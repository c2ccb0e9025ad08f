package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/donation"
)

type commitmentRow struct {
	ID          string    `db:"id"`
	DonorID     string    `db:"donor_id"`
	ItemName    string    `db:"item_name"`
	Unit        string    `db:"unit"`
	Quantity    float64   `db:"quantity"`
	TargetDate  time.Time `db:"target_date"`
	Status      string    `db:"status"`
	ResponseID  string    `db:"response_id"`
	DeliveredAt null.Time `db:"delivered_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row commitmentRow) toCommitment() donation.Commitment {
	c := donation.Commitment{
		ID:         row.ID,
		DonorID:    row.DonorID,
		ItemName:   row.ItemName,
		Unit:       row.Unit,
		Quantity:   row.Quantity,
		TargetDate: row.TargetDate.UTC(),
		Status:     donation.CommitmentStatus(row.Status),
		ResponseID: row.ResponseID,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if row.DeliveredAt.Valid {
		t := row.DeliveredAt.Time.UTC()
		c.DeliveredAt = &t
	}
	return c
}

const commitmentColumns = `id, donor_id, item_name, unit, quantity, target_date, status, response_id, delivered_at, created_at, updated_at`

type donationRepository struct {
	db *sqlx.DB
}

func NewDonationRepository(db *sqlx.DB) donation.Repository {
	return &donationRepository{db: db}
}

func (repo *donationRepository) CreateCommitment(ctx context.Context, c donation.Commitment) (donation.Commitment, error) {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO donor_commitment (`+commitmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.DonorID, c.ItemName, c.Unit, c.Quantity, c.TargetDate, string(c.Status),
		c.ResponseID, null.TimeFromPtr(c.DeliveredAt), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return donation.Commitment{}, errors.Wrap(err, "creating commitment")
	}
	return c, nil
}

func (repo *donationRepository) QueryCommitments(ctx context.Context, filter *donation.QueryFilter, ordering []core.DBOrdering) ([]donation.Commitment, error) {
	var wb whereBuilder
	if filter != nil {
		if filter.DonorID != "" {
			wb.add(`donor_id = ?`, filter.DonorID)
		}
		if filter.Status != "" {
			wb.add(`status = ?`, string(filter.Status))
		}
	}

	allowed := map[string]bool{"target_date": true, "status": true, "created_at": true}
	query := `SELECT ` + commitmentColumns + ` FROM donor_commitment` + wb.clause() + orderClause(ordering, allowed, "target_date ASC")

	var rows []commitmentRow
	if err := repo.db.SelectContext(ctx, &rows, query, wb.args...); err != nil {
		return nil, errors.Wrap(err, "querying commitments")
	}
	cs := make([]donation.Commitment, 0, len(rows))
	for _, row := range rows {
		cs = append(cs, row.toCommitment())
	}
	return cs, nil
}

func (repo *donationRepository) GetCommitmentByID(ctx context.Context, id string) (donation.Commitment, error) {
	var row commitmentRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+commitmentColumns+` FROM donor_commitment WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return donation.Commitment{}, donation.ErrNotFound
	} else if err != nil {
		return donation.Commitment{}, errors.Wrap(err, "getting commitment")
	}
	return row.toCommitment(), nil
}

func (repo *donationRepository) UpdateCommitment(ctx context.Context, c donation.Commitment) (donation.Commitment, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE donor_commitment
		 SET status = $1, response_id = $2, delivered_at = $3, updated_at = $4
		 WHERE id = $5`,
		string(c.Status), c.ResponseID, null.TimeFromPtr(c.DeliveredAt), c.UpdatedAt, c.ID)
	if err != nil {
		return donation.Commitment{}, errors.Wrap(err, "updating commitment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return donation.Commitment{}, donation.ErrNotFound
	}
	return repo.GetCommitmentByID(ctx, c.ID)
}
