package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
	"github.com/relieflab/dms/core/response"
)

type responseRow struct {
	ID                 string         `db:"id"`
	Type               string         `db:"type"`
	EntityID           string         `db:"entity_id"`
	ResponderID        string         `db:"responder_id"`
	AssessmentID       string         `db:"assessment_id"`
	DonorID            string         `db:"donor_id"`
	Status             string         `db:"status"`
	PlannedItems       []byte         `db:"planned_items"`
	DeliveredItems     []byte         `db:"delivered_items"`
	PlannedDate        time.Time      `db:"planned_date"`
	DeliveredAt        null.Time      `db:"delivered_at"`
	Coordinates        []byte         `db:"coordinates"`
	DeliveryPercent    float64        `db:"delivery_percent"`
	ReasonCodes        pq.StringArray `db:"reason_codes"`
	EvidenceMediaIDs   pq.StringArray `db:"evidence_media_ids"`
	VerificationStatus string         `db:"verification_status"`
	VerifiedBy         string         `db:"verified_by"`
	VerifiedAt         null.Time      `db:"verified_at"`
	StatusChangedAt    int64          `db:"status_changed_at"`
	OfflineID          null.String    `db:"offline_id"`
	SyncStatus         string         `db:"sync_status"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (row responseRow) toResponse() (response.RapidResponse, error) {
	rr := response.RapidResponse{
		ID:                 row.ID,
		Type:               response.ResponseType(row.Type),
		EntityID:           row.EntityID,
		ResponderID:        row.ResponderID,
		AssessmentID:       row.AssessmentID,
		DonorID:            row.DonorID,
		Status:             response.Status(row.Status),
		PlannedDate:        row.PlannedDate.UTC(),
		DeliveryPercent:    row.DeliveryPercent,
		ReasonCodes:        row.ReasonCodes,
		EvidenceMediaIDs:   row.EvidenceMediaIDs,
		VerificationStatus: core.VerificationStatus(row.VerificationStatus),
		VerifiedBy:         row.VerifiedBy,
		OfflineID:          row.OfflineID.String,
		SyncStatus:         core.SyncStatus(row.SyncStatus),
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
	if row.DeliveredAt.Valid {
		t := row.DeliveredAt.Time.UTC()
		rr.DeliveredAt = &t
	}
	if row.VerifiedAt.Valid {
		t := row.VerifiedAt.Time.UTC()
		rr.VerifiedAt = &t
	}
	if err := fromJSONColumn(row.PlannedItems, &rr.PlannedItems); err != nil {
		return rr, err
	}
	if err := fromJSONColumn(row.DeliveredItems, &rr.DeliveredItems); err != nil {
		return rr, err
	}
	if len(row.Coordinates) > 0 {
		rr.Coordinates = &entity.GPSCoordinates{}
		if err := fromJSONColumn(row.Coordinates, rr.Coordinates); err != nil {
			return rr, err
		}
	}
	return rr, nil
}

const responseColumns = `id, type, entity_id, responder_id, assessment_id, donor_id, status, planned_items, delivered_items,
	planned_date, delivered_at, coordinates, delivery_percent, reason_codes, evidence_media_ids,
	verification_status, verified_by, verified_at, status_changed_at, offline_id, sync_status, created_at, updated_at`

type responseRepository struct {
	db *sqlx.DB
}

func NewResponseRepository(db *sqlx.DB) response.Repository {
	return &responseRepository{db: db}
}

func (repo *responseRepository) CreateResponse(ctx context.Context, rr response.RapidResponse) (response.RapidResponse, error) {
	planned, err := jsonColumn(rr.PlannedItems)
	if err != nil {
		return response.RapidResponse{}, err
	}
	delivered, err := jsonColumn(sliceOrNil(rr.DeliveredItems))
	if err != nil {
		return response.RapidResponse{}, err
	}
	coords, err := jsonColumn(orNil(rr.Coordinates))
	if err != nil {
		return response.RapidResponse{}, err
	}

	_, err = repo.db.ExecContext(ctx,
		`INSERT INTO rapid_response (`+responseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		rr.ID, string(rr.Type), rr.EntityID, rr.ResponderID, rr.AssessmentID, rr.DonorID,
		string(rr.Status), planned, delivered, rr.PlannedDate, null.TimeFromPtr(rr.DeliveredAt), coords,
		rr.DeliveryPercent, pq.StringArray(rr.ReasonCodes), pq.StringArray(rr.EvidenceMediaIDs),
		string(rr.VerificationStatus), rr.VerifiedBy, null.TimeFromPtr(rr.VerifiedAt), rr.UpdatedAt.Unix(),
		null.NewString(rr.OfflineID, rr.OfflineID != ""), string(rr.SyncStatus), rr.CreatedAt, rr.UpdatedAt)
	if err != nil {
		return response.RapidResponse{}, errors.Wrap(err, "creating response")
	}
	return rr, nil
}

func (repo *responseRepository) QueryResponses(ctx context.Context, filter *response.QueryFilter, ordering []core.DBOrdering) ([]response.RapidResponse, error) {
	var wb whereBuilder
	if filter != nil {
		if filter.Type != "" {
			wb.add(`type = ?`, string(filter.Type))
		}
		if filter.EntityID != "" {
			wb.add(`entity_id = ?`, filter.EntityID)
		}
		if filter.ResponderID != "" {
			wb.add(`responder_id = ?`, filter.ResponderID)
		}
		if filter.DonorID != "" {
			wb.add(`donor_id = ?`, filter.DonorID)
		}
		if filter.Status != "" {
			wb.add(`status = ?`, string(filter.Status))
		}
		if filter.Verification != "" {
			wb.add(`verification_status = ?`, string(filter.Verification))
		}
	}

	allowed := map[string]bool{"planned_date": true, "status": true, "created_at": true}
	query := `SELECT ` + responseColumns + ` FROM rapid_response` + wb.clause() + orderClause(ordering, allowed, "planned_date DESC")

	var rows []responseRow
	if err := repo.db.SelectContext(ctx, &rows, query, wb.args...); err != nil {
		return nil, errors.Wrap(err, "querying responses")
	}
	return responsesFromRows(rows)
}

func responsesFromRows(rows []responseRow) ([]response.RapidResponse, error) {
	rrs := make([]response.RapidResponse, 0, len(rows))
	for _, row := range rows {
		rr, err := row.toResponse()
		if err != nil {
			return nil, err
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

func (repo *responseRepository) getBy(ctx context.Context, cond string, args ...interface{}) (response.RapidResponse, error) {
	var row responseRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+responseColumns+` FROM rapid_response WHERE `+cond, args...)
	if err == sql.ErrNoRows {
		return response.RapidResponse{}, response.ErrNotFound
	} else if err != nil {
		return response.RapidResponse{}, errors.Wrap(err, "getting response")
	}
	return row.toResponse()
}

func (repo *responseRepository) GetResponseByID(ctx context.Context, id string) (response.RapidResponse, error) {
	return repo.getBy(ctx, `id = $1`, id)
}

func (repo *responseRepository) GetResponseByOfflineID(ctx context.Context, offlineID string) (response.RapidResponse, error) {
	return repo.getBy(ctx, `offline_id = $1`, offlineID)
}

func (repo *responseRepository) UpdateResponse(ctx context.Context, rr response.RapidResponse) (response.RapidResponse, error) {
	planned, err := jsonColumn(rr.PlannedItems)
	if err != nil {
		return response.RapidResponse{}, err
	}
	delivered, err := jsonColumn(sliceOrNil(rr.DeliveredItems))
	if err != nil {
		return response.RapidResponse{}, err
	}
	coords, err := jsonColumn(orNil(rr.Coordinates))
	if err != nil {
		return response.RapidResponse{}, err
	}

	res, err := repo.db.ExecContext(ctx,
		`UPDATE rapid_response
		 SET type = $1, status = $2, planned_items = $3, delivered_items = $4, planned_date = $5,
		     delivered_at = $6, coordinates = $7, delivery_percent = $8, reason_codes = $9,
		     evidence_media_ids = $10, verification_status = $11, verified_by = $12, verified_at = $13,
		     status_changed_at = $14, sync_status = $15, updated_at = $16
		 WHERE id = $17`,
		string(rr.Type), string(rr.Status), planned, delivered, rr.PlannedDate,
		null.TimeFromPtr(rr.DeliveredAt), coords, rr.DeliveryPercent, pq.StringArray(rr.ReasonCodes),
		pq.StringArray(rr.EvidenceMediaIDs), string(rr.VerificationStatus), rr.VerifiedBy,
		null.TimeFromPtr(rr.VerifiedAt), rr.UpdatedAt.Unix(), string(rr.SyncStatus), rr.UpdatedAt, rr.ID)
	if err != nil {
		return response.RapidResponse{}, errors.Wrap(err, "updating response")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return response.RapidResponse{}, response.ErrNotFound
	}
	return repo.GetResponseByID(ctx, rr.ID)
}

func (repo *responseRepository) QueryStatusChangesSince(ctx context.Context, since int64) ([]response.RapidResponse, error) {
	var rows []responseRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+responseColumns+` FROM rapid_response
		 WHERE status_changed_at >= $1 AND verification_status <> 'PENDING'
		 ORDER BY status_changed_at ASC`, since)
	if err != nil {
		return nil, errors.Wrap(err, "querying status changes")
	}
	return responsesFromRows(rows)
}
