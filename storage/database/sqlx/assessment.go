package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
	"github.com/relieflab/dms/core/entity"
)

type assessmentRow struct {
	ID                 string         `db:"id"`
	Type               string         `db:"type"`
	EntityID           string         `db:"entity_id"`
	AssessorID         string         `db:"assessor_id"`
	Date               time.Time      `db:"date"`
	Coordinates        []byte         `db:"coordinates"`
	Data               []byte         `db:"data"`
	Incident           []byte         `db:"incident"`
	IncidentID         string         `db:"incident_id"`
	MediaIDs           pq.StringArray `db:"media_ids"`
	VerificationStatus string         `db:"verification_status"`
	VerifiedBy         string         `db:"verified_by"`
	VerifiedAt         null.Time      `db:"verified_at"`
	StatusChangedAt    int64          `db:"status_changed_at"`
	OfflineID          null.String    `db:"offline_id"`
	SyncStatus         string         `db:"sync_status"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (row assessmentRow) toAssessment() (assessment.RapidAssessment, error) {
	ra := assessment.RapidAssessment{
		ID:                 row.ID,
		Type:               assessment.AssessmentType(row.Type),
		EntityID:           row.EntityID,
		AssessorID:         row.AssessorID,
		Date:               row.Date.UTC(),
		Data:               json.RawMessage(row.Data),
		IncidentID:         row.IncidentID,
		MediaIDs:           row.MediaIDs,
		VerificationStatus: core.VerificationStatus(row.VerificationStatus),
		VerifiedBy:         row.VerifiedBy,
		OfflineID:          row.OfflineID.String,
		SyncStatus:         core.SyncStatus(row.SyncStatus),
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
	if row.VerifiedAt.Valid {
		t := row.VerifiedAt.Time.UTC()
		ra.VerifiedAt = &t
	}
	if len(row.Coordinates) > 0 {
		ra.Coordinates = &entity.GPSCoordinates{}
		if err := fromJSONColumn(row.Coordinates, ra.Coordinates); err != nil {
			return ra, err
		}
	}
	if len(row.Incident) > 0 {
		ra.Incident = &assessment.IncidentFlag{}
		if err := fromJSONColumn(row.Incident, ra.Incident); err != nil {
			return ra, err
		}
	}
	return ra, nil
}

const assessmentColumns = `id, type, entity_id, assessor_id, date, coordinates, data, incident, incident_id, media_ids,
	verification_status, verified_by, verified_at, status_changed_at, offline_id, sync_status, created_at, updated_at`

type assessmentRepository struct {
	db *sqlx.DB
}

func NewAssessmentRepository(db *sqlx.DB) assessment.Repository {
	return &assessmentRepository{db: db}
}

func (repo *assessmentRepository) CreateAssessment(ctx context.Context, ra assessment.RapidAssessment) (assessment.RapidAssessment, error) {
	coords, err := jsonColumn(orNil(ra.Coordinates))
	if err != nil {
		return assessment.RapidAssessment{}, err
	}
	flag, err := jsonColumn(orNil(ra.Incident))
	if err != nil {
		return assessment.RapidAssessment{}, err
	}

	_, err = repo.db.ExecContext(ctx,
		`INSERT INTO rapid_assessment (`+assessmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		ra.ID, string(ra.Type), ra.EntityID, ra.AssessorID, ra.Date, coords, []byte(ra.Data), flag,
		ra.IncidentID, pq.StringArray(ra.MediaIDs), string(ra.VerificationStatus), ra.VerifiedBy,
		null.TimeFromPtr(ra.VerifiedAt), ra.UpdatedAt.Unix(),
		null.NewString(ra.OfflineID, ra.OfflineID != ""), string(ra.SyncStatus), ra.CreatedAt, ra.UpdatedAt)
	if err != nil {
		return assessment.RapidAssessment{}, errors.Wrap(err, "creating assessment")
	}
	return ra, nil
}

func (repo *assessmentRepository) QueryAssessments(ctx context.Context, filter *assessment.QueryFilter, ordering []core.DBOrdering) ([]assessment.RapidAssessment, error) {
	var wb whereBuilder
	if filter != nil {
		if filter.Type != "" {
			wb.add(`type = ?`, string(filter.Type))
		}
		if filter.EntityID != "" {
			wb.add(`entity_id = ?`, filter.EntityID)
		}
		if filter.AssessorID != "" {
			wb.add(`assessor_id = ?`, filter.AssessorID)
		}
		if filter.Status != "" {
			wb.add(`verification_status = ?`, string(filter.Status))
		}
		if !filter.DateFrom.IsZero() {
			wb.add(`date >= ?`, filter.DateFrom)
		}
		if !filter.DateTo.IsZero() {
			wb.add(`date <= ?`, filter.DateTo)
		}
	}

	allowed := map[string]bool{"date": true, "type": true, "created_at": true, "verification_status": true}
	query := `SELECT ` + assessmentColumns + ` FROM rapid_assessment` + wb.clause() + orderClause(ordering, allowed, "date DESC")

	var rows []assessmentRow
	if err := repo.db.SelectContext(ctx, &rows, query, wb.args...); err != nil {
		return nil, errors.Wrap(err, "querying assessments")
	}
	return assessmentsFromRows(rows)
}

func assessmentsFromRows(rows []assessmentRow) ([]assessment.RapidAssessment, error) {
	ras := make([]assessment.RapidAssessment, 0, len(rows))
	for _, row := range rows {
		ra, err := row.toAssessment()
		if err != nil {
			return nil, err
		}
		ras = append(ras, ra)
	}
	return ras, nil
}

func (repo *assessmentRepository) getBy(ctx context.Context, cond string, args ...interface{}) (assessment.RapidAssessment, error) {
	var row assessmentRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+assessmentColumns+` FROM rapid_assessment WHERE `+cond, args...)
	if err == sql.ErrNoRows {
		return assessment.RapidAssessment{}, assessment.ErrNotFound
	} else if err != nil {
		return assessment.RapidAssessment{}, errors.Wrap(err, "getting assessment")
	}
	return row.toAssessment()
}

func (repo *assessmentRepository) GetAssessmentByID(ctx context.Context, id string) (assessment.RapidAssessment, error) {
	return repo.getBy(ctx, `id = $1`, id)
}

func (repo *assessmentRepository) GetAssessmentByOfflineID(ctx context.Context, offlineID string) (assessment.RapidAssessment, error) {
	return repo.getBy(ctx, `offline_id = $1`, offlineID)
}

func (repo *assessmentRepository) UpdateAssessment(ctx context.Context, ra assessment.RapidAssessment) (assessment.RapidAssessment, error) {
	coords, err := jsonColumn(orNil(ra.Coordinates))
	if err != nil {
		return assessment.RapidAssessment{}, err
	}
	flag, err := jsonColumn(orNil(ra.Incident))
	if err != nil {
		return assessment.RapidAssessment{}, err
	}

	// status_changed_at feeds the agents' pull watermark
	res, err := repo.db.ExecContext(ctx,
		`UPDATE rapid_assessment
		 SET type = $1, date = $2, coordinates = $3, data = $4, incident = $5, incident_id = $6,
		     media_ids = $7, verification_status = $8, verified_by = $9, verified_at = $10,
		     status_changed_at = $11, sync_status = $12, updated_at = $13
		 WHERE id = $14`,
		string(ra.Type), ra.Date, coords, []byte(ra.Data), flag, ra.IncidentID,
		pq.StringArray(ra.MediaIDs), string(ra.VerificationStatus), ra.VerifiedBy,
		null.TimeFromPtr(ra.VerifiedAt), ra.UpdatedAt.Unix(), string(ra.SyncStatus), ra.UpdatedAt, ra.ID)
	if err != nil {
		return assessment.RapidAssessment{}, errors.Wrap(err, "updating assessment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return assessment.RapidAssessment{}, assessment.ErrNotFound
	}
	return repo.GetAssessmentByID(ctx, ra.ID)
}

func (repo *assessmentRepository) CreateFeedback(ctx context.Context, fb assessment.Feedback) (assessment.Feedback, error) {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO assessment_feedback (id, assessment_id, reason, comments, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fb.ID, fb.AssessmentID, fb.Reason, fb.Comments, fb.CreatedBy, fb.CreatedAt)
	if err != nil {
		return assessment.Feedback{}, errors.Wrap(err, "creating feedback")
	}
	return fb, nil
}

func (repo *assessmentRepository) QueryFeedback(ctx context.Context, assessmentID string) ([]assessment.Feedback, error) {
	type feedbackRow struct {
		ID           string    `db:"id"`
		AssessmentID string    `db:"assessment_id"`
		Reason       string    `db:"reason"`
		Comments     string    `db:"comments"`
		CreatedBy    string    `db:"created_by"`
		CreatedAt    time.Time `db:"created_at"`
	}

	var rows []feedbackRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, assessment_id, reason, comments, created_by, created_at
		 FROM assessment_feedback WHERE assessment_id = $1 ORDER BY created_at DESC`, assessmentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying feedback")
	}
	fbs := make([]assessment.Feedback, 0, len(rows))
	for _, row := range rows {
		fbs = append(fbs, assessment.Feedback{
			ID:           row.ID,
			AssessmentID: row.AssessmentID,
			Reason:       row.Reason,
			Comments:     row.Comments,
			CreatedBy:    row.CreatedBy,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return fbs, nil
}

func (repo *assessmentRepository) QueryStatusChangesSince(ctx context.Context, since int64) ([]assessment.RapidAssessment, error) {
	var rows []assessmentRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+assessmentColumns+` FROM rapid_assessment
		 WHERE status_changed_at >= $1 AND verification_status <> 'PENDING'
		 ORDER BY status_changed_at ASC`, since)
	if err != nil {
		return nil, errors.Wrap(err, "querying status changes")
	}
	return assessmentsFromRows(rows)
}
