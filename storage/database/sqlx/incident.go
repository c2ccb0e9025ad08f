package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/incident"
)

type incidentRow struct {
	ID                 string         `db:"id"`
	Type               string         `db:"type"`
	Severity           string         `db:"severity"`
	Status             string         `db:"status"`
	Name               string         `db:"name"`
	Description        string         `db:"description"`
	AffectedPersons    int            `db:"affected_persons"`
	AffectedHouseholds int            `db:"affected_households"`
	EntityIDs          pq.StringArray `db:"entity_ids"`
	AssessmentIDs      pq.StringArray `db:"assessment_ids"`
	Timeline           []byte         `db:"timeline"`
	CreatedBy          string         `db:"created_by"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (row incidentRow) toIncident() (incident.Incident, error) {
	inc := incident.Incident{
		ID:                 row.ID,
		Type:               incident.IncidentType(row.Type),
		Severity:           incident.Severity(row.Severity),
		Status:             incident.Status(row.Status),
		Name:               row.Name,
		Description:        row.Description,
		AffectedPersons:    row.AffectedPersons,
		AffectedHouseholds: row.AffectedHouseholds,
		EntityIDs:          row.EntityIDs,
		AssessmentIDs:      row.AssessmentIDs,
		CreatedBy:          row.CreatedBy,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
	return inc, fromJSONColumn(row.Timeline, &inc.Timeline)
}

const incidentColumns = `id, type, severity, status, name, description, affected_persons, affected_households,
	entity_ids, assessment_ids, timeline, created_by, created_at, updated_at`

type incidentRepository struct {
	db *sqlx.DB
}

func NewIncidentRepository(db *sqlx.DB) incident.Repository {
	return &incidentRepository{db: db}
}

func (repo *incidentRepository) CreateIncident(ctx context.Context, inc incident.Incident) (incident.Incident, error) {
	timeline, err := jsonColumn(inc.Timeline)
	if err != nil {
		return incident.Incident{}, err
	}

	_, err = repo.db.ExecContext(ctx,
		`INSERT INTO incident (`+incidentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inc.ID, string(inc.Type), string(inc.Severity), string(inc.Status), inc.Name, inc.Description,
		inc.AffectedPersons, inc.AffectedHouseholds, pq.StringArray(inc.EntityIDs),
		pq.StringArray(inc.AssessmentIDs), timeline, inc.CreatedBy, inc.CreatedAt, inc.UpdatedAt)
	if err != nil {
		return incident.Incident{}, errors.Wrap(err, "creating incident")
	}
	return inc, nil
}

func (repo *incidentRepository) QueryIncidents(ctx context.Context, filter *incident.QueryFilter, ordering []core.DBOrdering) ([]incident.Incident, error) {
	var wb whereBuilder
	if filter != nil {
		if filter.Type != "" {
			wb.add(`type = ?`, string(filter.Type))
		}
		if filter.Severity != "" {
			wb.add(`severity = ?`, string(filter.Severity))
		}
		if filter.Status != "" {
			wb.add(`status = ?`, string(filter.Status))
		}
		if filter.EntityID != "" {
			wb.add(`? = ANY(entity_ids)`, filter.EntityID)
		}
	}

	allowed := map[string]bool{"severity": true, "status": true, "created_at": true, "updated_at": true}
	query := `SELECT ` + incidentColumns + ` FROM incident` + wb.clause() + orderClause(ordering, allowed, "created_at DESC")

	var rows []incidentRow
	if err := repo.db.SelectContext(ctx, &rows, query, wb.args...); err != nil {
		return nil, errors.Wrap(err, "querying incidents")
	}
	incs := make([]incident.Incident, 0, len(rows))
	for _, row := range rows {
		inc, err := row.toIncident()
		if err != nil {
			return nil, err
		}
		incs = append(incs, inc)
	}
	return incs, nil
}

func (repo *incidentRepository) GetIncidentByID(ctx context.Context, id string) (incident.Incident, error) {
	var row incidentRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+incidentColumns+` FROM incident WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return incident.Incident{}, incident.ErrNotFound
	} else if err != nil {
		return incident.Incident{}, errors.Wrap(err, "getting incident")
	}
	return row.toIncident()
}

func (repo *incidentRepository) UpdateIncident(ctx context.Context, inc incident.Incident) (incident.Incident, error) {
	timeline, err := jsonColumn(inc.Timeline)
	if err != nil {
		return incident.Incident{}, err
	}

	res, err := repo.db.ExecContext(ctx,
		`UPDATE incident
		 SET severity = $1, status = $2, name = $3, description = $4, affected_persons = $5,
		     affected_households = $6, entity_ids = $7, assessment_ids = $8, timeline = $9, updated_at = $10
		 WHERE id = $11`,
		string(inc.Severity), string(inc.Status), inc.Name, inc.Description, inc.AffectedPersons,
		inc.AffectedHouseholds, pq.StringArray(inc.EntityIDs), pq.StringArray(inc.AssessmentIDs),
		timeline, inc.UpdatedAt, inc.ID)
	if err != nil {
		return incident.Incident{}, errors.Wrap(err, "updating incident")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return incident.Incident{}, incident.ErrNotFound
	}
	return repo.GetIncidentByID(ctx, inc.ID)
}
