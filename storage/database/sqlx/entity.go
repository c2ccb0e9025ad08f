package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/entity"
)

type entityRow struct {
	ID               string      `db:"id"`
	Type             string      `db:"type"`
	Name             string      `db:"name"`
	LGA              string      `db:"lga"`
	Ward             string      `db:"ward"`
	Coordinates      []byte      `db:"coordinates"`
	CampDetails      []byte      `db:"camp_details"`
	CommunityDetails []byte      `db:"community_details"`
	OfflineID        null.String `db:"offline_id"`
	SyncStatus       string      `db:"sync_status"`
	CreatedBy        string      `db:"created_by"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (row entityRow) toEntity() (entity.AffectedEntity, error) {
	ent := entity.AffectedEntity{
		ID:         row.ID,
		Type:       entity.EntityType(row.Type),
		Name:       row.Name,
		LGA:        row.LGA,
		Ward:       row.Ward,
		OfflineID:  row.OfflineID.String,
		SyncStatus: core.SyncStatus(row.SyncStatus),
		CreatedBy:  row.CreatedBy,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if len(row.Coordinates) > 0 {
		ent.Coordinates = &entity.GPSCoordinates{}
		if err := fromJSONColumn(row.Coordinates, ent.Coordinates); err != nil {
			return ent, err
		}
	}
	if len(row.CampDetails) > 0 {
		ent.Camp = &entity.CampDetails{}
		if err := fromJSONColumn(row.CampDetails, ent.Camp); err != nil {
			return ent, err
		}
	}
	if len(row.CommunityDetails) > 0 {
		ent.Community = &entity.CommunityDetails{}
		if err := fromJSONColumn(row.CommunityDetails, ent.Community); err != nil {
			return ent, err
		}
	}
	return ent, nil
}

const entityColumns = `id, type, name, lga, ward, coordinates, camp_details, community_details, offline_id, sync_status, created_by, created_at, updated_at`

type entityRepository struct {
	db *sqlx.DB
}

func NewEntityRepository(db *sqlx.DB) entity.Repository {
	return &entityRepository{db: db}
}

func (repo *entityRepository) CreateEntity(ctx context.Context, ent entity.AffectedEntity) (entity.AffectedEntity, error) {
	coords, err := jsonColumn(orNil(ent.Coordinates))
	if err != nil {
		return entity.AffectedEntity{}, err
	}
	camp, err := jsonColumn(orNil(ent.Camp))
	if err != nil {
		return entity.AffectedEntity{}, err
	}
	comm, err := jsonColumn(orNil(ent.Community))
	if err != nil {
		return entity.AffectedEntity{}, err
	}

	_, err = repo.db.ExecContext(ctx,
		`INSERT INTO affected_entity (`+entityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ent.ID, string(ent.Type), ent.Name, ent.LGA, ent.Ward, coords, camp, comm,
		null.NewString(ent.OfflineID, ent.OfflineID != ""), string(ent.SyncStatus),
		ent.CreatedBy, ent.CreatedAt, ent.UpdatedAt)
	if err != nil {
		return entity.AffectedEntity{}, errors.Wrap(err, "creating entity")
	}
	return ent, nil
}

func (repo *entityRepository) QueryEntities(ctx context.Context, filter *entity.QueryFilter, ordering []core.DBOrdering) ([]entity.AffectedEntity, error) {
	var wb whereBuilder
	if filter != nil {
		if filter.Search != "" {
			wb.add(`(name ILIKE ? OR ward ILIKE ?)`, "%"+filter.Search+"%", "%"+filter.Search+"%")
		}
		if filter.Type != "" {
			wb.add(`type = ?`, string(filter.Type))
		}
		if filter.LGA != "" {
			wb.add(`lga = ?`, filter.LGA)
		}
	}

	allowed := map[string]bool{"name": true, "lga": true, "created_at": true, "updated_at": true}
	query := `SELECT ` + entityColumns + ` FROM affected_entity` + wb.clause() + orderClause(ordering, allowed, "name ASC")

	var rows []entityRow
	if err := repo.db.SelectContext(ctx, &rows, query, wb.args...); err != nil {
		return nil, errors.Wrap(err, "querying entities")
	}
	ents := make([]entity.AffectedEntity, 0, len(rows))
	for _, row := range rows {
		ent, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		ents = append(ents, ent)
	}
	return ents, nil
}

func (repo *entityRepository) getBy(ctx context.Context, cond string, args ...interface{}) (entity.AffectedEntity, error) {
	var row entityRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+entityColumns+` FROM affected_entity WHERE `+cond, args...)
	if err == sql.ErrNoRows {
		return entity.AffectedEntity{}, entity.ErrNotFound
	} else if err != nil {
		return entity.AffectedEntity{}, errors.Wrap(err, "getting entity")
	}
	return row.toEntity()
}

func (repo *entityRepository) GetEntityByID(ctx context.Context, id string) (entity.AffectedEntity, error) {
	return repo.getBy(ctx, `id = $1`, id)
}

func (repo *entityRepository) GetEntityByOfflineID(ctx context.Context, offlineID string) (entity.AffectedEntity, error) {
	return repo.getBy(ctx, `offline_id = $1`, offlineID)
}

func (repo *entityRepository) UpdateEntity(ctx context.Context, ent entity.AffectedEntity) (entity.AffectedEntity, error) {
	coords, err := jsonColumn(orNil(ent.Coordinates))
	if err != nil {
		return entity.AffectedEntity{}, err
	}
	camp, err := jsonColumn(orNil(ent.Camp))
	if err != nil {
		return entity.AffectedEntity{}, err
	}
	comm, err := jsonColumn(orNil(ent.Community))
	if err != nil {
		return entity.AffectedEntity{}, err
	}

	res, err := repo.db.ExecContext(ctx,
		`UPDATE affected_entity
		 SET name = $1, lga = $2, ward = $3, coordinates = $4, camp_details = $5,
		     community_details = $6, sync_status = $7, updated_at = $8
		 WHERE id = $9`,
		ent.Name, ent.LGA, ent.Ward, coords, camp, comm,
		string(ent.SyncStatus), ent.UpdatedAt, ent.ID)
	if err != nil {
		return entity.AffectedEntity{}, errors.Wrap(err, "updating entity")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.AffectedEntity{}, entity.ErrNotFound
	}
	return repo.GetEntityByID(ctx, ent.ID)
}
