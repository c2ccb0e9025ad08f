package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/user"
)

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	Phone        string         `db:"phone"`
	Organization string         `db:"organization"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username,
		Email:        row.Email,
		Phone:        row.Phone,
		Organization: row.Organization,
		IsActive:     &row.IsActive,
		Roles:        row.Roles,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time.UTC()
	}
	return usr
}

const userColumns = `id, name, username, email, phone, organization, is_active, roles, password_hash, created_at, updated_at, last_login`

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	exclIDs := make(pq.StringArray, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		exclIDs = append(exclIDs, usr.ID)
	}

	var rows []userRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+userColumns+` FROM "user" WHERE (username = $1 OR email = $2) AND NOT (id::text = ANY($3))`,
		username, email, exclIDs)
	if err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	for _, row := range rows {
		if username != "" && row.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && row.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	isActive := usr.IsActive == nil || *usr.IsActive

	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO "user" (id, name, username, email, phone, organization, is_active, roles, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		usr.ID, usr.Name, usr.Username, usr.Email, usr.Phone, usr.Organization,
		isActive, pq.StringArray(usr.Roles), usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt)
	if err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var wb whereBuilder
	if filter != nil {
		if filter.Search != "" {
			pat := "%" + filter.Search + "%"
			wb.add(`(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)`, pat, pat, pat)
		}
		if len(filter.Roles) > 0 {
			wb.add(`roles && ?`, pq.StringArray(filter.Roles))
		}
		if filter.IsActive != nil {
			wb.add(`is_active = ?`, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			wb.add(`created_at >= ?`, filter.CreatedFrom)
		}
		if !filter.CreatedTo.IsZero() {
			wb.add(`created_at <= ?`, filter.CreatedTo)
		}
	}

	allowed := map[string]bool{"name": true, "username": true, "email": true, "created_at": true, "last_login": true}
	query := `SELECT ` + userColumns + ` FROM "user"` + wb.clause() + orderClause(ordering, allowed, "created_at DESC")

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, query, wb.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) getBy(ctx context.Context, cond string, args ...interface{}) (user.User, error) {
	var row userRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM "user" WHERE `+cond, args...)
	if err == sql.ErrNoRows {
		return user.User{}, user.ErrNotFound
	} else if err != nil {
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getBy(ctx, `id = $1`, id)
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, `username = $1`, username)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getBy(ctx, `email = $1`, email)
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, `username = $1 OR email = $1`, username)
}

// UpdateUser writes the provided fields; a nil password hash keeps the stored
// one, a nil isActive keeps the stored flag, a zero LastLogin keeps the stamp.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	var wb whereBuilder
	wb.add(`name = ?`, usr.Name)
	wb.add(`username = ?`, usr.Username)
	wb.add(`email = ?`, usr.Email)
	wb.add(`phone = ?`, usr.Phone)
	wb.add(`organization = ?`, usr.Organization)
	wb.add(`updated_at = ?`, usr.UpdatedAt)
	if usr.Roles != nil {
		wb.add(`roles = ?`, pq.StringArray(usr.Roles))
	}
	if usr.PasswordHash != nil {
		wb.add(`password_hash = ?`, usr.PasswordHash)
	}
	if isActive != nil {
		wb.add(`is_active = ?`, *isActive)
	}
	if !usr.LastLogin.IsZero() {
		wb.add(`last_login = ?`, usr.LastLogin)
	}

	wb.args = append(wb.args, usr.ID)
	query := `UPDATE "user" SET ` + joinConds(wb.conds) + fmt.Sprintf(` WHERE id = $%d`, len(wb.args))
	res, err := repo.db.ExecContext(ctx, query, wb.args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.db.ExecContext(ctx, `DELETE FROM "user" WHERE id::text = ANY($1)`, pq.StringArray(ids))
	return errors.Wrap(err, "deleting users")
}
