package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

const userColumns = `id, tenant_id, name, username, email, is_active, roles, credit, password_hash,
	created_at, updated_at, last_login`

type userRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	Name         string         `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	Credit       int64          `db:"credit"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func newUserRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		TenantID:     usr.TenantID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        roles,
		Credit:       usr.Credit,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (r userRow) user() user.User {
	return user.User{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive,
		Roles:        []string(r.Roles),
		Credit:       r.Credit,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    r.LastLogin.Time.UTC(),
	}
}

type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{base{db: db}}
}

// trapUniqueErr maps the unique constraints of users to their errors.
func (repo userRepository) trapUniqueErr(err error, msg string) error {
	switch {
	case isUniqueViolation(err, "users_tenant_username_key"):
		return user.ErrUsernameExists
	case isUniqueViolation(err, "users_tenant_email_key"):
		return user.ErrEmailExists
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUniqueness(ctx context.Context, tenantID, username, email string, excludedIDs ...string) error {
	if !validUUID(tenantID) || (username == "" && email == "") {
		return nil
	}

	var w where
	w.add("tenant_id = ?", tenantID)
	w.add("(username = ? OR email = ?)", username, email)
	if excl := validUUIDs(excludedIDs); len(excl) > 0 {
		w.add("id NOT IN (?)", excl)
	}

	var rows []userRow
	if err := repo.selectIn(ctx, &rows, "SELECT "+userColumns+" FROM users"+w.String(), w.args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if username != "" && r.Username.String == username {
			return user.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = newID()
	row := newUserRow(usr)
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (
		:id, :tenant_id, :name, :username, :email, :is_active, :roles, :credit, :password_hash,
		:created_at, :updated_at, :last_login)`, row)
	if err != nil {
		return user.User{}, repo.trapUniqueErr(err, "inserting user")
	}
	return row.user(), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var w where
	if filter != nil {
		if filter.TenantID != "" {
			w.add("tenant_id = ?", filter.TenantID)
		}
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)", val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			patterns := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				patterns = append(patterns, role+"%")
			}
			w.add("EXISTS (SELECT 1 FROM unnest(roles) user_role WHERE user_role LIKE ANY (?))", pq.Array(patterns))
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	q := "SELECT " + userColumns + " FROM users" + w.String() + " ORDER BY " + core.OrderByClause(ordering, "created_at DESC")
	var rows []userRow
	if err := repo.selectIn(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var w where
	switch {
	case filter.ID != "":
		if !validUUID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.UsernameOrEmail != "":
		if !validUUID(filter.TenantID) {
			return user.User{}, user.ErrNotFound
		}
		w.add("tenant_id = ?", filter.TenantID)
		w.add("(username = ? OR email = ?)", filter.UsernameOrEmail, filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	err := repo.db.GetContext(ctx, &row, repo.db.Rebind("SELECT "+userColumns+" FROM users"+w.String()+" LIMIT 1"), w.args...)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user")
	}
	return row.user(), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := newUserRow(usr)
	res, err := repo.db.NamedExecContext(ctx, `UPDATE users SET
		name = :name, username = :username, email = :email, is_active = :is_active, roles = :roles,
		password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`, row)
	if err != nil {
		return user.User{}, repo.trapUniqueErr(err, "updating user")
	}
	if err = checkAffected(res, user.ErrNotFound); err != nil {
		return user.User{}, err
	}
	return row.user(), nil
}

func (repo userRepository) AddCredit(ctx context.Context, id string, delta int64) (user.User, error) {
	if !validUUID(id) {
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	err := repo.db.GetContext(ctx, &row, `UPDATE users SET credit = credit + $1, updated_at = $2
		WHERE id = $3 AND credit + $1 >= 0
		RETURNING `+userColumns, delta, time.Now().UTC(), id)
	if err == nil {
		return row.user(), nil
	}
	if errors.Cause(err) != sql.ErrNoRows {
		return user.User{}, errors.Wrap(err, "adding credit")
	}

	// either the user is unknown or the balance is too low
	if _, err = repo.GetUser(ctx, user.GetFilter{ID: id}); err != nil {
		return user.User{}, err
	}
	return user.User{}, user.ErrInsufficientCredit
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, tenantID string, ids ...string) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 || !validUUID(tenantID) {
		return 0, nil
	}
	res, err := repo.execIn(ctx, "DELETE FROM users WHERE tenant_id = ? AND id IN (?)", tenantID, ids)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, user.ErrHasHistory
		}
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "getting affected rows")
}
