package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/user"
)

const userColumns = "id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login"

var userOrderings = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"is_active":  "is_active",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (row userRow) unpack() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username,
		Email:        row.Email,
		IsActive:     row.IsActive,
		Roles:        []string(row.Roles),
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		LastLogin:    row.LastLogin,
	}
	if usr.LastLogin.Valid {
		usr.LastLogin.Time = usr.LastLogin.Time.UTC()
	}
	return usr
}

type userRepository struct {
	repo
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{repo{db: db}}
}

func (r userRepository) CheckUniqueness(ctx context.Context, username, email, excludeID string, exec ...core.DBExecutor) error {
	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	q := `SELECT username, email FROM users
		WHERE ((username <> '' AND LOWER(username) = LOWER($1)) OR LOWER(email) = LOWER($2))
		AND ($3 = '' OR id::text <> $3)`
	if err := sqlx.SelectContext(ctx, r.getExec(exec), &rows, q, username, email, excludeID); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, row := range rows {
		if username != "" && strings.EqualFold(row.Username, username) {
			return user.ErrUsernameExists
		}
		if email != "" && strings.EqualFold(row.Email, email) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (r userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	q := `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :name, :username, :email, :is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packUser(usr)); err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		if isUniqueViolation(err, "users_username_key") {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func packUser(usr user.User) userRow {
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		IsActive:     usr.IsActive,
		Roles:        usr.Roles,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    usr.LastLogin,
	}
}

func userFilter(filter *user.QueryFilter) *where {
	w := &where{}
	if filter == nil {
		return w
	}
	// users with Name, Username or Email matching the search keyword
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add("(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)", val, val, val)
	}
	// users with any role that starts with any of the provided roles
	if len(filter.Roles) > 0 {
		conds := make([]string, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			conds = append(conds, "EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role ILIKE ?)")
			w.args = append(w.args, role+"%")
		}
		w.conds = append(w.conds, "("+strings.Join(conds, " OR ")+")")
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
	return w
}

func (r userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	w := userFilter(filter)
	q := "SELECT " + userColumns + " FROM users" + w.String() + orderBy(ordering, userOrderings, "created_at DESC")

	var rows []userRow
	e := r.getExec(exec)
	if err := sqlx.SelectContext(ctx, e, &rows, e.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.unpack())
	}
	return users, nil
}

func (r userRepository) CountUsers(ctx context.Context, filter *user.QueryFilter, exec ...core.DBExecutor) (int, error) {
	w := userFilter(filter)
	var n int
	e := r.getExec(exec)
	if err := sqlx.GetContext(ctx, e, &n, e.Rebind("SELECT COUNT(*) FROM users"+w.String()), w.args...); err != nil {
		return 0, errors.Wrap(err, "counting users")
	}
	return n, nil
}

func (r userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var (
		cond string
		args []interface{}
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		cond, args = "id = $1", []interface{}{filter.ID}
	case filter.Username != "":
		cond, args = "LOWER(username) = LOWER($1)", []interface{}{filter.Username}
	case filter.Email != "":
		cond, args = "LOWER(email) = LOWER($1)", []interface{}{filter.Email}
	case len(filter.UsernameOrEmail) > 0:
		uname := filter.UsernameOrEmail[0]
		email := uname
		if len(filter.UsernameOrEmail) == 2 && filter.UsernameOrEmail[1] != "" {
			email = filter.UsernameOrEmail[1]
		}
		if uname == "" {
			uname = email
		}
		if uname == "" {
			return user.User{}, user.ErrNotFound
		}
		cond, args = "((username <> '' AND LOWER(username) = LOWER($1)) OR LOWER(email) = LOWER($2))", []interface{}{uname, email}
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	q := fmt.Sprintf("SELECT %s FROM users WHERE %s LIMIT 1", userColumns, cond)
	if err := sqlx.GetContext(ctx, r.getExec(exec), &row, q, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return row.unpack(), nil
}

func (r userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	q := `UPDATE users SET name = :name, username = :username, email = :email, is_active = :is_active,
		roles = :roles, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.getExec(exec), q, packUser(usr))
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return user.User{}, user.ErrEmailExists
		}
		if isUniqueViolation(err, "users_username_key") {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (r userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return r.CreateUser(ctx, usr, exec...)
	}
	updated, err := r.UpdateUser(ctx, usr, exec...)
	if errors.Cause(err) == user.ErrNotFound {
		return r.CreateUser(ctx, usr, exec...)
	}
	return updated, err
}

func (r userRepository) SetLastLogin(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	now := core.UTCNow()
	if _, err := r.getExec(exec).ExecContext(ctx, "UPDATE users SET last_login = $1 WHERE id = $2", now, usr.ID); err != nil {
		return user.User{}, errors.Wrap(err, "setting last login")
	}
	usr.LastLogin = null.TimeFrom(now)
	return usr, nil
}

func (r userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	e := r.getExec(exec)
	if _, err = e.ExecContext(ctx, e.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (r userRepository) AdminIDs(ctx context.Context, exec ...core.DBExecutor) ([]string, error) {
	var ids []string
	q := `SELECT id FROM users WHERE is_active AND EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE $1)`
	if err := sqlx.SelectContext(ctx, r.getExec(exec), &ids, q, user.RoleAdmin+"%"); err != nil {
		return nil, errors.Wrap(err, "listing admins")
	}
	return ids, nil
}
