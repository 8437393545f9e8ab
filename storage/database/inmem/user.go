package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, copyUser(*u))
	}
	return users
}

func copyUser(usr user.User) user.User {
	usr.Roles = append([]string(nil), usr.Roles...)
	return usr
}

func (repo *userRepository) CheckUniqueness(_ context.Context, username, email, excludeID string, _ ...core.DBExecutor) error {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.checkUniqueness(username, email, excludeID)
}

func (repo *userRepository) checkUniqueness(username, email, excludeID string) error {
	for _, usr := range repo.db.table {
		if usr.ID == excludeID {
			continue
		}
		if username != "" && strings.EqualFold(usr.Username, username) {
			return user.ErrUsernameExists
		}
		if email != "" && strings.EqualFold(usr.Email, email) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if err := repo.checkUniqueness(usr.Username, usr.Email, ""); err != nil {
		return user.User{}, err
	}
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	usr = copyUser(usr)
	repo.db.table[usr.ID] = &usr
	return copyUser(usr), nil
}

func matchUser(usr user.User, filter *user.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(usr.Name), s) &&
			!strings.Contains(strings.ToLower(usr.Username), s) &&
			!strings.Contains(strings.ToLower(usr.Email), s) {
			return false
		}
	}
	if len(filter.Roles) > 0 {
		var found bool
		for _, role := range filter.Roles {
			if usr.RoleStartsWith(role) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.query() {
		if matchUser(usr, filter) {
			users = append(users, usr)
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sortUsers(users, ordering)
	return users, nil
}

func sortUsers(users []user.User, ordering []core.DBOrdering) {
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := users[i], users[j]
			if !ord.Ascending {
				a, b = b, a
			}
			var cmp int
			switch ord.Field {
			case "name":
				cmp = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
			case "username":
				cmp = strings.Compare(a.Username, b.Username)
			case "email":
				cmp = strings.Compare(a.Email, b.Email)
			case "is_active":
				cmp = compareBool(a.IsActive, b.IsActive)
			case "created_at":
				cmp = a.CreatedAt.Compare(b.CreatedAt)
			case "last_login":
				cmp = a.LastLogin.Time.Compare(b.LastLogin.Time)
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func (repo *userRepository) CountUsers(ctx context.Context, filter *user.QueryFilter, _ ...core.DBExecutor) (int, error) {
	users, err := repo.QueryUsers(ctx, filter, nil)
	return len(users), err
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, _ ...core.DBExecutor) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			return copyUser(*usr), nil
		}
		return user.User{}, user.ErrNotFound
	}

	match := func(usr user.User) bool { return false }
	switch {
	case filter.Username != "":
		match = func(usr user.User) bool { return strings.EqualFold(usr.Username, filter.Username) }
	case filter.Email != "":
		match = func(usr user.User) bool { return strings.EqualFold(usr.Email, filter.Email) }
	case len(filter.UsernameOrEmail) > 0:
		uname := filter.UsernameOrEmail[0]
		email := uname
		if len(filter.UsernameOrEmail) == 2 && filter.UsernameOrEmail[1] != "" {
			email = filter.UsernameOrEmail[1]
		}
		match = func(usr user.User) bool {
			return (uname != "" && usr.Username != "" && strings.EqualFold(usr.Username, uname)) ||
				(email != "" && strings.EqualFold(usr.Email, email))
		}
	}
	for _, usr := range repo.query() {
		if match(usr) {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	if err := repo.checkUniqueness(usr.Username, usr.Email, usr.ID); err != nil {
		return user.User{}, err
	}
	usr = copyUser(usr)
	repo.db.table[usr.ID] = &usr
	return copyUser(usr), nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	repo.db.RLock()
	_, ok := repo.db.table[usr.ID]
	repo.db.RUnlock()

	if ok {
		return repo.UpdateUser(ctx, usr, exec...)
	}
	return repo.CreateUser(ctx, usr, exec...)
}

func (repo *userRepository) SetLastLogin(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	stored.LastLogin.SetValid(core.UTCNow())
	return copyUser(*stored), nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids []string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.table, id)
	}
	return nil
}

func (repo *userRepository) AdminIDs(_ context.Context, _ ...core.DBExecutor) ([]string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var ids []string
	for _, usr := range repo.db.table {
		if usr.IsActive && usr.IsAdmin() {
			ids = append(ids, usr.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
