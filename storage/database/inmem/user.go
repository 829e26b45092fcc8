package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil)

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
	usr.Roles = append([]string{}, usr.Roles...)
	usr.PasswordHash = append([]byte(nil), usr.PasswordHash...)
	return usr
}

func (repo *userRepository) checkUniqueness(tenantID, username, email string, excludedIDs ...string) error {
	for _, usr := range repo.db.table {
		if usr.TenantID != tenantID || contains(excludedIDs, usr.ID) {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CheckUniqueness(_ context.Context, tenantID, username, email string, excludedIDs ...string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.checkUniqueness(tenantID, username, email, excludedIDs...)
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if err := repo.checkUniqueness(usr.TenantID, usr.Username, usr.Email); err != nil {
		return user.User{}, err
	}
	usr.ID = newID()
	usr = copyUser(usr)
	repo.db.table[usr.ID] = &usr
	return copyUser(usr), nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.query() {
		if filter != nil {
			if filter.TenantID != "" && usr.TenantID != filter.TenantID {
				continue
			}
			if filter.Search != "" && !matches(filter.Search, usr.Name, usr.Username, usr.Email) {
				continue
			}
			if len(filter.Roles) > 0 && !hasRolePrefix(usr.Roles, filter.Roles) {
				continue
			}
			if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
				continue
			}
			if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
				continue
			}
			if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
				continue
			}
		}
		users = append(users, usr)
	}

	sortSlice(users, ordering, comparers{
		"name":       func(i, j int) int { return strings.Compare(users[i].Name, users[j].Name) },
		"username":   func(i, j int) int { return strings.Compare(users[i].Username, users[j].Username) },
		"email":      func(i, j int) int { return strings.Compare(users[i].Email, users[j].Email) },
		"is_active":  func(i, j int) int { return cmpBool(users[i].IsActive, users[j].IsActive) },
		"created_at": func(i, j int) int { return users[i].CreatedAt.Compare(users[j].CreatedAt) },
		"last_login": func(i, j int) int { return users[i].LastLogin.Compare(users[j].LastLogin) },
	}, core.DBOrdering{Field: "created_at"})
	return users, nil
}

// hasRolePrefix reports whether any of `roles` starts with any of `prefixes`.
func hasRolePrefix(roles, prefixes []string) bool {
	for _, role := range roles {
		for _, prefix := range prefixes {
			if strings.HasPrefix(role, prefix) {
				return true
			}
		}
	}
	return false
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			return copyUser(*usr), nil
		}
		return user.User{}, user.ErrNotFound
	}
	if filter.UsernameOrEmail == "" {
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.db.table {
		if usr.TenantID != filter.TenantID {
			continue
		}
		if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
			return copyUser(*usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if err := repo.checkUniqueness(usr.TenantID, usr.Username, usr.Email, usr.ID); err != nil {
		return user.User{}, err
	}
	// credit only changes through AddCredit
	usr.Credit = orig.Credit
	usr = copyUser(usr)
	repo.db.table[usr.ID] = &usr
	return copyUser(usr), nil
}

func (repo *userRepository) AddCredit(_ context.Context, id string, delta int64) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr, ok := repo.db.table[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.Credit+delta < 0 {
		return user.User{}, user.ErrInsufficientCredit
	}
	usr.Credit += delta
	return copyUser(*usr), nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, tenantID string, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var deleted int
	for _, id := range ids {
		if usr, ok := repo.db.table[id]; ok && usr.TenantID == tenantID {
			delete(repo.db.table, id)
			deleted++
		}
	}
	return deleted, nil
}
