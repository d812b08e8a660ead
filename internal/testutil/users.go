// Package testutil provides in-memory stand-ins for the store and storage
// layers so services and handlers can be tested without external systems.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lugares/apiserver/internal/store"
	"github.com/lugares/apiserver/types"
)

// Users is an in-memory user repository. Role labels are stored raw, like
// the user_roles table, so tests can seed legacy or broken records.
type Users struct {
	mu    sync.Mutex
	users map[string]types.User
	roles map[string]string

	// Err, when set, is returned by every call.
	Err error
}

func NewUsers() *Users {
	return &Users{
		users: make(map[string]types.User),
		roles: make(map[string]string),
	}
}

func (u *Users) GetByUID(ctx context.Context, uid string) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	user, ok := u.users[uid]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (u *Users) GetByEmail(ctx context.Context, email string) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range u.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (u *Users) GetRole(ctx context.Context, uid string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return "", u.Err
	}
	label, ok := u.roles[uid]
	if !ok {
		return "", store.ErrNotFound
	}
	return label, nil
}

func (u *Users) CreateWithRole(ctx context.Context, user types.User, role types.Role) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	if user.UID == "" {
		user.UID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, existing := range u.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	u.users[user.UID] = user
	u.roles[user.UID] = role.String()
	return user, nil
}

func (u *Users) Update(ctx context.Context, user types.User) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	if _, ok := u.users[user.UID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for uid, existing := range u.users {
		if uid != user.UID && existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.UpdatedAt = time.Now().UTC()
	u.users[user.UID] = user
	return user, nil
}

// Seed stores user with a raw role label. An empty label stores no role record.
func (u *Users) Seed(user types.User, roleLabel string) types.User {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user.UID == "" {
		user.UID = uuid.NewString()
	}
	user.Email = strings.ToLower(user.Email)
	u.users[user.UID] = user
	if roleLabel != "" {
		u.roles[user.UID] = roleLabel
	}
	return user
}
