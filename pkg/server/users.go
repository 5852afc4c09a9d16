package server

import (
	"context"
	"time"

	"github.com/flowdrop/flowdrop/pkg/protocol"
	"github.com/flowdrop/flowdrop/pkg/session"
	"github.com/flowdrop/flowdrop/pkg/store"
)

// lookupTimeout bounds store calls made from session actors so a slow
// database cannot wedge a connection's read loop.
const lookupTimeout = 5 * time.Second

// userStore adapts the database store to the session engine's view of
// accounts.
type userStore struct {
	store *store.Store
}

// NewUserStore wraps a database store as a session.UserStore.
func NewUserStore(s *store.Store) session.UserStore {
	return userStore{store: s}
}

func (a userStore) Lookup(username string) (session.Account, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	user, err := a.store.GetUserByName(ctx, username)
	if err != nil {
		return session.Account{}, err
	}
	return session.Account{
		Token:  user.Token,
		Type:   user.Type(),
		Config: user.UserConfig(),
	}, nil
}

func (a userStore) SaveConfig(username string, cfg protocol.UserConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	return a.store.UpdateUserConfig(ctx, username, cfg)
}

func (a userStore) TouchLastLogin(username string) error {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	return a.store.UpdateLastLogin(ctx, username, time.Now())
}
