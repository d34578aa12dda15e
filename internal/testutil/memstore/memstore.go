// Package memstore is an in-memory credential store for tests. Transactions are
// serialized and roll back on error, which is enough to exercise the same races the
// PostgreSQL unique indexes settle.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"repohub/internal/domain/entity"
	domainerrors "repohub/internal/domain/errors"
	"repohub/internal/domain/repository"
)

type state struct {
	nextID  int64
	users   map[int64]entity.User
	byEmail map[string]int64
	revoked map[string]entity.RevokedToken
}

func (s *state) clone() *state {
	return &state{
		nextID:  s.nextID,
		users:   maps.Clone(s.users),
		byEmail: maps.Clone(s.byEmail),
		revoked: maps.Clone(s.revoked),
	}
}

// Store implements repository.TransactionManager and, for non-transactional use,
// repository.RepositoryFactory.
type Store struct {
	mu  sync.Mutex
	st  *state
	err error
	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st: &state{
			users:   make(map[int64]entity.User),
			byEmail: make(map[string]int64),
			revoked: make(map[string]entity.RevokedToken),
		},
		now: time.Now,
	}
}

// FailWith makes every subsequent operation return err. nil restores normal behavior.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// UserCount returns the number of stored users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.st.users)
}

// RevokedCount returns the number of revocation entries.
func (s *Store) RevokedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.st.revoked)
}

// DeleteUser removes a user, as an administrator would.
func (s *Store) DeleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.st.users[id]; ok {
		delete(s.st.byEmail, u.Email)
		delete(s.st.users, id)
	}
}

func (s *Store) UserRepo() repository.UserRepository {
	return &userRepo{s: s}
}

func (s *Store) RevokedTokenRepo() repository.RevokedTokenRepository {
	return &revokedTokenRepo{s: s}
}

// Execute holds the store lock for the whole callback and restores the snapshot on error.
func (s *Store) Execute(ctx context.Context, fn func(repository.RepositoryFactory) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}

	snapshot := s.st.clone()
	if err := fn(txFactory{s: s}); err != nil {
		s.st = snapshot

		return err
	}

	return nil
}

type txFactory struct {
	s *Store
}

func (f txFactory) UserRepo() repository.UserRepository {
	return &userRepo{s: f.s, inTx: true}
}

func (f txFactory) RevokedTokenRepo() repository.RevokedTokenRepository {
	return &revokedTokenRepo{s: f.s, inTx: true}
}

// run executes fn against the current state, taking the lock unless a transaction holds it.
func (s *Store) run(inTx bool, fn func(st *state) error) error {
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if s.err != nil {
		return s.err
	}

	return fn(s.st)
}

type userRepo struct {
	s    *Store
	inTx bool
}

func (r *userRepo) FindByID(_ context.Context, id int64) (*entity.User, error) {
	var found *entity.User
	err := r.s.run(r.inTx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrUserNotFound
		}
		found = &u

		return nil
	})

	return found, err
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	var found *entity.User
	err := r.s.run(r.inTx, func(st *state) error {
		id, ok := st.byEmail[email]
		if !ok {
			return repository.ErrUserNotFound
		}
		u := st.users[id]
		found = &u

		return nil
	})

	return found, err
}

func (r *userRepo) Create(_ context.Context, user *entity.User) error {
	return r.s.run(r.inTx, func(st *state) error {
		if _, taken := st.byEmail[user.Email]; taken {
			return domainerrors.ErrUserAlreadyExists.WrapMessage("email already exists")
		}

		st.nextID++
		user.ID = st.nextID
		if user.CreatedAt.IsZero() {
			user.CreatedAt = r.s.now()
		}
		st.users[user.ID] = *user
		st.byEmail[user.Email] = user.ID

		return nil
	})
}

type revokedTokenRepo struct {
	s    *Store
	inTx bool
}

func (r *revokedTokenRepo) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	return r.s.run(r.inTx, func(st *state) error {
		if _, ok := st.revoked[token]; ok {
			return repository.ErrTokenAlreadyRevoked
		}
		st.revoked[token] = entity.RevokedToken{
			TokenHash: token,
			RevokedAt: r.s.now(),
			ExpiresAt: expiresAt,
		}

		return nil
	})
}

func (r *revokedTokenRepo) IsRevoked(_ context.Context, token string) (bool, error) {
	var revoked bool
	err := r.s.run(r.inTx, func(st *state) error {
		_, revoked = st.revoked[token]

		return nil
	})

	return revoked, err
}

func (r *revokedTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.s.run(r.inTx, func(st *state) error {
		for key, entry := range st.revoked {
			if entry.ExpiresAt.Before(before) {
				delete(st.revoked, key)
				deleted++
			}
		}

		return nil
	})

	return deleted, err
}
