// Package auth implements the Auth subsystem of spec.md §4.8: user
// records stored in a dedicated column family of the default database,
// bcrypt-verified login, and idempotent bootstrap of the configured
// default principal.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/protolith-db/protolith/internal/kv"
	"github.com/protolith-db/protolith/internal/session"
)

// UserCF is the default column family user records live in, within the
// default database's KV store (spec.md §6.3), overridable via
// PROTOLITH_METASTORE_USER (env.rs's DEFAULT_USER_CF_NAME, "user").
const UserCF = "user"

var (
	// ErrUserNotFound is returned by Login when no user record exists for
	// the given username.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrUserExists is returned by CreateUser when the username is taken.
	ErrUserExists = errors.New("auth: user already exists")
	// ErrInvalidCredentials is returned by Login on a password mismatch.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// userRecord is the persisted form of spec.md §3's User entity.
type userRecord struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// Service is the Auth subsystem: user records plus session issuance.
type Service struct {
	store    *kv.Store
	sessions *session.Store
	userCF   string
}

// NewService wraps the default database's KV store (ensuring userCF is
// open) and a session store as an auth Service. An empty userCF falls
// back to UserCF.
func NewService(store *kv.Store, sessions *session.Store, userCF string) (*Service, error) {
	if userCF == "" {
		userCF = UserCF
	}
	if err := store.EnsureColumnFamilies([]string{userCF}); err != nil {
		return nil, fmt.Errorf("auth: opening user column family: %w", err)
	}
	return &Service{store: store, sessions: sessions, userCF: userCF}, nil
}

// CreateUser registers a new user with a bcrypt-hashed password. It fails
// with ErrUserExists if the username is already registered.
func (s *Service) CreateUser(username, password string) error {
	_, err := s.store.Get(s.userCF, []byte(username))
	if err == nil {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hashing password: %w", err)
	}

	raw, err := json.Marshal(userRecord{Username: username, PasswordHash: string(hash)})
	if err != nil {
		return fmt.Errorf("auth: encoding user record: %w", err)
	}
	return s.store.Put(s.userCF, []byte(username), raw)
}

// BootstrapUser is CreateUser for the configured default principal at
// boot (spec.md §4.6 step 7): an already-existing user is left untouched
// instead of returning ErrUserExists.
func (s *Service) BootstrapUser(username, password string) error {
	err := s.CreateUser(username, password)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}

// Login verifies username/password against the stored bcrypt hash and,
// on success, mints a fresh session token (spec.md §4.8 Login).
func (s *Service) Login(username, password string) (string, error) {
	raw, err := s.store.Get(s.userCF, []byte(username))
	if errors.Is(err, kv.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, username)
	} else if err != nil {
		return "", err
	}

	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("auth: decoding user record for %s: %w", username, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return s.sessions.Insert(username), nil
}
