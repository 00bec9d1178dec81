package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolith-db/protolith/internal/kv"
	"github.com/protolith-db/protolith/internal/session"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := kv.Open(t.TempDir(), nil, kv.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(store, session.New(), "")
	require.NoError(t, err)
	return svc
}

func TestCreateUser_ThenLogin(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.CreateUser("protolith", "protolith"))

	token, err := svc.Login("protolith", "protolith")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.CreateUser("protolith", "protolith"))

	_, err := svc.Login("protolith", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownUser(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Login("ghost", "anything")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateUser_Duplicate(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.CreateUser("protolith", "protolith"))

	err := svc.CreateUser("protolith", "different")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestBootstrapUser_IsIdempotent(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.BootstrapUser("protolith", "protolith"))
	require.NoError(t, svc.BootstrapUser("protolith", "protolith"))

	token, err := svc.Login("protolith", "protolith")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestLogin_IssuesDistinctTokensEachTime(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.CreateUser("protolith", "protolith"))

	first, err := svc.Login("protolith", "protolith")
	require.NoError(t, err)
	second, err := svc.Login("protolith", "protolith")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
