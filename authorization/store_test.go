package authorization

import (
	"context"
	"path/filepath"
	"testing"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardnova_back/database"
)

func newTestAuth(t *testing.T) (*AuthService, *UserStore) {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "auth_test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &Role{}, &UserRole{}))

	store := &UserStore{db: db}
	return &AuthService{users: store}, store
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service, _ := newTestAuth(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "alice", "s3cret-pass", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice", user.DisplayName)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	authed, err := service.Authenticate(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
	assert.Empty(t, authed.Roles)

	_, err = service.Authenticate(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, jwt.ErrFailedAuthentication)

	_, err = service.Authenticate(ctx, "nobody", "s3cret-pass")
	assert.ErrorIs(t, err, jwt.ErrFailedAuthentication)
}

func TestRegisterValidation(t *testing.T) {
	service, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "bob", "short", "")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = service.Register(ctx, "", "long-enough", "")
	assert.ErrorIs(t, err, jwt.ErrMissingLoginValues)

	_, err = service.Register(ctx, "carol", "long-enough", "")
	require.NoError(t, err)
	_, err = service.Register(ctx, "carol", "long-enough", "")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestGrantRoleByCode(t *testing.T) {
	service, store := newTestAuth(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "dave", "long-enough", "Dave")
	require.NoError(t, err)

	assigned, err := store.GrantRoleByCode(ctx, user.ID, "admin")
	require.NoError(t, err)
	assert.True(t, assigned)

	// A second grant is idempotent.
	assigned, err = store.GrantRoleByCode(ctx, user.ID, "admin")
	require.NoError(t, err)
	assert.False(t, assigned)

	roles, err := store.FindRoleNames(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, roles)
}

func TestUpdateDisplayName(t *testing.T) {
	service, store := newTestAuth(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "erin", "long-enough", "Erin")
	require.NoError(t, err)

	updated, err := store.UpdateDisplayName(ctx, user.ID, "  Erin W.  ")
	require.NoError(t, err)
	assert.Equal(t, "Erin W.", updated.DisplayName)

	_, err = store.UpdateDisplayName(ctx, user.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidDisplayName)
}
