package users

import (
	"context"
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/authz"
	"github.com/taskscope/taskscope/pkg/observability"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Every pool connection to :memory: is a distinct database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'guest',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)

	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := setupTestDB(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(db, auth.NewPasswordManager(), logger)
}

func identityFor(userID int64, role auth.Role) authz.Identity {
	return authz.Identity{UserID: userID, Role: role, Authenticated: true}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "Sup3rSecret",
		Role:     auth.RoleProjectOwner,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email, "emails are normalized")
	assert.True(t, user.IsActive)

	got, err := svc.Authenticate(ctx, "alice@example.com", "Sup3rSecret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "Sup3rSecret")
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "", Email: "a@b.c", Password: "Sup3rSecret"})
	assert.ErrorIs(t, err, authz.ErrValidation)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@b.c", Password: "weak"})
	assert.ErrorIs(t, err, authz.ErrValidation)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@b.c", Password: "Sup3rSecret", Role: "emperor"})
	assert.ErrorIs(t, err, authz.ErrValidation)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@b.c", Password: "Sup3rSecret"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice2", Email: "a@b.c", Password: "Sup3rSecret"})
	assert.ErrorIs(t, err, authz.ErrValidation)
}

func TestUpdateRoleGates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@b.c", Password: "Sup3rSecret"})
	require.NoError(t, err)
	admin, err := svc.Register(ctx, RegisterInput{Username: "root", Email: "root@b.c", Password: "Sup3rSecret", Role: auth.RoleAdmin})
	require.NoError(t, err)

	t.Run("self edit of name fields", func(t *testing.T) {
		first := "Alice"
		got, err := svc.Update(ctx, identityFor(alice.ID, auth.RoleGuest), alice.ID, UpdateInput{FirstName: &first})
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.FirstName)
	})

	t.Run("self role change rejected", func(t *testing.T) {
		role := auth.RoleAdmin
		_, err := svc.Update(ctx, identityFor(alice.ID, auth.RoleGuest), alice.ID, UpdateInput{Role: &role})
		assert.ErrorIs(t, err, authz.ErrForbidden)
	})

	t.Run("editing another account rejected", func(t *testing.T) {
		first := "Mallory"
		_, err := svc.Update(ctx, identityFor(alice.ID, auth.RoleGuest), admin.ID, UpdateInput{FirstName: &first})
		assert.ErrorIs(t, err, authz.ErrForbidden)
	})

	t.Run("admin changes role", func(t *testing.T) {
		role := auth.RoleProjectOwner
		got, err := svc.Update(ctx, identityFor(admin.ID, auth.RoleAdmin), alice.ID, UpdateInput{Role: &role})
		require.NoError(t, err)
		assert.Equal(t, auth.RoleProjectOwner, got.Role)
	})
}

func TestDeactivate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@b.c", Password: "Sup3rSecret"})
	require.NoError(t, err)
	admin, err := svc.Register(ctx, RegisterInput{Username: "root", Email: "root@b.c", Password: "Sup3rSecret", Role: auth.RoleAdmin})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Deactivate(ctx, identityFor(alice.ID, auth.RoleGuest), alice.ID), authz.ErrForbidden)

	require.NoError(t, svc.Deactivate(ctx, identityFor(admin.ID, auth.RoleAdmin), alice.ID))

	_, err = svc.Authenticate(ctx, "a@b.c", "Sup3rSecret")
	assert.ErrorIs(t, err, authz.ErrUnauthenticated, "deactivated accounts cannot log in")

	list, err := svc.List(ctx, identityFor(admin.ID, auth.RoleAdmin))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "root", list[0].Username)

	assert.ErrorIs(t, svc.Deactivate(ctx, identityFor(admin.ID, auth.RoleAdmin), 404), authz.ErrNotFound)
}
