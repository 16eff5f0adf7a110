package projects

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
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
			username TEXT NOT NULL
		);

		CREATE TABLE projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			owner_id INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE project_members (
			project_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (project_id, user_id)
		);

		CREATE TABLE tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_date TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'todo',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE task_assignees (
			task_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (task_id, user_id)
		);

		CREATE TABLE tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);

		CREATE TABLE task_tags (
			task_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY (task_id, tag_id)
		);

		CREATE TABLE comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL,
			author_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (id, username) VALUES (1, 'alice'), (2, 'bob'), (3, 'carol')`)
	require.NoError(t, err)

	return db
}

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	engine := authz.NewEngine(db, 0, nil)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(db, engine, logger, nil), db
}

func identityFor(userID int64) authz.Identity {
	return authz.Identity{UserID: userID, Role: auth.RoleMember, Authenticated: true}
}

func TestCreateProjectBindsOwnerToRequester(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	project, err := svc.Create(ctx, identityFor(1), CreateInput{
		Name:      "Roadmap",
		MemberIDs: []int64{2},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), project.OwnerID)
	assert.Equal(t, []int64{2}, project.MemberIDs)
	assert.True(t, project.IsOwner)
}

func TestCreateProjectCollapsesDuplicateMembers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	project, err := svc.Create(ctx, identityFor(1), CreateInput{
		Name:      "Roadmap",
		MemberIDs: []int64{2, 2, 3, 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3}, project.MemberIDs, "response reflects the stored set")
}

// TestCreateProjectUnknownMemberIsValidation drives the member insert into a
// foreign key violation and asserts it surfaces as a validation error, not as
// an opaque operation failure.
func TestCreateProjectUnknownMemberIsValidation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	engine := authz.NewEngine(db, 0, nil)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := NewService(db, engine, logger, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO projects").
		WithArgs("Roadmap", "", int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("INSERT INTO project_members").
		WithArgs(int64(1), int64(999)).
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	_, err = svc.Create(context.Background(), identityFor(1), CreateInput{
		Name:      "Roadmap",
		MemberIDs: []int64{999},
	})
	assert.ErrorIs(t, err, authz.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProjectRequiresName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), identityFor(1), CreateInput{Name: "  "})
	assert.ErrorIs(t, err, authz.ErrValidation)
}

func TestCreateProjectRequiresAuthentication(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), authz.Anonymous(), CreateInput{Name: "Roadmap"})
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)
}

func TestGetProjectVisibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, identityFor(1), CreateInput{Name: "Roadmap", MemberIDs: []int64{2}})
	require.NoError(t, err)

	t.Run("owner", func(t *testing.T) {
		p, err := svc.Get(ctx, identityFor(1), created.ID)
		require.NoError(t, err)
		assert.True(t, p.IsOwner)
	})

	t.Run("member", func(t *testing.T) {
		p, err := svc.Get(ctx, identityFor(2), created.ID)
		require.NoError(t, err)
		assert.False(t, p.IsOwner)
	})

	t.Run("outsider gets not found, not forbidden", func(t *testing.T) {
		_, err := svc.Get(ctx, identityFor(3), created.ID)
		assert.ErrorIs(t, err, authz.ErrNotFound)
		assert.False(t, errors.Is(err, authz.ErrForbidden))
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := svc.Get(ctx, identityFor(1), 404)
		assert.ErrorIs(t, err, authz.ErrNotFound)
	})
}

func TestListProjectsIsScoped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, identityFor(1), CreateInput{Name: "Roadmap", MemberIDs: []int64{2}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, identityFor(3), CreateInput{Name: "Skunkworks"})
	require.NoError(t, err)

	forBob, err := svc.List(ctx, identityFor(2))
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, "Roadmap", forBob[0].Name)

	forCarol, err := svc.List(ctx, identityFor(3))
	require.NoError(t, err)
	require.Len(t, forCarol, 1)
	assert.Equal(t, "Skunkworks", forCarol[0].Name)
}

func TestUpdateProjectRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, identityFor(1), CreateInput{Name: "Roadmap", MemberIDs: []int64{2}})
	require.NoError(t, err)

	t.Run("member is forbidden", func(t *testing.T) {
		name := "Hijacked"
		_, err := svc.Update(ctx, identityFor(2), created.ID, UpdateInput{Name: &name})
		assert.ErrorIs(t, err, authz.ErrForbidden)
	})

	t.Run("outsider gets not found", func(t *testing.T) {
		name := "Hijacked"
		_, err := svc.Update(ctx, identityFor(3), created.ID, UpdateInput{Name: &name})
		assert.ErrorIs(t, err, authz.ErrNotFound)
	})

	t.Run("owner updates and replaces member set", func(t *testing.T) {
		name := "Roadmap 2026"
		members := []int64{3}
		p, err := svc.Update(ctx, identityFor(1), created.ID, UpdateInput{Name: &name, MemberIDs: &members})
		require.NoError(t, err)
		assert.Equal(t, "Roadmap 2026", p.Name)
		assert.Equal(t, []int64{3}, p.MemberIDs, "supplied set fully replaces the old one")
	})

	t.Run("absent fields keep previous values", func(t *testing.T) {
		desc := "H2 planning"
		p, err := svc.Update(ctx, identityFor(1), created.ID, UpdateInput{Description: &desc})
		require.NoError(t, err)
		assert.Equal(t, "Roadmap 2026", p.Name)
		assert.Equal(t, "H2 planning", p.Description)
	})
}

func TestCheckPermission(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, identityFor(1), CreateInput{Name: "Roadmap", MemberIDs: []int64{2}})
	require.NoError(t, err)

	assert.NoError(t, svc.CheckPermission(ctx, identityFor(1), created.ID))
	assert.ErrorIs(t, svc.CheckPermission(ctx, identityFor(2), created.ID), authz.ErrForbidden)
	assert.ErrorIs(t, svc.CheckPermission(ctx, identityFor(3), created.ID), authz.ErrNotFound)
	assert.ErrorIs(t, svc.CheckPermission(ctx, identityFor(1), 404), authz.ErrNotFound)
}

func TestDeleteProjectCascades(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, identityFor(1), CreateInput{Name: "Roadmap", MemberIDs: []int64{2}})
	require.NoError(t, err)

	seed := []string{
		`INSERT INTO tasks (id, project_id, name) VALUES (1, 1, 'Ship v1'), (2, 1, 'Write docs')`,
		`INSERT INTO comments (task_id, author_id, content) VALUES (1, 2, 'on it'), (2, 1, 'half done')`,
		`INSERT INTO tags (id, name) VALUES (1, 'urgent')`,
		`INSERT INTO task_tags (task_id, tag_id) VALUES (1, 1), (2, 1)`,
		`INSERT INTO task_assignees (task_id, user_id) VALUES (1, 2)`,
	}
	for _, stmt := range seed {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Delete(ctx, identityFor(1), created.ID))

	counts := map[string]int{}
	for _, table := range []string{"projects", "project_members", "tasks", "task_assignees", "task_tags", "comments", "tags"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
		counts[table] = n
	}

	assert.Equal(t, 0, counts["projects"])
	assert.Equal(t, 0, counts["project_members"])
	assert.Equal(t, 0, counts["tasks"])
	assert.Equal(t, 0, counts["task_assignees"])
	assert.Equal(t, 0, counts["task_tags"])
	assert.Equal(t, 0, counts["comments"])
	assert.Equal(t, 1, counts["tags"], "tag rows survive; only the links go")
}

func TestDeleteProjectMemberForbidden(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, identityFor(1), CreateInput{Name: "Roadmap", MemberIDs: []int64{2}})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, identityFor(2), created.ID), authz.ErrForbidden)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM projects`).Scan(&n))
	assert.Equal(t, 1, n)
}

// TestDeleteProjectRollsBackOnFailure drives the cascade against a mocked
// store that fails mid-way and asserts the transaction rolls back instead
// of committing a partial delete.
func TestDeleteProjectRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	engine := authz.NewEngine(db, 0, nil)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := NewService(db, engine, logger, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT p.id, p.name, p.description, p.owner_id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "owner_id", "created_at", "updated_at"}).
			AddRow(1, "Roadmap", "", 1, time.Now(), time.Now()))
	mock.ExpectQuery("SELECT p.owner_id").
		WithArgs(int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"is_owner", "is_member"}).AddRow(true, false))
	mock.ExpectExec("DELETE FROM comments").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM task_tags").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM task_assignees").
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = svc.Delete(context.Background(), identityFor(1), 1)
	assert.ErrorIs(t, err, authz.ErrOperationFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
