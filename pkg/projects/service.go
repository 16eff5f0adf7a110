package projects

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/taskscope/taskscope/pkg/authz"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/storage"
)

// Service owns project persistence and enforces the authorization and
// mutation rules for projects. Mutations run inside one transaction so the
// decision and the write see the same snapshot.
type Service struct {
	db      *sql.DB
	engine  *authz.Engine
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates a project service. metrics may be nil.
func NewService(db *sql.DB, engine *authz.Engine, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{db: db, engine: engine, logger: logger, metrics: metrics}
}

// Create creates a project owned by the requester. The member set comes
// from the input; the owner is not required to appear in it.
func (s *Service) Create(ctx context.Context, identity authz.Identity, input CreateInput) (*Project, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: project name is required", authz.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	project := &Project{
		Name:        input.Name,
		Description: input.Description,
		OwnerID:     identity.UserID,
		MemberIDs:   []int64{},
		IsOwner:     true,
	}

	now := time.Now()
	query := `
		INSERT INTO projects (name, description, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query, project.Name, project.Description, project.OwnerID, now, now).Scan(&project.ID); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	project.CreatedAt = now
	project.UpdatedAt = now

	if err := replaceMembers(ctx, tx, project.ID, input.MemberIDs); err != nil {
		return nil, err
	}
	// Read the set back so duplicates in the input collapse to the stored rows.
	project.MemberIDs, err = listMembers(ctx, tx, project.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit project create: %v", authz.ErrOperationFailed, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"project_id": project.ID,
		"owner_id":   project.OwnerID,
	}).Info("project created")

	return project, nil
}

// Get returns one project with its member set. Invisible projects are
// reported as not found.
func (s *Service) Get(ctx context.Context, identity authz.Identity, id int64) (*Project, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	project, err := fetchProject(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.Authorize(ctx, identity, authz.ActionRead, project)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("project %d: %w", id, err)
	}

	project.MemberIDs, err = listMembers(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	project.IsOwner = project.OwnerID == identity.UserID

	return project, nil
}

// CheckPermission answers whether the identity owns the project. A
// visible project the identity does not own reports forbidden; an
// invisible one reports not found, indistinguishable from a missing row.
func (s *Service) CheckPermission(ctx context.Context, identity authz.Identity, id int64) error {
	if !identity.Authenticated {
		return authz.ErrUnauthenticated
	}

	project, err := fetchProject(ctx, s.db, id)
	if err != nil {
		return err
	}

	decision, err := s.engine.Authorize(ctx, identity, authz.ActionUpdate, project)
	if err != nil {
		return err
	}
	if err := authz.DenyError(decision, authz.ActionUpdate); err != nil {
		return fmt.Errorf("project %d: %w", id, err)
	}
	return nil
}

// List returns the projects visible to the identity, ordered by name. The
// visibility predicate is applied server-side before any rows leave the
// store.
func (s *Service) List(ctx context.Context, identity authz.Identity) ([]*Project, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	pred := authz.Visible(identity, authz.KindProject, 1)
	query := fmt.Sprintf(`
		SELECT p.id, p.name, p.description, p.owner_id, p.created_at, p.updated_at
		FROM projects p
		WHERE %s
		ORDER BY p.name
	`, pred.SQL)

	rows, err := s.db.QueryContext(ctx, query, pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var result []*Project
	for rows.Next() {
		p := &Project{MemberIDs: []int64{}}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.IsOwner = p.OwnerID == identity.UserID
		result = append(result, p)
	}
	return result, rows.Err()
}

// Update applies a partial update. Absent fields keep their previous
// values; a supplied member set fully replaces the old one. Owner only.
func (s *Service) Update(ctx context.Context, identity authz.Identity, id int64, input UpdateInput) (*Project, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	project, err := fetchProject(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionUpdate, project)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionUpdate); err != nil {
		return nil, fmt.Errorf("project %d: %w", id, err)
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: project name is required", authz.ErrValidation)
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *input.Name)
		argPos++
		project.Name = *input.Name
	}
	if input.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *input.Description)
		argPos++
		project.Description = *input.Description
	}

	if len(setClauses) > 0 {
		now := time.Now()
		setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
		args = append(args, now)
		argPos++
		project.UpdatedAt = now

		args = append(args, id)
		query := fmt.Sprintf("UPDATE projects SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("update project: %w", err)
		}
	}

	if input.MemberIDs != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = $1`, id); err != nil {
			return nil, fmt.Errorf("replace members: %w", err)
		}
		if err := replaceMembers(ctx, tx, id, *input.MemberIDs); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit project update: %v", authz.ErrOperationFailed, err)
	}

	if input.MemberIDs != nil {
		s.engine.InvalidateProject(id)
	}

	project.MemberIDs, err = listMembers(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	project.IsOwner = project.OwnerID == identity.UserID

	return project, nil
}

// Delete removes a project and everything beneath it. Child tasks are
// drained explicitly, cascading to their comments, assignee rows and tag
// links, before the project row goes; the whole cascade is one atomic
// transaction and any failure rolls it back completely.
func (s *Service) Delete(ctx context.Context, identity authz.Identity, id int64) error {
	if !identity.Authenticated {
		return authz.ErrUnauthenticated
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	project, err := fetchProject(ctx, tx, id)
	if err != nil {
		return err
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionDelete, project)
	if err != nil {
		return err
	}
	if err := authz.DenyError(decision, authz.ActionDelete); err != nil {
		return fmt.Errorf("project %d: %w", id, err)
	}

	// Drain children in dependency order. The schema carries ON DELETE
	// CASCADE as well, but the cascade here is explicit so intermediate
	// collections empty deterministically regardless of store defaults.
	steps := []struct {
		entity string
		query  string
	}{
		{"comments", `DELETE FROM comments WHERE task_id IN (SELECT id FROM tasks WHERE project_id = $1)`},
		{"task_tags", `DELETE FROM task_tags WHERE task_id IN (SELECT id FROM tasks WHERE project_id = $1)`},
		{"task_assignees", `DELETE FROM task_assignees WHERE task_id IN (SELECT id FROM tasks WHERE project_id = $1)`},
		{"tasks", `DELETE FROM tasks WHERE project_id = $1`},
		{"project_members", `DELETE FROM project_members WHERE project_id = $1`},
		{"projects", `DELETE FROM projects WHERE id = $1`},
	}

	for _, step := range steps {
		result, err := tx.ExecContext(ctx, step.query, id)
		if err != nil {
			return fmt.Errorf("%w: cascade delete %s: %v", authz.ErrOperationFailed, step.entity, err)
		}
		if s.metrics != nil {
			if n, err := result.RowsAffected(); err == nil {
				s.metrics.CascadeDeleteRows.WithLabelValues(step.entity).Observe(float64(n))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit project delete: %v", authz.ErrOperationFailed, err)
	}

	s.engine.InvalidateProject(id)
	s.logger.WithFields(map[string]interface{}{
		"project_id": id,
		"user_id":    identity.UserID,
	}).Info("project deleted")

	return nil
}

// fetchProject loads a project row or reports not found
func fetchProject(ctx context.Context, q authz.DBTX, id int64) (*Project, error) {
	query := `
		SELECT p.id, p.name, p.description, p.owner_id, p.created_at, p.updated_at
		FROM projects p
		WHERE p.id = $1
	`
	p := &Project{MemberIDs: []int64{}}
	err := q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %d: %w", id, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// listMembers returns the project's member user ids
func listMembers(ctx context.Context, q authz.DBTX, projectID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM project_members WHERE project_id = $1 ORDER BY user_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []int64{}
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

// replaceMembers inserts the given member set for a project. Foreign key
// violations mean the caller referenced user ids that do not exist.
func replaceMembers(ctx context.Context, q authz.DBTX, projectID int64, memberIDs []int64) error {
	for _, userID := range memberIDs {
		query := `
			INSERT INTO project_members (project_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (project_id, user_id) DO NOTHING
		`
		if _, err := q.ExecContext(ctx, query, projectID, userID); err != nil {
			if storage.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown user %d", authz.ErrValidation, userID)
			}
			return fmt.Errorf("add member %d: %w", userID, err)
		}
	}
	return nil
}
