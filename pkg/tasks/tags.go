package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/taskscope/taskscope/pkg/authz"
	"github.com/taskscope/taskscope/pkg/storage"
)

// CreateTag creates a standalone tag. Tags carry no owner; any
// authenticated identity may mint one, and it stays invisible until it is
// attached to a task the identity can reach.
func (s *Service) CreateTag(ctx context.Context, identity authz.Identity, name string) (*Tag, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is required", authz.ErrValidation)
	}

	tag := &Tag{Name: name}
	if err := s.db.QueryRowContext(ctx, `INSERT INTO tags (name) VALUES ($1) RETURNING id`, name).Scan(&tag.ID); err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: tag %q already exists", authz.ErrValidation, name)
		}
		return nil, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}

// AttachTag resolves a tag by name, creating it if needed, and links it to
// the task. Requires read access to the task, so members may label tasks
// they can see.
func (s *Service) AttachTag(ctx context.Context, identity authz.Identity, projectID, taskID int64, name string) (*Tag, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is required", authz.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := fetchTask(ctx, tx, projectID, taskID)
	if err != nil {
		return nil, err
	}
	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionRead, task)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("task %d: %w", taskID, err)
	}

	tag := &Tag{Name: name}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tags (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return nil, fmt.Errorf("upsert tag: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = $1`, name).Scan(&tag.ID); err != nil {
		return nil, fmt.Errorf("resolve tag: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO task_tags (task_id, tag_id) VALUES ($1, $2) ON CONFLICT (task_id, tag_id) DO NOTHING`, taskID, tag.ID); err != nil {
		return nil, fmt.Errorf("attach tag: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tag attach: %v", authz.ErrOperationFailed, err)
	}
	return tag, nil
}

// DetachTag removes the link between a task and a tag. The tag itself
// survives; it may still be attached to other tasks.
func (s *Service) DetachTag(ctx context.Context, identity authz.Identity, projectID, taskID, tagID int64) error {
	if !identity.Authenticated {
		return authz.ErrUnauthenticated
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := fetchTask(ctx, tx, projectID, taskID)
	if err != nil {
		return err
	}
	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionRead, task)
	if err != nil {
		return err
	}
	if err := authz.DenyError(decision, authz.ActionRead); err != nil {
		return fmt.Errorf("task %d: %w", taskID, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = $1 AND tag_id = $2`, taskID, tagID)
	if err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tag %d: %w", tagID, authz.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tag detach: %v", authz.ErrOperationFailed, err)
	}
	return nil
}

// ListTags returns every tag attached to at least one task the identity
// can see, ordered by name
func (s *Service) ListTags(ctx context.Context, identity authz.Identity) ([]*Tag, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	pred := authz.Visible(identity, authz.KindTag, 1)
	query := fmt.Sprintf(`
		SELECT g.id, g.name
		FROM tags g
		WHERE %s
		ORDER BY g.name
	`, pred.SQL)

	rows, err := s.db.QueryContext(ctx, query, pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var result []*Tag
	for rows.Next() {
		g := &Tag{}
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// ListTaskTags returns the tags attached to one task
func (s *Service) ListTaskTags(ctx context.Context, identity authz.Identity, projectID, taskID int64) ([]*Tag, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	task, err := fetchTask(ctx, s.db, projectID, taskID)
	if err != nil {
		return nil, err
	}
	decision, err := s.engine.Authorize(ctx, identity, authz.ActionRead, task)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("task %d: %w", taskID, err)
	}

	query := `
		SELECT g.id, g.name
		FROM tags g
		JOIN task_tags tt ON tt.tag_id = g.id
		WHERE tt.task_id = $1
		ORDER BY g.name
	`
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task tags: %w", err)
	}
	defer rows.Close()

	var result []*Tag
	for rows.Next() {
		g := &Tag{}
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// GetTag returns one tag if any of its tasks is visible to the identity
func (s *Service) GetTag(ctx context.Context, identity authz.Identity, tagID int64) (*Tag, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	tag, err := fetchTag(ctx, s.db, tagID)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.Authorize(ctx, identity, authz.ActionRead, tag)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("tag %d: %w", tagID, err)
	}
	return tag, nil
}

// UpdateTag renames a tag. The rename is visible everywhere the tag is
// attached, so it requires the same reachability as deletion.
func (s *Service) UpdateTag(ctx context.Context, identity authz.Identity, tagID int64, name string) (*Tag, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is required", authz.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	tag, err := fetchTag(ctx, tx, tagID)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionUpdate, tag)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionUpdate); err != nil {
		return nil, fmt.Errorf("tag %d: %w", tagID, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tags SET name = $1 WHERE id = $2`, name, tagID); err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: tag %q already exists", authz.ErrValidation, name)
		}
		return nil, fmt.Errorf("update tag: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tag update: %v", authz.ErrOperationFailed, err)
	}

	tag.Name = name
	return tag, nil
}

// DeleteTag removes a tag and all of its task links
func (s *Service) DeleteTag(ctx context.Context, identity authz.Identity, tagID int64) error {
	if !identity.Authenticated {
		return authz.ErrUnauthenticated
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	tag, err := fetchTag(ctx, tx, tagID)
	if err != nil {
		return err
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionDelete, tag)
	if err != nil {
		return err
	}
	if err := authz.DenyError(decision, authz.ActionDelete); err != nil {
		return fmt.Errorf("tag %d: %w", tagID, err)
	}

	for _, query := range []string{
		`DELETE FROM task_tags WHERE tag_id = $1`,
		`DELETE FROM tags WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, query, tagID); err != nil {
			return fmt.Errorf("%w: delete tag %d: %v", authz.ErrOperationFailed, tagID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tag delete: %v", authz.ErrOperationFailed, err)
	}
	return nil
}

func fetchTag(ctx context.Context, q authz.DBTX, tagID int64) (*Tag, error) {
	g := &Tag{}
	err := q.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE id = $1`, tagID).Scan(&g.ID, &g.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tag %d: %w", tagID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return g, nil
}
