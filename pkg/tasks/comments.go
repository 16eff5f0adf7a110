package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/taskscope/taskscope/pkg/authz"
)

// CreateComment adds a comment to a task. The author is always the
// authenticated caller; the payload cannot attribute a comment to anyone
// else.
func (s *Service) CreateComment(ctx context.Context, identity authz.Identity, projectID, taskID int64, content string) (*Comment, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: comment content is required", authz.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := fetchTask(ctx, tx, projectID, taskID); err != nil {
		return nil, err
	}

	comment := &Comment{
		TaskID:    taskID,
		ProjectID: projectID,
		AuthorID:  identity.UserID,
		Content:   content,
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionCreate, comment)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionCreate); err != nil {
		return nil, fmt.Errorf("task %d: %w", taskID, err)
	}

	now := time.Now()
	query := `
		INSERT INTO comments (task_id, author_id, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query, taskID, identity.UserID, content, now, now).Scan(&comment.ID); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	comment.CreatedAt = now
	comment.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit comment create: %v", authz.ErrOperationFailed, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"comment_id": comment.ID,
		"task_id":    taskID,
	}).Info("comment created")

	return comment, nil
}

// ListComments returns a task's comments oldest first
func (s *Service) ListComments(ctx context.Context, identity authz.Identity, projectID, taskID int64) ([]*Comment, error) {
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
		SELECT c.id, c.task_id, t.project_id, c.author_id, c.content, c.created_at, c.updated_at
		FROM comments c
		JOIN tasks t ON t.id = c.task_id
		WHERE c.task_id = $1
		ORDER BY c.created_at
	`
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var result []*Comment
	for rows.Next() {
		c := &Comment{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.ProjectID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetComment returns one comment addressed through its task route
func (s *Service) GetComment(ctx context.Context, identity authz.Identity, projectID, taskID, commentID int64) (*Comment, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	comment, err := fetchComment(ctx, s.db, projectID, taskID, commentID)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.Authorize(ctx, identity, authz.ActionRead, comment)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionRead); err != nil {
		return nil, fmt.Errorf("comment %d: %w", commentID, err)
	}
	return comment, nil
}

// UpdateComment rewrites a comment's content. Only the author or the
// project owner may do this.
func (s *Service) UpdateComment(ctx context.Context, identity authz.Identity, projectID, taskID, commentID int64, content string) (*Comment, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: comment content is required", authz.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	comment, err := fetchComment(ctx, tx, projectID, taskID, commentID)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionUpdate, comment)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionUpdate); err != nil {
		return nil, fmt.Errorf("comment %d: %w", commentID, err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE comments SET content = $1, updated_at = $2 WHERE id = $3`, content, now, commentID); err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit comment update: %v", authz.ErrOperationFailed, err)
	}

	comment.Content = content
	comment.UpdatedAt = now
	return comment, nil
}

// DeleteComment removes a comment under the author-or-owner rule
func (s *Service) DeleteComment(ctx context.Context, identity authz.Identity, projectID, taskID, commentID int64) error {
	if !identity.Authenticated {
		return authz.ErrUnauthenticated
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	comment, err := fetchComment(ctx, tx, projectID, taskID, commentID)
	if err != nil {
		return err
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionDelete, comment)
	if err != nil {
		return err
	}
	if err := authz.DenyError(decision, authz.ActionDelete); err != nil {
		return fmt.Errorf("comment %d: %w", commentID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID); err != nil {
		return fmt.Errorf("%w: delete comment %d: %v", authz.ErrOperationFailed, commentID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit comment delete: %v", authz.ErrOperationFailed, err)
	}
	return nil
}

// fetchComment loads a comment addressed through its task and project
// route, resolving the project binding through the task join
func fetchComment(ctx context.Context, q authz.DBTX, projectID, taskID, commentID int64) (*Comment, error) {
	query := `
		SELECT c.id, c.task_id, t.project_id, c.author_id, c.content, c.created_at, c.updated_at
		FROM comments c
		JOIN tasks t ON t.id = c.task_id
		WHERE c.id = $1 AND c.task_id = $2 AND t.project_id = $3
	`
	c := &Comment{}
	err := q.QueryRowContext(ctx, query, commentID, taskID, projectID).Scan(
		&c.ID, &c.TaskID, &c.ProjectID, &c.AuthorID, &c.Content, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("comment %d: %w", commentID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}
