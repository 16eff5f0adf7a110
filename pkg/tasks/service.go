package tasks

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

// Service owns task, comment and tag persistence under the project
// authorization rules. The project binding of every nested entity comes
// from the route context, never from the payload.
type Service struct {
	db     *sql.DB
	engine *authz.Engine
	logger *observability.Logger
}

// NewService creates a task service
func NewService(db *sql.DB, engine *authz.Engine, logger *observability.Logger) *Service {
	return &Service{db: db, engine: engine, logger: logger}
}

// CreateTask creates a task in the given project. A missing project is
// reported as not found before any authorization runs; the task does not
// exist yet, so there is nothing to authorize against but its project.
func (s *Service) CreateTask(ctx context.Context, identity authz.Identity, projectID int64, input TaskInput) (*Task, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: task name is required", authz.ErrValidation)
	}
	if input.Status == "" {
		input.Status = StatusTodo
	}
	if !input.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown task status %q", authz.ErrValidation, input.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := projectExists(ctx, tx, projectID); err != nil {
		return nil, err
	}

	task := &Task{
		ProjectID:   projectID,
		Name:        input.Name,
		Description: input.Description,
		DueDate:     input.DueDate,
		Status:      input.Status,
		AssigneeIDs: []int64{},
		TagIDs:      []int64{},
	}

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionCreate, task)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionCreate); err != nil {
		return nil, fmt.Errorf("project %d: %w", projectID, err)
	}

	now := time.Now()
	query := `
		INSERT INTO tasks (project_id, name, description, due_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query, task.ProjectID, task.Name, task.Description, task.DueDate, task.Status, now, now).Scan(&task.ID); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := replaceTaskSet(ctx, tx, "task_assignees", "user_id", task.ID, input.AssigneeIDs, false); err != nil {
		return nil, err
	}
	if err := replaceTaskSet(ctx, tx, "task_tags", "tag_id", task.ID, input.TagIDs, false); err != nil {
		return nil, err
	}
	if task.AssigneeIDs, err = listTaskSet(ctx, tx, "task_assignees", "user_id", task.ID); err != nil {
		return nil, err
	}
	if task.TagIDs, err = listTaskSet(ctx, tx, "task_tags", "tag_id", task.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit task create: %v", authz.ErrOperationFailed, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"task_id":    task.ID,
		"project_id": projectID,
	}).Info("task created")

	return task, nil
}

// GetTask returns one task addressed through its project route
func (s *Service) GetTask(ctx context.Context, identity authz.Identity, projectID, taskID int64) (*Task, error) {
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

	if err := s.loadTaskSets(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns the visible tasks of a project ordered by due date
// then name
func (s *Service) ListTasks(ctx context.Context, identity authz.Identity, projectID int64) ([]*Task, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	pred := authz.Visible(identity, authz.KindTask, 2)
	query := fmt.Sprintf(`
		SELECT t.id, t.project_id, t.name, t.description, t.due_date, t.status, t.created_at, t.updated_at
		FROM tasks t
		WHERE t.project_id = $1 AND %s
		ORDER BY t.due_date, t.name
	`, pred.SQL)

	args := append([]interface{}{projectID}, pred.Args...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []*Task
	for rows.Next() {
		t := &Task{AssigneeIDs: []int64{}, TagIDs: []int64{}}
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Description, &t.DueDate, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range result {
		if err := s.loadTaskSets(ctx, t); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UpdateTask applies a partial update under the owner-only task mutation
// rule. Supplied assignee and tag sets replace the previous sets.
func (s *Service) UpdateTask(ctx context.Context, identity authz.Identity, projectID, taskID int64, input TaskUpdateInput) (*Task, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
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

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionUpdate, task)
	if err != nil {
		return nil, err
	}
	if err := authz.DenyError(decision, authz.ActionUpdate); err != nil {
		return nil, fmt.Errorf("task %d: %w", taskID, err)
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: task name is required", authz.ErrValidation)
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *input.Name)
		argPos++
		task.Name = *input.Name
	}
	if input.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *input.Description)
		argPos++
		task.Description = *input.Description
	}
	if input.DueDate != nil {
		setClauses = append(setClauses, fmt.Sprintf("due_date = $%d", argPos))
		args = append(args, *input.DueDate)
		argPos++
		task.DueDate = input.DueDate
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown task status %q", authz.ErrValidation, *input.Status)
		}
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *input.Status)
		argPos++
		task.Status = *input.Status
	}

	if len(setClauses) > 0 {
		now := time.Now()
		setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
		args = append(args, now)
		argPos++
		task.UpdatedAt = now

		args = append(args, taskID)
		query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
	}

	if input.AssigneeIDs != nil {
		if err := replaceTaskSet(ctx, tx, "task_assignees", "user_id", taskID, *input.AssigneeIDs, true); err != nil {
			return nil, err
		}
	}
	if input.TagIDs != nil {
		if err := replaceTaskSet(ctx, tx, "task_tags", "tag_id", taskID, *input.TagIDs, true); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit task update: %v", authz.ErrOperationFailed, err)
	}

	if err := s.loadTaskSets(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task and drains its comments, assignee rows and tag
// links in the same transaction
func (s *Service) DeleteTask(ctx context.Context, identity authz.Identity, projectID, taskID int64) error {
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

	decision, err := s.engine.WithTx(tx).Authorize(ctx, identity, authz.ActionDelete, task)
	if err != nil {
		return err
	}
	if err := authz.DenyError(decision, authz.ActionDelete); err != nil {
		return fmt.Errorf("task %d: %w", taskID, err)
	}

	for _, query := range []string{
		`DELETE FROM comments WHERE task_id = $1`,
		`DELETE FROM task_tags WHERE task_id = $1`,
		`DELETE FROM task_assignees WHERE task_id = $1`,
		`DELETE FROM tasks WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, query, taskID); err != nil {
			return fmt.Errorf("%w: delete task %d: %v", authz.ErrOperationFailed, taskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit task delete: %v", authz.ErrOperationFailed, err)
	}
	return nil
}

// fetchTask loads a task addressed through its project route
func fetchTask(ctx context.Context, q authz.DBTX, projectID, taskID int64) (*Task, error) {
	query := `
		SELECT t.id, t.project_id, t.name, t.description, t.due_date, t.status, t.created_at, t.updated_at
		FROM tasks t
		WHERE t.id = $1 AND t.project_id = $2
	`
	t := &Task{AssigneeIDs: []int64{}, TagIDs: []int64{}}
	err := q.QueryRowContext(ctx, query, taskID, projectID).Scan(
		&t.ID, &t.ProjectID, &t.Name, &t.Description, &t.DueDate, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %d: %w", taskID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// projectExists verifies the route-bound project before authorization
func projectExists(ctx context.Context, q authz.DBTX, projectID int64) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)`, projectID).Scan(&exists); err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return fmt.Errorf("project %d: %w", projectID, authz.ErrNotFound)
	}
	return nil
}

// replaceTaskSet replaces a task's join rows (assignees or tags). Foreign
// key violations mean the caller referenced ids that do not exist.
func replaceTaskSet(ctx context.Context, q authz.DBTX, table, column string, taskID int64, ids []int64, clear bool) error {
	if clear {
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE task_id = $1`, table), taskID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, id := range ids {
		query := fmt.Sprintf(`
			INSERT INTO %s (task_id, %s)
			VALUES ($1, $2)
			ON CONFLICT (task_id, %s) DO NOTHING
		`, table, column, column)
		if _, err := q.ExecContext(ctx, query, taskID, id); err != nil {
			if storage.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown %s %d", authz.ErrValidation, column, id)
			}
			return fmt.Errorf("set %s: %w", table, err)
		}
	}
	return nil
}

// loadTaskSets populates a task's assignee and tag id sets
func (s *Service) loadTaskSets(ctx context.Context, task *Task) error {
	var err error
	task.AssigneeIDs, err = listTaskSet(ctx, s.db, "task_assignees", "user_id", task.ID)
	if err != nil {
		return err
	}
	task.TagIDs, err = listTaskSet(ctx, s.db, "task_tags", "tag_id", task.ID)
	return err
}

func listTaskSet(ctx context.Context, q authz.DBTX, table, column string, taskID int64) ([]int64, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE task_id = $1 ORDER BY %s`, column, table, column)
	rows, err := q.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
