package tasks

import (
	"time"

	"github.com/taskscope/taskscope/pkg/authz"
)

// Status is the task workflow state
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task belongs to exactly one project, fixed at creation
type Task struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      Status     `json:"status"`
	AssigneeIDs []int64    `json:"assigned_to_ids"`
	TagIDs      []int64    `json:"tag_ids"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (t *Task) AuthzKind() authz.Kind { return authz.KindTask }
func (t *Task) AuthzID() int64        { return t.ID }
func (t *Task) ScopeProjectID() int64 { return t.ProjectID }

// Comment belongs to exactly one task; the author is bound to the
// requester at creation and never changes. ProjectID is resolved through
// the task when the comment is loaded so authorization needs no second
// lookup.
type Comment struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	ProjectID int64     `json:"-"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Comment) AuthzKind() authz.Kind { return authz.KindComment }
func (c *Comment) AuthzID() int64        { return c.ID }
func (c *Comment) ScopeProjectID() int64 { return c.ProjectID }
func (c *Comment) AuthorUserID() int64   { return c.AuthorID }

// Tag has a globally unique name and labels tasks across unrelated
// projects; it has no single owning project.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (g *Tag) AuthzKind() authz.Kind { return authz.KindTag }
func (g *Tag) AuthzID() int64        { return g.ID }

// TaskInput carries validated fields for task creation. The project
// binding comes from the route, never from the payload.
type TaskInput struct {
	Name        string
	Description string
	DueDate     *time.Time
	Status      Status
	AssigneeIDs []int64
	TagIDs      []int64
}

// TaskUpdateInput carries partial-update fields; nil keeps the previous
// value. Supplied assignee and tag sets fully replace the old sets.
type TaskUpdateInput struct {
	Name        *string
	Description *string
	DueDate     *time.Time
	Status      *Status
	AssigneeIDs *[]int64
	TagIDs      *[]int64
}
