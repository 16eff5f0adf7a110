package projects

import (
	"time"

	"github.com/taskscope/taskscope/pkg/authz"
)

// Project is a tenant boundary: it has exactly one immutable owner and a
// replaceable set of members. The owner holds full rights regardless of
// whether it appears in the member set.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     int64     `json:"owner_id"`
	MemberIDs   []int64   `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// IsOwner is computed per requester on read paths.
	IsOwner bool `json:"is_owner"`
}

func (p *Project) AuthzKind() authz.Kind { return authz.KindProject }
func (p *Project) AuthzID() int64        { return p.ID }

// ScopeProjectID: a project is its own authorization scope.
func (p *Project) ScopeProjectID() int64 { return p.ID }

// CreateInput carries validated fields for project creation. The owner is
// never client-supplied; it is bound to the requester.
type CreateInput struct {
	Name        string
	Description string
	MemberIDs   []int64
}

// UpdateInput carries partial-update fields. Nil means "keep the previous
// value"; a non-nil MemberIDs fully replaces the member set.
type UpdateInput struct {
	Name        *string
	Description *string
	MemberIDs   *[]int64
}
