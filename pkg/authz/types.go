package authz

import (
	"github.com/taskscope/taskscope/pkg/auth"
)

// Kind identifies a resource type gated by the engine
type Kind string

const (
	KindProject Kind = "project"
	KindTask    Kind = "task"
	KindComment Kind = "comment"
	KindTag     Kind = "tag"
)

// Action is an operation on a resource instance
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Identity is the authenticated principal for one request. It is threaded
// explicitly through every engine call; there is no ambient current user.
type Identity struct {
	UserID        int64
	Role          auth.Role
	Authenticated bool
}

// Anonymous returns the unauthenticated identity
func Anonymous() Identity {
	return Identity{}
}

// IsAdmin reports whether the identity carries the admin role. The role is
// advisory and only feeds admin-style gates outside the ownership rules.
func (i Identity) IsAdmin() bool {
	return i.Authenticated && i.Role == auth.RoleAdmin
}

// Decision is the outcome of one authorization check
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool
	// Visible reports whether the identity may read the target at all.
	// Callers use it to mask write denials on invisible resources as
	// not-found instead of forbidden.
	Visible bool
	// Reason is a generic denial reason. It never distinguishes a missing
	// resource from a restricted one.
	Reason string
}

const reasonForbidden = "forbidden"

func allow() Decision {
	return Decision{Allowed: true, Visible: true}
}

func deny(visible bool) Decision {
	return Decision{Allowed: false, Visible: visible, Reason: reasonForbidden}
}

// Resource is the capability interface entities implement to be gated by
// the engine. Entities governed by exactly one project additionally
// implement ProjectScoped; comments implement Authored.
type Resource interface {
	AuthzKind() Kind
	AuthzID() int64
}

// ProjectScoped ties an entity to the single project that governs it. A
// project is scoped to itself.
type ProjectScoped interface {
	Resource
	ScopeProjectID() int64
}

// Authored exposes the creating user of an entity whose mutation rule
// includes the author.
type Authored interface {
	AuthorUserID() int64
}
