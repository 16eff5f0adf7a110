package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/taskscope/taskscope/pkg/observability"
)

// DBTX is satisfied by *sql.DB and *sql.Tx. Authorization decisions that
// guard a mutation must run on the same transaction as the mutation so the
// decision cannot be based on ownership that changed underneath it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// relation is an identity's standing toward one project
type relation struct {
	exists   bool
	isOwner  bool
	isMember bool
}

func (r relation) canRead() bool {
	return r.exists && (r.isOwner || r.isMember)
}

type membershipKey struct {
	projectID int64
	userID    int64
}

// Engine decides, for an identity, an action and a resource instance,
// whether the action is allowed. All rules derive from ownership and
// membership of the scoping project, resolved transitively through the
// entity graph. The engine never resolves missing entities; lookups happen
// in the services around it and it only returns Allow/Deny.
type Engine struct {
	db      DBTX
	cache   *expirable.LRU[membershipKey, relation]
	metrics *observability.Metrics
	inTx    bool
}

// membershipCacheSize bounds the in-process relation cache.
const membershipCacheSize = 4096

// NewEngine creates an authorization engine. cacheTTL > 0 enables a bounded
// in-process cache of project relations for plain (non-transactional)
// checks; metrics may be nil.
func NewEngine(db *sql.DB, cacheTTL time.Duration, metrics *observability.Metrics) *Engine {
	e := &Engine{db: db, metrics: metrics}
	if cacheTTL > 0 {
		e.cache = expirable.NewLRU[membershipKey, relation](membershipCacheSize, nil, cacheTTL)
	}
	return e
}

// WithTx returns an engine bound to the given transaction. The bound engine
// reads relations from the transaction snapshot and bypasses the cache in
// both directions.
func (e *Engine) WithTx(tx *sql.Tx) *Engine {
	return &Engine{db: tx, cache: e.cache, metrics: e.metrics, inTx: true}
}

// InvalidateProject drops cached relations for a project after its member
// set or ownership changed
func (e *Engine) InvalidateProject(projectID int64) {
	if e.cache == nil {
		return
	}
	for _, key := range e.cache.Keys() {
		if key.projectID == projectID {
			e.cache.Remove(key)
		}
	}
}

// Authorize evaluates one operation on one resource instance. Denials carry
// a generic reason; whether the caller surfaces them as forbidden or
// not-found is driven by Decision.Visible.
func (e *Engine) Authorize(ctx context.Context, identity Identity, action Action, res Resource) (Decision, error) {
	d, err := e.evaluate(ctx, identity, action, res)
	if err != nil {
		return Decision{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordDecision(string(res.AuthzKind()), string(action), d.Allowed)
	}
	return d, nil
}

func (e *Engine) evaluate(ctx context.Context, identity Identity, action Action, res Resource) (Decision, error) {
	// Anonymous identities are denied unconditionally, independent of the
	// per-entity rules.
	if !identity.Authenticated {
		return deny(false), nil
	}

	switch res.AuthzKind() {
	case KindProject:
		// Any authenticated identity may create a project; the creator
		// becomes its owner.
		if action == ActionCreate {
			return allow(), nil
		}
		return e.authorizeProjectScoped(ctx, identity, action, res)

	case KindTask:
		return e.authorizeProjectScoped(ctx, identity, action, res)

	case KindComment:
		return e.authorizeComment(ctx, identity, action, res)

	case KindTag:
		return e.authorizeTag(ctx, identity, res)
	}

	return deny(false), nil
}

// ownerMemberRules: read for owner or member, mutation for the owner only.
// Projects and tasks share this table: membership grants visibility, not
// mutation. Task create/update/delete being owner-only is intended product
// policy, asymmetric with comments on purpose.
func ownerMemberRules(action Action, rel relation) Decision {
	switch action {
	case ActionRead:
		if rel.canRead() {
			return allow()
		}
	default:
		if rel.exists && rel.isOwner {
			return allow()
		}
	}
	return deny(rel.canRead())
}

func (e *Engine) authorizeProjectScoped(ctx context.Context, identity Identity, action Action, res Resource) (Decision, error) {
	scoped, ok := res.(ProjectScoped)
	if !ok {
		return Decision{}, fmt.Errorf("authz: %s resource is not project scoped", res.AuthzKind())
	}

	rel, err := e.projectRelation(ctx, scoped.ScopeProjectID(), identity.UserID)
	if err != nil {
		return Decision{}, err
	}
	return ownerMemberRules(action, rel), nil
}

// authorizeComment: any project participant may read and create comments.
// Update and delete are restricted to the comment's author, or the project
// owner acting as moderator.
func (e *Engine) authorizeComment(ctx context.Context, identity Identity, action Action, res Resource) (Decision, error) {
	scoped, ok := res.(ProjectScoped)
	if !ok {
		return Decision{}, fmt.Errorf("authz: comment resource is not project scoped")
	}

	rel, err := e.projectRelation(ctx, scoped.ScopeProjectID(), identity.UserID)
	if err != nil {
		return Decision{}, err
	}

	switch action {
	case ActionRead, ActionCreate:
		if rel.canRead() {
			return allow(), nil
		}
	case ActionUpdate, ActionDelete:
		if rel.exists && rel.isOwner {
			return allow(), nil
		}
		if authored, ok := res.(Authored); ok && rel.canRead() && authored.AuthorUserID() == identity.UserID {
			return allow(), nil
		}
	}
	return deny(rel.canRead()), nil
}

// authorizeTag: the rule is existential over the tag's task set. Owning or
// belonging to any one project reachable through the tag grants every
// operation, matching the tag's visibility.
func (e *Engine) authorizeTag(ctx context.Context, identity Identity, res Resource) (Decision, error) {
	reachable, err := e.tagReachable(ctx, res.AuthzID(), identity.UserID)
	if err != nil {
		return Decision{}, err
	}
	if reachable {
		return allow(), nil
	}
	return deny(false), nil
}

// projectRelation resolves the identity's standing toward one project with
// a single query. Results are cached outside transactions.
func (e *Engine) projectRelation(ctx context.Context, projectID, userID int64) (relation, error) {
	key := membershipKey{projectID: projectID, userID: userID}
	if !e.inTx && e.cache != nil {
		if rel, ok := e.cache.Get(key); ok {
			if e.metrics != nil {
				e.metrics.AuthzCacheHitsTotal.Inc()
			}
			return rel, nil
		}
	}

	query := `
		SELECT p.owner_id = $1,
		       EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1)
		FROM projects p
		WHERE p.id = $2
	`

	var rel relation
	err := e.db.QueryRowContext(ctx, query, userID, projectID).Scan(&rel.isOwner, &rel.isMember)
	switch {
	case err == sql.ErrNoRows:
		// Project vanished between lookup and check; deny rather than leak.
		return relation{}, nil
	case err != nil:
		return relation{}, fmt.Errorf("resolve project relation: %w", err)
	}
	rel.exists = true

	if !e.inTx && e.cache != nil {
		e.cache.Add(key, rel)
	}
	return rel, nil
}

// tagReachable runs the existential join tag -> task_tags -> tasks ->
// projects in one query instead of iterating tasks in application code.
func (e *Engine) tagReachable(ctx context.Context, tagID, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM task_tags tt
			JOIN tasks t ON t.id = tt.task_id
			JOIN projects p ON p.id = t.project_id
			WHERE tt.tag_id = $1
			  AND (p.owner_id = $2 OR EXISTS (
				SELECT 1 FROM project_members pm
				WHERE pm.project_id = p.id AND pm.user_id = $2))
		)
	`

	var reachable bool
	if err := e.db.QueryRowContext(ctx, query, tagID, userID).Scan(&reachable); err != nil {
		return false, fmt.Errorf("resolve tag reachability: %w", err)
	}
	return reachable, nil
}
