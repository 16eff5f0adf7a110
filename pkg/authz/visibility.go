package authz

import "fmt"

// Predicate is a SQL fragment restricting a collection query to rows the
// identity may see, with its positional arguments. It is appended to the
// WHERE clause of a list query before pagination and ordering; it is the
// sole mechanism preventing cross-tenant rows from leaking out of list
// endpoints, not a post-filter.
//
// Fragments reference the standard table aliases: projects "p", tasks "t",
// comments "c", tags "g". Subqueries inside a fragment use the v-prefixed
// aliases (vp, vt, vpm) so they never collide with the outer query.
type Predicate struct {
	SQL  string
	Args []interface{}
}

// denyAll matches no rows. Used for anonymous identities.
const denyAll = "1 = 0"

// Visible returns the predicate for listing entities of the given kind.
// firstArg is the positional parameter number the fragment starts at; pass
// len(existing args)+1 when combining with other conditions. Placeholders
// are emitted in ascending first-occurrence order so the fragment binds
// identically under PostgreSQL and SQLite.
func Visible(identity Identity, kind Kind, firstArg int) Predicate {
	if !identity.Authenticated {
		return Predicate{SQL: denyAll}
	}

	user := fmt.Sprintf("$%d", firstArg)

	switch kind {
	case KindProject:
		// Owner or member of the project row itself.
		return Predicate{
			SQL: `(p.owner_id = ` + user + ` OR EXISTS (
				SELECT 1 FROM project_members vpm
				WHERE vpm.project_id = p.id AND vpm.user_id = ` + user + `))`,
			Args: []interface{}{identity.UserID},
		}

	case KindTask:
		// Task is visible iff its project is.
		return Predicate{
			SQL: `EXISTS (
				SELECT 1 FROM projects vp
				WHERE vp.id = t.project_id AND (vp.owner_id = ` + user + ` OR EXISTS (
					SELECT 1 FROM project_members vpm
					WHERE vpm.project_id = vp.id AND vpm.user_id = ` + user + `)))`,
			Args: []interface{}{identity.UserID},
		}

	case KindComment:
		// Comment is visible iff its task's project is.
		return Predicate{
			SQL: `EXISTS (
				SELECT 1 FROM tasks vt
				JOIN projects vp ON vp.id = vt.project_id
				WHERE vt.id = c.task_id AND (vp.owner_id = ` + user + ` OR EXISTS (
					SELECT 1 FROM project_members vpm
					WHERE vpm.project_id = vp.id AND vpm.user_id = ` + user + `)))`,
			Args: []interface{}{identity.UserID},
		}

	case KindTag:
		// Existential: a tag is visible if any task it labels belongs to a
		// visible project, even when most of its tasks are out of scope.
		return Predicate{
			SQL: `EXISTS (
				SELECT 1 FROM task_tags vtt
				JOIN tasks vt ON vt.id = vtt.task_id
				JOIN projects vp ON vp.id = vt.project_id
				WHERE vtt.tag_id = g.id AND (vp.owner_id = ` + user + ` OR EXISTS (
					SELECT 1 FROM project_members vpm
					WHERE vpm.project_id = vp.id AND vpm.user_id = ` + user + `)))`,
			Args: []interface{}{identity.UserID},
		}
	}

	return Predicate{SQL: denyAll}
}
