// Package scope decides which entities a panel operator may see and which
// actions they may request. A compiled Predicate is a pure function of the
// operator's identity; it performs no I/O and never consults the clock.
package scope

import (
	"slices"
	"strings"
)

// Role is the coarse privilege class of an operator.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
)

// Identity is the already-authenticated description of one operator.
// Credential handling happens elsewhere; scope only interprets the result.
type Identity struct {
	Name string
	Role Role
	// Extension is the operator's own line, used as the observing end of
	// monitor actions.
	Extension string
	// Extensions and Queues bound a supervisor's view. Ignored for admins.
	Extensions []string
	Queues     []string
	// Actions lists the permitted action names. Admins may do everything
	// regardless.
	Actions []string
}

// Allows reports whether the identity may request the named action.
func (id Identity) Allows(action string) bool {
	if id.Role == RoleAdmin {
		return true
	}
	return slices.Contains(id.Actions, action)
}

// Policy holds the site-wide visibility knobs.
type Policy struct {
	// OwnExtensionVisible includes a supervisor's own line in their view
	// even when it is not listed in their allowed extensions.
	OwnExtensionVisible bool
}

// Predicate is a compiled visibility filter for one identity.
type Predicate struct {
	admin       bool
	exts        map[string]struct{}
	queues      map[string]struct{}
	fingerprint string
}

// Resolve compiles the visibility predicate for an identity under the given
// policy.
func Resolve(id Identity, policy Policy) *Predicate {
	if id.Role == RoleAdmin {
		return &Predicate{admin: true, fingerprint: "admin"}
	}

	exts := make(map[string]struct{}, len(id.Extensions)+1)
	for _, e := range id.Extensions {
		if e != "" {
			exts[e] = struct{}{}
		}
	}
	if policy.OwnExtensionVisible && id.Extension != "" {
		exts[id.Extension] = struct{}{}
	}
	queues := make(map[string]struct{}, len(id.Queues))
	for _, q := range id.Queues {
		if q != "" {
			queues[q] = struct{}{}
		}
	}

	return &Predicate{
		admin:       false,
		exts:        exts,
		queues:      queues,
		fingerprint: fingerprint(exts, queues),
	}
}

// All reports whether the predicate accepts every entity.
func (p *Predicate) All() bool { return p.admin }

// Extension reports whether the given line is visible.
func (p *Predicate) Extension(number string) bool {
	if p.admin {
		return true
	}
	_, ok := p.exts[number]
	return ok
}

// Queue reports whether the given queue is visible.
func (p *Predicate) Queue(name string) bool {
	if p.admin {
		return true
	}
	_, ok := p.queues[name]
	return ok
}

// Call reports whether a call with the given participants is visible: at
// least one participant must be a visible extension. Calls without monitored
// participants are admin-only.
func (p *Predicate) Call(participants []string) bool {
	if p.admin {
		return true
	}
	for _, n := range participants {
		if _, ok := p.exts[n]; ok {
			return true
		}
	}
	return false
}

// Fingerprint is a stable key identifying the visible set. Two identities
// with the same fingerprint see exactly the same entities, so projections
// can be shared between them.
func (p *Predicate) Fingerprint() string { return p.fingerprint }

func fingerprint(exts, queues map[string]struct{}) string {
	e := make([]string, 0, len(exts))
	for n := range exts {
		e = append(e, n)
	}
	slices.Sort(e)
	q := make([]string, 0, len(queues))
	for n := range queues {
		q = append(q, n)
	}
	slices.Sort(q)
	return "e:" + strings.Join(e, ",") + "|q:" + strings.Join(q, ",")
}
