// Package guard decides whether a navigation target may be rendered for the
// current session. Decisions are pure functions of their inputs.
package guard

import (
	"slices"
	"strings"

	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/session"
)

// LoginPath is where unauthenticated navigation is sent.
const LoginPath = "/login"

// Action is the outcome of a decision.
type Action int

const (
	Render Action = iota
	RedirectLogin
	RedirectLanding
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case RedirectLogin:
		return "redirect-login"
	case RedirectLanding:
		return "redirect-landing"
	default:
		return "unknown"
	}
}

// Decision is the guard's answer. From records the originally requested
// path on a login redirect so the caller can return there afterwards.
type Decision struct {
	Action   Action
	Location string
	From     string
}

// Landing returns the default landing path for role. Unrecognized roles
// land on the user dashboard.
func Landing(role identity.Role) string {
	switch role {
	case identity.RoleAdmin:
		return "/admin"
	case identity.RoleSupportAgent:
		return "/agent"
	default:
		return "/dashboard"
	}
}

// Decide gates requestedPath. A nil or empty allowed list admits any
// authenticated user.
func Decide(sess session.Session, allowed []identity.Role, requestedPath string) Decision {
	if !sess.IsAuthenticated() {
		return Decision{Action: RedirectLogin, Location: LoginPath, From: requestedPath}
	}
	if len(allowed) > 0 && !slices.Contains(allowed, sess.User.Role) {
		return Decision{Action: RedirectLanding, Location: Landing(sess.User.Role)}
	}
	return Decision{Action: Render, Location: requestedPath}
}

// Route is a protected path prefix and the roles admitted to it.
type Route struct {
	Prefix  string
	Allowed []identity.Role
}

// Table is an application's set of protected routes.
type Table []Route

// DefaultTable mirrors the portal's role-scoped sections.
func DefaultTable() Table {
	return Table{
		{Prefix: "/admin", Allowed: []identity.Role{identity.RoleAdmin}},
		{Prefix: "/agent", Allowed: []identity.Role{identity.RoleSupportAgent, identity.RoleAdmin}},
		{Prefix: "/dashboard", Allowed: []identity.Role{identity.RoleUser}},
		{Prefix: "/profile"},
		{Prefix: "/settings"},
	}
}

// Lookup returns the longest route whose prefix matches path on a segment
// boundary. ok is false for unprotected paths.
func (t Table) Lookup(path string) (Route, bool) {
	var best Route
	found := false
	for _, r := range t {
		if !matchPrefix(r.Prefix, path) {
			continue
		}
		if !found || len(r.Prefix) > len(best.Prefix) {
			best, found = r, true
		}
	}
	return best, found
}

// Decide gates path using the table. Unprotected paths always render.
func (t Table) Decide(sess session.Session, path string) Decision {
	r, ok := t.Lookup(path)
	if !ok {
		return Decision{Action: Render, Location: path}
	}
	return Decide(sess, r.Allowed, path)
}

func matchPrefix(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}
