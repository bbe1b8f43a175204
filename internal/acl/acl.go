// Package acl answers the two questions the pipeline needs of its
// access-control list: is a repository in scope, and which architectures
// may a given PR author dispatch builds to.
package acl

import (
	"strings"

	"github.com/ofborg-go/ofborg/internal/systems"
)

// ACL is the access-control list: a set of eligible repositories and an
// optional set of trusted logins who unlock non-sandboxed architectures.
type ACL struct {
	repos        map[string]bool
	trustedUsers map[string]bool
	// sandboxed lists architectures available to any PR author regardless
	// of trust; trusted users additionally receive every architecture in
	// systems.All.
	sandboxed []systems.System
}

// New builds an ACL from a list of "owner/name" repos and trusted logins.
// Repo and login comparisons are case-insensitive.
func New(repos, trustedUsers []string, sandboxed []systems.System) *ACL {
	a := &ACL{
		repos:        make(map[string]bool, len(repos)),
		trustedUsers: make(map[string]bool, len(trustedUsers)),
		sandboxed:    sandboxed,
	}
	for _, r := range repos {
		a.repos[strings.ToLower(r)] = true
	}
	for _, u := range trustedUsers {
		a.trustedUsers[strings.ToLower(u)] = true
	}
	return a
}

// IsRepoEligible reports whether fullName ("owner/name") is in scope.
func (a *ACL) IsRepoEligible(fullName string) bool {
	return a.repos[strings.ToLower(fullName)]
}

// IsTrusted reports whether login is a trusted user.
func (a *ACL) IsTrusted(login string) bool {
	return a.trustedUsers[strings.ToLower(login)]
}

// BuildJobArchitecturesForUserRepo returns the architectures an evaluation
// triggered by login on fullName may auto-schedule. Trusted users unlock
// every known architecture; everyone else gets the sandboxed subset.
// wip forces an empty result regardless of trust (WIP PRs never
// auto-schedule).
func (a *ACL) BuildJobArchitecturesForUserRepo(login, fullName string, wip bool) []systems.System {
	if wip || !a.IsRepoEligible(fullName) {
		return nil
	}
	if a.IsTrusted(login) {
		out := make([]systems.System, len(systems.All))
		copy(out, systems.All)
		return out
	}
	out := make([]systems.System, len(a.sandboxed))
	copy(out, a.sandboxed)
	return out
}
