// Package ofborg holds the cross-cutting types shared by every service in
// the pipeline: the repository/pull-request descriptors and the known
// architecture set. Everything else lives under internal/.
package ofborg

import "strings"

// Repo identifies a forge repository. FullName is "owner/name"; identity for
// routing keys is the lowercased FullName (built by the webhook receiver).
type Repo struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
}

// LowerFullName returns Repo.FullName lowercased, the form routing keys and
// ACL membership checks compare on.
func (r Repo) LowerFullName() string {
	return strings.ToLower(r.FullName)
}

// PullRequest identifies a pull request under evaluation. TargetBranch is
// empty when the caller should fall back to the repository's primary
// branch.
type PullRequest struct {
	Number       int    `json:"number"`
	HeadSHA      string `json:"head_sha"`
	TargetBranch string `json:"target_branch,omitempty"`
}

// Branch returns the effective target branch, defaulting to primary when
// PullRequest.TargetBranch is unset.
func (pr PullRequest) Branch(primary string) string {
	if pr.TargetBranch == "" {
		return primary
	}
	return pr.TargetBranch
}

// Architectures enumerates the build architectures ofborg knows about. Real
// deployments configure a subset of these per-runner. The ACL and the
// tagger do not consult this set; the ACL uses internal/systems.
var Architectures = map[string]bool{
	"x86_64-linux":   true,
	"aarch64-linux":  true,
	"x86_64-darwin":  true,
	"aarch64-darwin": true,
}
