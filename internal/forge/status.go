package forge

import (
	"context"
	"unicode/utf8"

	"github.com/google/go-github/v27/github"
	"golang.org/x/xerrors"
)

// MissingSHAError distinguishes a force-pushed-away head commit from other
// status-write failures: the evaluator acks and skips rather than
// requeuing.
type MissingSHAError struct {
	SHA string
}

func (e *MissingSHAError) Error() string {
	return "commit " + e.SHA + " no longer exists on the remote"
}

// StatusWriteError carries the HTTP status code of a failed status write
// so the evaluator can tell a transient forge failure (requeue) from a
// permanent one (internal-error label, skip). StatusCode is 0 when the
// request never got a response.
type StatusWriteError struct {
	StatusCode int
	Err        error
}

func (e *StatusWriteError) Error() string {
	return "writing commit status: " + e.Err.Error()
}

func (e *StatusWriteError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth a retry: network
// errors, forge 5xx responses, expired installation tokens (401), and
// rate limits (403) are — the token cache self-heals on reacquire, and a
// rate limit clears on its own. Other 4xx responses are not.
func (e *StatusWriteError) Transient() bool {
	switch {
	case e.StatusCode == 0 || e.StatusCode >= 500:
		return true
	case e.StatusCode == 401 || e.StatusCode == 403:
		return true
	default:
		return false
	}
}

const maxStatusDescription = 140

// CommitStatus tracks one status context on one commit across repeated
// Set calls: every write reuses the same context and target URL unless
// explicitly overridden.
type CommitStatus struct {
	client    *github.Client
	owner     string
	repo      string
	sha       string
	context   string
	targetURL *string
}

// NewCommitStatus returns a CommitStatus writer for one (owner, repo, sha,
// context) tuple.
func NewCommitStatus(client *github.Client, owner, repo, sha, context string) *CommitStatus {
	return &CommitStatus{client: client, owner: owner, repo: repo, sha: sha, context: context}
}

// SetURL overrides the target_url of subsequent writes (used for gist
// links on failure).
func (c *CommitStatus) SetURL(url string) {
	if url == "" {
		c.targetURL = nil
		return
	}
	c.targetURL = &url
}

// Set writes state with description, truncated to 140 unicode code
// points. A 404 on the underlying create call due to a vanished SHA
// surfaces as *MissingSHAError.
func (c *CommitStatus) Set(ctx context.Context, state, description string) error {
	description = truncateRunes(description, maxStatusDescription)

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(c.context),
	}
	if c.targetURL != nil {
		status.TargetURL = c.targetURL
	}

	_, resp, err := c.client.Repositories.CreateStatus(ctx, c.owner, c.repo, c.sha, status)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return &MissingSHAError{SHA: c.sha}
		}
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		return &StatusWriteError{StatusCode: code, Err: xerrors.Errorf("status %s on %s: %w", c.context, c.sha, err)}
	}
	return nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// HasLegacyPrefix reports whether any status already written to sha uses
// the legacy "grahamcofborg-" context prefix, matching get_prefix's rule
// for choosing between the legacy and modern status prefix.
func HasLegacyPrefix(ctx context.Context, client *github.Client, owner, repo, sha string) (bool, error) {
	statuses, _, err := client.Repositories.ListStatuses(ctx, owner, repo, sha, nil)
	if err != nil {
		return false, xerrors.Errorf("listing statuses on %s: %w", sha, err)
	}
	for _, s := range statuses {
		if s.Context != nil && hasPrefix(*s.Context, "grahamcofborg-") {
			return true, nil
		}
	}
	return false, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// MakeGist publishes a single-file public gist and returns its URL.
func MakeGist(ctx context.Context, client *github.Client, name, description, contents string) (string, error) {
	gist := &github.Gist{
		Description: github.String(description),
		Public:      github.Bool(true),
		Files: map[github.GistFilename]github.GistFile{
			github.GistFilename(name): {Content: github.String(contents)},
		},
	}
	created, _, err := client.Gists.Create(ctx, gist)
	if err != nil {
		return "", xerrors.Errorf("creating gist %s: %w", name, err)
	}
	return created.GetHTMLURL(), nil
}

// UpdateLabels fetches issue number's current labels, elides no-op adds
// and removes, then issues one bulk add and a sequence of single removes,
// matching update_labels's contract: add failures are fatal, remove
// failures are fatal per-label.
func UpdateLabels(ctx context.Context, client *github.Client, owner, repo string, number int, add, remove []string) error {
	issue, _, err := client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return xerrors.Errorf("fetching issue #%d labels: %w", number, err)
	}

	existing := make(map[string]bool, len(issue.Labels))
	for _, l := range issue.Labels {
		existing[l.GetName()] = true
	}

	var toAdd []string
	for _, l := range add {
		if !existing[l] {
			toAdd = append(toAdd, l)
		}
	}
	var toRemove []string
	for _, l := range remove {
		if existing[l] {
			toRemove = append(toRemove, l)
		}
	}

	if len(toAdd) > 0 {
		if _, _, err := client.Issues.AddLabelsToIssue(ctx, owner, repo, number, toAdd); err != nil {
			return xerrors.Errorf("adding labels %v to issue #%d: %w", toAdd, number, err)
		}
	}
	for _, l := range toRemove {
		if _, err := client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, l); err != nil {
			return xerrors.Errorf("removing label %q from issue #%d: %w", l, number, err)
		}
	}
	return nil
}
