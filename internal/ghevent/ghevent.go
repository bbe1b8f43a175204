// Package ghevent defines the webhook payload schemas the ingress and
// filters decode. One canonical schema package serves every event type
// handled by the pipeline rather than per-binary copies.
package ghevent

import "github.com/ofborg-go/ofborg"

// User is the subset of a GitHub user object the pipeline reasons over.
type User struct {
	Login string `json:"login"`
}

// Repository is the subset of a GitHub repository object carried on every
// webhook payload.
type Repository struct {
	Owner    User   `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
}

// ToOfborg converts the webhook's repository shape to the pipeline's
// cross-cutting Repo type.
func (r Repository) ToOfborg() ofborg.Repo {
	return ofborg.Repo{
		Owner:    r.Owner.Login,
		Name:     r.Name,
		FullName: r.FullName,
		CloneURL: r.CloneURL,
	}
}

// GenericWebhook is decoded first to recover the repository before the
// event-specific shape is known.
type GenericWebhook struct {
	Repository Repository `json:"repository"`
}

// Comment is an issue or PR review comment body.
type Comment struct {
	Body string `json:"body"`
	User User   `json:"user"`
}

// Issue is the minimal issue/PR reference carried on an issue_comment event.
type Issue struct {
	Number int `json:"number"`
}

// IssueCommentAction is the issue_comment webhook's action field.
type IssueCommentAction string

const (
	IssueCommentCreated IssueCommentAction = "created"
	IssueCommentEdited  IssueCommentAction = "edited"
	IssueCommentDeleted IssueCommentAction = "deleted"
)

// IssueComment is the payload of an issue_comment webhook event.
type IssueComment struct {
	Action     IssueCommentAction `json:"action"`
	Comment    Comment            `json:"comment"`
	Repository Repository         `json:"repository"`
	Issue      Issue              `json:"issue"`
}

// PullRequestAction is the pull_request webhook's action field.
type PullRequestAction string

const (
	PullRequestEdited      PullRequestAction = "edited"
	PullRequestOpened      PullRequestAction = "opened"
	PullRequestReopened    PullRequestAction = "reopened"
	PullRequestSynchronize PullRequestAction = "synchronize"
	PullRequestUnknown     PullRequestAction = ""
)

// PullRequestState mirrors GitHub's pull_request.state field.
type PullRequestState string

const (
	PullRequestStateOpen   PullRequestState = "open"
	PullRequestStateClosed PullRequestState = "closed"
)

// PullRequestRef is one end (base or head) of a pull request.
type PullRequestRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequestObj is the "pull_request" field of a pull_request webhook.
type PullRequestObj struct {
	State PullRequestState `json:"state"`
	Base  PullRequestRef   `json:"base"`
	Head  PullRequestRef   `json:"head"`
}

// BaseChange reports the prior base ref/sha when action is "edited" and the
// PR's base branch was retargeted.
type BaseChange struct {
	Ref PullRequestRefChange `json:"ref"`
	SHA PullRequestRefChange `json:"sha"`
}

// PullRequestRefChange carries the "from" side of a changed field.
type PullRequestRefChange struct {
	From string `json:"from"`
}

// PullRequestChanges is the "changes" field of an edited pull_request event.
// Only Base is populated for base-branch retargets; other edits (title,
// body) leave it nil.
type PullRequestChanges struct {
	Base *BaseChange `json:"base,omitempty"`
}

// PullRequestEvent is the payload of a pull_request webhook event.
type PullRequestEvent struct {
	Action      PullRequestAction  `json:"action"`
	Number      int                `json:"number"`
	Repository  Repository         `json:"repository"`
	PullRequest PullRequestObj     `json:"pull_request"`
	Changes     PullRequestChanges `json:"changes"`
}

// ToOfborg converts the event's pull-request shape to the pipeline's
// cross-cutting PullRequest type.
func (e PullRequestEvent) ToOfborg() ofborg.PullRequest {
	return ofborg.PullRequest{
		Number:       e.Number,
		HeadSHA:      e.PullRequest.Head.SHA,
		TargetBranch: e.PullRequest.Base.Ref,
	}
}

// IsInterestingEdit reports whether an "edited" action changed the base
// branch — the only edit the evaluation filter cares about.
func (e PullRequestEvent) IsInterestingEdit() bool {
	return e.Changes.Base != nil
}
