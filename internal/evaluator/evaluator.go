// Package evaluator is the per-job state machine at the heart of the
// pipeline: clone, checkout, merge, dual-evaluate, diff, tag, and fan out
// build jobs.
//
// Heterogeneous evaluation is modeled as an enum of two strategy kinds
// with a switch in the driver rather than an interface hierarchy:
// nixpkgs-shaped repositories get the full outpath-diff and
// touched-package treatment; every other repository gets a generic
// evaluation that only exercises the clone/checkout/merge/status-write
// machinery.
package evaluator

import (
	"context"
	"strings"

	"github.com/google/go-github/v27/github"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg"
	"github.com/ofborg-go/ofborg/internal/acl"
	"github.com/ofborg-go/ofborg/internal/checkout"
	"github.com/ofborg-go/ofborg/internal/forge"
	"github.com/ofborg-go/ofborg/internal/maintainers"
	"github.com/ofborg-go/ofborg/internal/message"
	"github.com/ofborg-go/ofborg/internal/nixeval"
	"github.com/ofborg-go/ofborg/internal/outpathdiff"
	"github.com/ofborg-go/ofborg/internal/systems"
	"github.com/ofborg-go/ofborg/internal/tagger"
	"github.com/ofborg-go/ofborg/internal/touchedpkgs"
	"github.com/ofborg-go/ofborg/internal/worker"
)

// StrategyKind distinguishes the two evaluation strategies. A switch on
// this value, not an interface dispatch, selects behavior throughout the
// driver.
type StrategyKind int

const (
	StrategyGeneric StrategyKind = iota
	StrategyNixpkgs
)

// StrategyFor classifies repo; a repository literally named "nixpkgs"
// (case-insensitive) gets the full package-repository treatment.
func StrategyFor(repo ofborg.Repo) StrategyKind {
	if strings.EqualFold(repo.Name, "nixpkgs") {
		return StrategyNixpkgs
	}
	return StrategyGeneric
}

// channelMirrorPrefixes are target branches that are refused outright:
// they're channel mirrors, not PR targets.
var channelMirrorPrefixes = []string{"nixos-", "nixpkgs-"}

func isChannelMirror(branch string) bool {
	for _, p := range channelMirrorPrefixes {
		if strings.HasPrefix(branch, p) {
			return true
		}
	}
	return false
}

// Driver holds every collaborator the state machine needs. ClientFor
// returns a forge client authorized for one repo (normally
// forge.VendingMachine.ForRepo); it is a function rather than a
// concrete type so the driver can be exercised against a fake in tests.
type Driver struct {
	ClientFor   func(ctx context.Context, owner, repo string) (*github.Client, error)
	Checkout    *checkout.Checkout
	ACL         *acl.ACL
	Nix         nixeval.Evaluator
	Maintainers *maintainers.Calculator
}

// Result is what Evaluate returns alongside the worker.Actions: useful for
// tests that want to assert on intermediate decisions without decoding
// the published bodies back out.
type Result struct {
	Skipped  bool
	Reason   string
	Strategy StrategyKind
	Rebuild  outpathdiff.Diff
	Touched  []string
}

// channelMirrorMessage is written verbatim as the Error status when a PR
// targets a channel mirror branch.
const channelMirrorMessage = "The branch you have targeted is a read-only mirror for channels. Please target release-* or master."

// InternalErrorLabel marks a PR whose evaluation died on something
// unexpected rather than on the PR's own content.
const InternalErrorLabel = "ofborg-internal-error"

// packageListCheck is the name of the evaluation check computing the
// changed package outputs; its commit-status context is
// "<prefix>-eval-package-list".
const packageListCheck = "package-list"

// Evaluate runs the full state machine for one EvaluationJob and returns
// the ordered actions the broker runtime must perform. Every terminal
// condition writes a terminal commit status and acks; transient internal
// failures requeue so the broker redelivers.
func (d *Driver) Evaluate(ctx context.Context, job message.EvaluationJob) (Result, worker.Actions) {
	owner, repoName := job.Repo.Owner, job.Repo.Name

	client, err := d.ClientFor(ctx, owner, repoName)
	if err != nil {
		return Result{Skipped: true, Reason: "forge client unavailable"}, worker.Actions{{Kind: worker.NackRequeue}}
	}

	issue, _, err := client.Issues.Get(ctx, owner, repoName, job.PR.Number)
	if err != nil {
		return Result{Skipped: true, Reason: "issue fetch failed"}, worker.Actions{{Kind: worker.Ack}}
	}
	if issue.GetState() == "closed" {
		return Result{Skipped: true, Reason: "issue closed"}, worker.Actions{{Kind: worker.Ack}}
	}

	wip := issueIsWIP(issue)
	strategy := StrategyFor(job.Repo)
	archs := d.ACL.BuildJobArchitecturesForUserRepo(issue.GetUser().GetLogin(), job.Repo.FullName, wip)

	prefix, err := statusPrefix(ctx, client, owner, repoName, job.PR.HeadSHA)
	if err != nil {
		return Result{Skipped: true, Reason: "status prefix lookup failed"}, worker.Actions{{Kind: worker.NackRequeue}}
	}

	status := forge.NewCommitStatus(client, owner, repoName, job.PR.HeadSHA, prefix+"-eval")
	setStatus := func(state, desc string) error { return status.Set(ctx, state, desc) }

	if err := setStatus("pending", "Starting"); err != nil {
		return d.statusWriteFailure(ctx, client, job, err)
	}

	if err := setStatus("pending", "Cloning project"); err != nil {
		return d.statusWriteFailure(ctx, client, job, err)
	}
	wc, err := d.Checkout.CloneFor(ctx, job.Repo.FullName, job.Repo.CloneURL)
	if err != nil {
		return Result{Skipped: true, Reason: "clone failed"}, worker.Actions{{Kind: worker.NackRequeue}}
	}
	defer wc.Release()

	defaultBranch := "master"
	if repoInfo, _, err := client.Repositories.Get(ctx, owner, repoName); err == nil && repoInfo.GetDefaultBranch() != "" {
		defaultBranch = repoInfo.GetDefaultBranch()
	}
	targetBranch := job.PR.Branch(defaultBranch)
	if isChannelMirror(targetBranch) {
		setStatus("error", channelMirrorMessage)
		return Result{Skipped: true, Reason: "channel mirror target"}, worker.Actions{{Kind: worker.Ack}}
	}

	if err := setStatus("pending", "Checking out "+targetBranch); err != nil {
		return d.statusWriteFailure(ctx, client, job, err)
	}
	beforeDir, err := wc.CheckoutOriginRef(ctx, targetBranch)
	if err != nil {
		return Result{Skipped: true, Reason: "checkout failed"}, worker.Actions{{Kind: worker.NackRequeue}}
	}

	var evalBefore outpathdiff.PackageOutPaths
	if strategy == StrategyNixpkgs {
		evalBefore, err = d.Nix.Execute(ctx, beforeDir)
		if err != nil {
			d.reportEvaluationFailure(ctx, client, status, "Target branch failed to evaluate", err)
			return Result{Skipped: true, Reason: "target branch evaluation failed"}, worker.Actions{{Kind: worker.Ack}}
		}
	}

	if err := setStatus("pending", "Fetching PR"); err != nil {
		return d.statusWriteFailure(ctx, client, job, err)
	}
	if err := wc.FetchPR(ctx, job.PR.Number); err != nil {
		return Result{Skipped: true, Reason: "fetch pr failed"}, worker.Actions{{Kind: worker.NackRequeue}}
	}
	if !wc.CommitExists(ctx, job.PR.HeadSHA) {
		setStatus("error", "Commit not found")
		return Result{Skipped: true, Reason: "missing head sha"}, worker.Actions{{Kind: worker.Ack}}
	}

	if err := setStatus("pending", "Merging PR"); err != nil {
		return d.statusWriteFailure(ctx, client, job, err)
	}
	if err := wc.MergeCommit(ctx, job.PR.HeadSHA); err != nil {
		setStatus("failure", "Failed to merge")
		return Result{Skipped: true, Reason: "merge conflict"}, d.ackWithLabels(ctx, client, owner, repoName, job.PR.Number, []string{tagger.MergeConflictLabel}, nil)
	}

	if err := setStatus("pending", "Beginning Evaluations"); err != nil {
		return d.statusWriteFailure(ctx, client, job, err)
	}

	var result Result
	result.Strategy = strategy

	var addLabels, removeLabels []string
	removeLabels = append(removeLabels, tagger.MergeConflictLabel)
	addLabels = append(addLabels, tagger.TitleTags(issue.GetTitle())...)

	var buildAttrs []string

	if strategy == StrategyNixpkgs {
		check := forge.NewCommitStatus(client, owner, repoName, job.PR.HeadSHA, prefix+"-eval-"+packageListCheck)
		check.Set(ctx, "pending", "Evaluating changed outputs")

		if err := setStatus("pending", "Calculating Changed Outputs"); err != nil {
			return d.statusWriteFailure(ctx, client, job, err)
		}
		evalAfter, err := d.Nix.Execute(ctx, wc.Dir())
		if err != nil {
			d.reportEvaluationFailure(ctx, client, check, "Evaluation failed", err)
			setStatus("failure", "Complete, with errors")
			return Result{Skipped: true, Reason: "evaluation failed"}, worker.Actions{{Kind: worker.Ack}}
		}
		check.Set(ctx, "success", "Evaluated changed outputs")

		diff := outpathdiff.Calculate(evalBefore, evalAfter)
		result.Rebuild = diff

		pkgTagger := &tagger.PkgsAddedRemovedTagger{}
		pkgTagger.Changed(diff.Removed, diff.Added)
		addLabels = append(addLabels, pkgTagger.TagsToAdd()...)

		rebuildTagger := &tagger.RebuildTagger{}
		rebuildTagger.ParseAttrs(diff.Rebuild)
		addLabels = append(addLabels, rebuildTagger.TagsToAdd()...)
		removeLabels = append(removeLabels, rebuildTagger.TagsToRemove()...)

		commitMessages, err := wc.CommitMessagesFromHead(ctx, job.PR.HeadSHA)
		if err == nil {
			touched := touchedpkgs.FromCommitMessages(commitMessages)
			result.Touched = touched
			if len(touched) > 0 {
				buildAttrs = buildAttrsFor(touched)
			}
		}

		changedPaths, pathsErr := wc.FilesChangedFromHead(ctx, job.PR.HeadSHA)
		if pathsErr == nil && d.Maintainers != nil {
			attrGroups := attrGroupsFor(diff.Rebuild)
			impacted, mErr := d.Maintainers.Calculate(ctx, wc.Dir(), changedPaths, attrGroups)
			if mErr == nil {
				byPkg := impacted.ByPackage()
				maintainerTagger := &tagger.MaintainerPrTagger{}
				maintainerTagger.RecordMaintainer(issue.GetUser().GetLogin(), byPkg)
				addLabels = append(addLabels, maintainerTagger.TagsToAdd()...)
			}
		}
	}

	if err := forge.UpdateLabels(ctx, client, owner, repoName, job.PR.Number, addLabels, removeLabels); err != nil {
		setStatus("error", "Failed to update labels")
		return Result{Skipped: true, Reason: "label update failed"}, d.ackWithLabels(ctx, client, owner, repoName, job.PR.Number, []string{InternalErrorLabel}, nil)
	}

	if err := setStatus("success", "^.^!"); err != nil {
		return d.statusWriteFailure(ctx, client, job, err)
	}

	var actions worker.Actions
	if len(buildAttrs) > 0 && len(archs) > 0 {
		buildJob := message.NewBuildJob(job.Repo, job.PR, message.SubsetFull, buildAttrs, uuid.NewString())
		actions = append(actions, fanOut(buildJob, archs)...)
	}
	actions = append(actions, worker.Action{Kind: worker.Ack})

	return result, actions
}

// reportEvaluationFailure writes a Failure status for an evaluator
// subprocess error, attaching a gist of its stderr or warnings when
// available so the status's target_url gives the reporter something to
// look at.
func (d *Driver) reportEvaluationFailure(ctx context.Context, client *github.Client, status *forge.CommitStatus, description string, evalErr error) {
	var content string
	switch e := evalErr.(type) {
	case *nixeval.CommandFailedError:
		content = e.Stderr
	case *nixeval.UncleanEvaluationError:
		content = strings.Join(e.Warnings, "\n")
	}
	if content == "" {
		status.Set(ctx, "failure", description)
		return
	}

	url, gistErr := forge.MakeGist(ctx, client, "evaluation-failure.log", "", content)
	if gistErr != nil {
		status.Set(ctx, "failure", description)
		return
	}
	status.SetURL(url)
	status.Set(ctx, "failure", description)
}

// statusWriteFailure classifies a failed commit-status write: a vanished
// head SHA is skipped, a transient forge failure requeues, and anything
// else marks the PR with the internal-error label and skips.
func (d *Driver) statusWriteFailure(ctx context.Context, client *github.Client, job message.EvaluationJob, err error) (Result, worker.Actions) {
	switch e := err.(type) {
	case *forge.MissingSHAError:
		return Result{Skipped: true, Reason: "missing sha"}, worker.Actions{{Kind: worker.Ack}}
	case *forge.StatusWriteError:
		if e.Transient() {
			return Result{Skipped: true, Reason: "status write failed"}, worker.Actions{{Kind: worker.NackRequeue}}
		}
		return Result{Skipped: true, Reason: "status write rejected"},
			d.ackWithLabels(ctx, client, job.Repo.Owner, job.Repo.Name, job.PR.Number, []string{InternalErrorLabel}, nil)
	default:
		return Result{Skipped: true, Reason: "status write failed"}, worker.Actions{{Kind: worker.NackRequeue}}
	}
}

func (d *Driver) ackWithLabels(ctx context.Context, client *github.Client, owner, repo string, number int, add, remove []string) worker.Actions {
	_ = forge.UpdateLabels(ctx, client, owner, repo, number, add, remove)
	return worker.Actions{{Kind: worker.Ack}}
}

// fanOut publishes buildJob to every arch's build destination plus one
// QueuedBuildJobs record to build-results.
func fanOut(buildJob message.BuildJob, archs []systems.System) worker.Actions {
	var actions worker.Actions
	archNames := make([]string, 0, len(archs))
	for _, arch := range archs {
		exchange, routingKey := arch.BuildDestination()
		action, err := worker.PublishJSON(exchange, routingKey, buildJob)
		if err != nil {
			continue
		}
		actions = append(actions, action)
		archNames = append(archNames, string(arch))
	}
	envelope := message.QueuedBuildJobs{Job: buildJob, Architectures: archNames}
	if action, err := worker.PublishJSON("build-results", "metadata", envelope); err == nil {
		actions = append(actions, action)
	}
	return actions
}

// buildAttrsFor expands each touched package into its attribute path and
// its passthru.tests path, matching evaluate_job's fan-out contract.
func buildAttrsFor(touched []string) []string {
	out := make([]string, 0, len(touched)*2)
	for _, pkg := range touched {
		out = append(out, pkg, pkg+".passthru.tests")
	}
	return out
}

// attrGroupsFor groups rebuilt package-arch pairs by package for the
// maintainers lookup, which expects one slice of attribute path
// components per changed attribute.
func attrGroupsFor(rebuild []outpathdiff.PackageArch) [][]string {
	seen := make(map[string]bool)
	var out [][]string
	for _, pa := range rebuild {
		if seen[pa.Package] {
			continue
		}
		seen[pa.Package] = true
		out = append(out, strings.Split(pa.Package, "."))
	}
	return out
}

func issueIsWIP(issue *github.Issue) bool {
	title := issue.GetTitle()
	if strings.Contains(title, "[WIP]") {
		return true
	}
	if strings.HasPrefix(title, "WIP:") {
		return true
	}
	for _, l := range issue.Labels {
		if indicatesWIP(l.GetName()) {
			return true
		}
	}
	return false
}

func indicatesWIP(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "work in progress") || strings.Contains(lower, "work-in-progress")
}

// statusPrefix decides between the legacy "grahamcofborg" and modern
// "ofborg" status context prefix: once a PR has any legacy-prefixed
// status, it keeps using it.
func statusPrefix(ctx context.Context, client *github.Client, owner, repo, sha string) (string, error) {
	legacy, err := forge.HasLegacyPrefix(ctx, client, owner, repo, sha)
	if err != nil {
		return "", xerrors.Errorf("checking legacy status prefix: %w", err)
	}
	if legacy {
		return "grahamcofborg", nil
	}
	return "ofborg", nil
}

