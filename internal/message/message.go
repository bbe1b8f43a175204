// Package message defines the JSON wire types exchanged between pipeline
// workers: evaluation jobs published by the filters and consumed by the
// evaluator, and build jobs fanned out to per-architecture builders.
package message

import (
	"sort"

	"github.com/ofborg-go/ofborg"
)

// EvaluationJob is produced by the evaluation filter and the comment filter,
// consumed by the evaluator. One live evaluation per (repo, pr) is expected
// but not enforced by the broker.
type EvaluationJob struct {
	Repo ofborg.Repo        `json:"repo"`
	PR   ofborg.PullRequest `json:"pr"`
}

// Subset selects a variant of the package set a BuildJob evaluates.
type Subset string

const (
	SubsetFull  Subset = "full"
	SubsetNixOS Subset = "nixos"
)

// BuildJob instructs a builder to build a set of attribute paths for a PR on
// whichever architecture the job was routed to. RequestID is a fresh opaque
// identifier (UUID form) giving end-to-end traceability through the log
// collector's attempt bundles.
type BuildJob struct {
	Repo         ofborg.Repo        `json:"repo"`
	PR           ofborg.PullRequest `json:"pr"`
	Subset       Subset             `json:"subset"`
	Attrs        []string           `json:"attrs"`
	Logs         *string            `json:"logs,omitempty"`
	StatusReport *string            `json:"statusreport,omitempty"`
	RequestID    string             `json:"request_id"`
}

// NewBuildJob returns a BuildJob with attrs deduplicated and sorted, as the
// evaluator and comment filter both require before publishing.
func NewBuildJob(repo ofborg.Repo, pr ofborg.PullRequest, subset Subset, attrs []string, requestID string) BuildJob {
	return BuildJob{
		Repo:      repo,
		PR:        pr,
		Subset:    subset,
		Attrs:     dedupSorted(attrs),
		RequestID: requestID,
	}
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// QueuedBuildJobs is published to build-results once a BuildJob has been
// fanned out, recording which architectures received it.
type QueuedBuildJobs struct {
	Job           BuildJob `json:"job"`
	Architectures []string `json:"architectures"`
}

// LogEnvelopeKind distinguishes the three periodic envelopes a builder
// publishes to the logs topic for a single attempt.
type LogEnvelopeKind string

const (
	LogChunk    LogEnvelopeKind = "chunk"
	LogMetadata LogEnvelopeKind = "metadata"
	LogResult   LogEnvelopeKind = "result"
)

// LogEnvelope is what a builder publishes to the logs topic exchange with
// routing key "<system>.<attempt_id>". The routing key alone does not carry
// enough to place the file on disk, so the envelope repeats the owning
// repo/pr/request_id the log collector needs to build
// logs_path/<owner>/<repo>/<pr>/<request_id>/<attempt_id>.*.
type LogEnvelope struct {
	Repo      ofborg.Repo        `json:"repo"`
	PR        ofborg.PullRequest `json:"pr"`
	RequestID string             `json:"request_id"`
	AttemptID string             `json:"attempt_id"`
	Kind      LogEnvelopeKind    `json:"kind"`

	// Chunk carries raw log bytes when Kind == LogChunk.
	Chunk []byte `json:"chunk,omitempty"`
	// Body carries the metadata/result JSON document's bytes when Kind is
	// LogMetadata or LogResult. It must itself embed attempt_id as a
	// top-level string field, per the log read API's grouping contract.
	Body []byte `json:"body,omitempty"`
}
