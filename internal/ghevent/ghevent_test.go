package ghevent

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ofborg-go/ofborg"
)

const prEventJSON = `{
	"action": "synchronize",
	"number": 42,
	"repository": {
		"owner": {"login": "NixOS"},
		"name": "nixpkgs",
		"full_name": "NixOS/nixpkgs",
		"clone_url": "https://github.com/NixOS/nixpkgs.git"
	},
	"pull_request": {
		"state": "open",
		"base": {"ref": "master", "sha": "base-sha"},
		"head": {"ref": "my-branch", "sha": "head-sha"}
	}
}`

func TestPullRequestEventRoundTrip(t *testing.T) {
	var ev PullRequestEvent
	if err := json.Unmarshal([]byte(prEventJSON), &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if ev.Action != PullRequestSynchronize {
		t.Errorf("Action = %q, want %q", ev.Action, PullRequestSynchronize)
	}
	if ev.Number != 42 {
		t.Errorf("Number = %d, want 42", ev.Number)
	}
	if ev.Repository.FullName != "NixOS/nixpkgs" {
		t.Errorf("Repository.FullName = %q, want %q", ev.Repository.FullName, "NixOS/nixpkgs")
	}
	if ev.PullRequest.Base.Ref != "master" || ev.PullRequest.Base.SHA != "base-sha" {
		t.Errorf("PullRequest.Base = %+v, want ref=master sha=base-sha", ev.PullRequest.Base)
	}
	if ev.PullRequest.Head.Ref != "my-branch" || ev.PullRequest.Head.SHA != "head-sha" {
		t.Errorf("PullRequest.Head = %+v, want ref=my-branch sha=head-sha", ev.PullRequest.Head)
	}

	// re-serializing preserves the fields the filter depends on.
	out, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var roundTripped PullRequestEvent
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("Unmarshal(remarshal) error = %v", err)
	}
	if diff := cmp.Diff(ev, roundTripped); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPullRequestEventToOfborg(t *testing.T) {
	ev := PullRequestEvent{
		Number: 7,
		PullRequest: PullRequestObj{
			Head: PullRequestRef{SHA: "abc123"},
			Base: PullRequestRef{Ref: "release-23.05"},
		},
	}

	want := ofborg.PullRequest{Number: 7, HeadSHA: "abc123", TargetBranch: "release-23.05"}
	if got := ev.ToOfborg(); got != want {
		t.Errorf("ToOfborg() = %+v, want %+v", got, want)
	}
}

func TestIsInterestingEdit(t *testing.T) {
	tests := []struct {
		name string
		ev   PullRequestEvent
		want bool
	}{
		{
			name: "no changes at all",
			ev:   PullRequestEvent{},
			want: false,
		},
		{
			name: "base change present",
			ev:   PullRequestEvent{Changes: PullRequestChanges{Base: &BaseChange{Ref: PullRequestRefChange{From: "master"}}}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.IsInterestingEdit(); got != tt.want {
				t.Errorf("IsInterestingEdit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRepositoryToOfborg(t *testing.T) {
	r := Repository{
		Owner:    User{Login: "NixOS"},
		Name:     "nixpkgs",
		FullName: "NixOS/nixpkgs",
		CloneURL: "https://github.com/NixOS/nixpkgs.git",
	}
	want := ofborg.Repo{Owner: "NixOS", Name: "nixpkgs", FullName: "NixOS/nixpkgs", CloneURL: "https://github.com/NixOS/nixpkgs.git"}
	if got := r.ToOfborg(); got != want {
		t.Errorf("ToOfborg() = %+v, want %+v", got, want)
	}
}
