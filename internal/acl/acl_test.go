package acl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ofborg-go/ofborg/internal/systems"
)

func TestIsRepoEligibleCaseInsensitive(t *testing.T) {
	a := New([]string{"NixOS/nixpkgs"}, nil, nil)

	tests := []struct {
		fullName string
		want     bool
	}{
		{"NixOS/nixpkgs", true},
		{"nixos/nixpkgs", true},
		{"NIXOS/NIXPKGS", true},
		{"someone/else", false},
	}
	for _, tt := range tests {
		if got := a.IsRepoEligible(tt.fullName); got != tt.want {
			t.Errorf("IsRepoEligible(%q) = %v, want %v", tt.fullName, got, tt.want)
		}
	}
}

func TestIsTrustedCaseInsensitive(t *testing.T) {
	a := New(nil, []string{"Alice"}, nil)
	if !a.IsTrusted("alice") {
		t.Error("IsTrusted(\"alice\") = false, want true")
	}
	if a.IsTrusted("bob") {
		t.Error("IsTrusted(\"bob\") = true, want false")
	}
}

func TestBuildJobArchitecturesForUserRepo(t *testing.T) {
	sandboxed := []systems.System{systems.X8664Linux, systems.Aarch64Linux}
	a := New([]string{"nixos/nixpkgs"}, []string{"trusted-user"}, sandboxed)

	tests := []struct {
		name     string
		login    string
		fullName string
		wip      bool
		want     []systems.System
	}{
		{"wip always empty", "trusted-user", "nixos/nixpkgs", true, nil},
		{"ineligible repo", "trusted-user", "someone/else", false, nil},
		{"untrusted user gets sandboxed subset", "random-user", "nixos/nixpkgs", false, sandboxed},
		{"trusted user gets every architecture", "trusted-user", "nixos/nixpkgs", false, systems.All},
		{"trusted check is case-insensitive", "TRUSTED-USER", "nixos/nixpkgs", false, systems.All},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.BuildJobArchitecturesForUserRepo(tt.login, tt.fullName, tt.wip)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("BuildJobArchitecturesForUserRepo() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildJobArchitecturesForUserRepoReturnsACopy(t *testing.T) {
	a := New([]string{"nixos/nixpkgs"}, []string{"trusted-user"}, []systems.System{systems.X8664Linux})

	got := a.BuildJobArchitecturesForUserRepo("trusted-user", "nixos/nixpkgs", false)
	got[0] = "mutated"

	got2 := a.BuildJobArchitecturesForUserRepo("trusted-user", "nixos/nixpkgs", false)
	if got2[0] == "mutated" {
		t.Error("BuildJobArchitecturesForUserRepo() leaked a mutable reference to systems.All")
	}
}
