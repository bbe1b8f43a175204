package maintainers

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseImpactedIsKeyedByMaintainer(t *testing.T) {
	// The evaluator's output maps maintainer handles to the package
	// attribute paths they maintain, never the other way around.
	parsed, err := parseImpacted([]byte(`{"Test": ["foo.bar.packageA"]}`))
	if err != nil {
		t.Fatalf("parseImpacted() error = %v", err)
	}

	want := Impacted{NewMaintainer("test"): {"foo.bar.packageA"}}
	if diff := cmp.Diff(want, parsed); diff != "" {
		t.Errorf("parseImpacted() mismatch (-want +got):\n%s", diff)
	}

	if got := parsed.Maintainers(); len(got) != 1 || got[0] != NewMaintainer("test") {
		t.Errorf("Maintainers() = %v, want [test]", got)
	}

	wantByPkg := map[string]map[Maintainer]bool{
		"foo.bar.packageA": {NewMaintainer("test"): true},
	}
	if diff := cmp.Diff(wantByPkg, parsed.ByPackage()); diff != "" {
		t.Errorf("ByPackage() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseImpactedRejectsMalformed(t *testing.T) {
	if _, err := parseImpacted([]byte(`{"test": "not-a-list"}`)); err == nil {
		t.Error("parseImpacted() with a non-list value: want error, got nil")
	}
}

func TestNewMaintainerLowercases(t *testing.T) {
	if got := NewMaintainer("Alice"); got != Maintainer("alice") {
		t.Errorf("NewMaintainer(%q) = %q, want %q", "Alice", got, "alice")
	}
}

func TestImpactedByPackage(t *testing.T) {
	impacted := Impacted{
		NewMaintainer("alice"): {"firefox", "chromium"},
		NewMaintainer("bob"):   {"firefox"},
	}

	got := impacted.ByPackage()

	want := map[string]map[Maintainer]bool{
		"firefox":  {NewMaintainer("alice"): true, NewMaintainer("bob"): true},
		"chromium": {NewMaintainer("alice"): true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ByPackage() mismatch (-want +got):\n%s", diff)
	}
}

func TestImpactedMaintainers(t *testing.T) {
	impacted := Impacted{
		NewMaintainer("alice"): {"firefox"},
		NewMaintainer("bob"):   {"chromium"},
	}
	got := impacted.Maintainers()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	want := []Maintainer{NewMaintainer("alice"), NewMaintainer("bob")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Maintainers() mismatch (-want +got):\n%s", diff)
	}
}
