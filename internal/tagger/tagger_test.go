package tagger

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ofborg-go/ofborg/internal/maintainers"
	"github.com/ofborg-go/ofborg/internal/outpathdiff"
)

func TestTitleTags(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  []string
	}{
		{"darwin mention", "firefox: fix build on darwin", []string{"6.topic: darwin"}},
		{"macos alias maps to darwin label", "chromium: fix on macOS", []string{"6.topic: darwin"}},
		{"cross compilation", "gcc: fix cross-compilation bug", []string{"6.topic: cross-compilation"}},
		{"substring skipped, later whole word matches", "firefox: darwini is not darwin", []string{"6.topic: darwin"}},
		{"no match", "firefox: 1.0 -> 2.0", nil},
		{"multiple topics sorted", "bsd and darwin fixes", []string{"6.topic: bsd", "6.topic: darwin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TitleTags(tt.title)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("TitleTags(%q) mismatch (-want +got):\n%s", tt.title, diff)
			}
		})
	}
}

func TestTitleTagsWholeWordBoundary(t *testing.T) {
	if got := TitleTags("darwinish"); len(got) != 0 {
		t.Errorf("TitleTags(%q) = %v, want no match (darwin is not a whole word in darwinish)", "darwinish", got)
	}
}

func TestPkgsAddedRemovedTagger(t *testing.T) {
	tests := []struct {
		name    string
		removed []outpathdiff.PackageArch
		added   []outpathdiff.PackageArch
		want    []string
	}{
		{"nothing changed", nil, nil, nil},
		{"only added", nil, []outpathdiff.PackageArch{{Package: "foo"}}, []string{"8.has: package (new)"}},
		{"only removed", []outpathdiff.PackageArch{{Package: "foo"}}, nil, []string{"8.has: clean-up"}},
		{"both", []outpathdiff.PackageArch{{Package: "foo"}}, []outpathdiff.PackageArch{{Package: "bar"}}, []string{"8.has: clean-up", "8.has: package (new)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tagger PkgsAddedRemovedTagger
			tagger.Changed(tt.removed, tt.added)
			if diff := cmp.Diff(tt.want, tagger.TagsToAdd(), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("TagsToAdd() mismatch (-want +got):\n%s", diff)
			}
			if got := tagger.TagsToRemove(); got != nil {
				t.Errorf("TagsToRemove() = %v, want nil", got)
			}
		})
	}
}

func TestMaintainerPrTagger(t *testing.T) {
	tests := []struct {
		name       string
		submitter  string
		byPackage  map[string]map[maintainers.Maintainer]bool
		wantTagged bool
	}{
		{
			name:      "submitter maintains every impacted package",
			submitter: "Alice",
			byPackage: map[string]map[maintainers.Maintainer]bool{
				"firefox": {maintainers.NewMaintainer("alice"): true, maintainers.NewMaintainer("bob"): true},
				"chromium": {maintainers.NewMaintainer("ALICE"): true},
			},
			wantTagged: true,
		},
		{
			name:      "submitter missing from one package",
			submitter: "alice",
			byPackage: map[string]map[maintainers.Maintainer]bool{
				"firefox":  {maintainers.NewMaintainer("alice"): true},
				"chromium": {maintainers.NewMaintainer("bob"): true},
			},
			wantTagged: false,
		},
		{
			name:       "no impacted packages at all",
			submitter:  "alice",
			byPackage:  map[string]map[maintainers.Maintainer]bool{},
			wantTagged: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tagger MaintainerPrTagger
			tagger.RecordMaintainer(tt.submitter, tt.byPackage)
			got := len(tagger.TagsToAdd()) > 0
			if got != tt.wantTagged {
				t.Errorf("RecordMaintainer() tagged = %v, want %v", got, tt.wantTagged)
			}
		})
	}
}

func TestMaintainerPrTaggerFromImpactedLookup(t *testing.T) {
	// Wires the tagger to the maintainer lookup's real output shape:
	// maintainer handle -> package attrpaths, inverted by ByPackage.
	impacted := maintainers.Impacted{
		maintainers.NewMaintainer("test"): {"foo.bar.packageA"},
	}

	var tagger MaintainerPrTagger
	tagger.RecordMaintainer("Test", impacted.ByPackage())

	if got := tagger.TagsToAdd(); len(got) != 1 || got[0] != "11.by: package-maintainer" {
		t.Errorf("TagsToAdd() = %v, want [11.by: package-maintainer]", got)
	}
}

func TestRebuildTaggerBucketsByKernelClass(t *testing.T) {
	rebuild := []outpathdiff.PackageArch{
		{Package: "a", Architecture: "x86_64-linux"},
		{Package: "b", Architecture: "aarch64-linux"},
		{Package: "c", Architecture: "x86_64-darwin"},
	}

	var rt RebuildTagger
	rt.ParseAttrs(rebuild)

	add := rt.TagsToAdd()
	// A count of exactly 1 carries both the "1" label and its band, as the
	// label set has always worked on nixpkgs.
	want := []string{"10.rebuild-darwin: 1", "10.rebuild-darwin: 1-10", "10.rebuild-linux: 1-10"}
	if diff := cmp.Diff(want, add); diff != "" {
		t.Errorf("TagsToAdd() mismatch (-want +got):\n%s", diff)
	}
}

func TestRebuildTaggerZeroCountSelectsZeroLabel(t *testing.T) {
	var rt RebuildTagger
	rt.ParseAttrs(nil)

	want := []string{"10.rebuild-darwin: 0", "10.rebuild-linux: 0"}
	if diff := cmp.Diff(want, rt.TagsToAdd()); diff != "" {
		t.Errorf("TagsToAdd() mismatch (-want +got):\n%s", diff)
	}
}

func TestRebuildTaggerLargeRebuildSelectsBandAnd501Plus(t *testing.T) {
	var rebuild []outpathdiff.PackageArch
	for i := 0; i < 5001; i++ {
		rebuild = append(rebuild, outpathdiff.PackageArch{Package: "pkg", Architecture: "x86_64-linux"})
	}

	var rt RebuildTagger
	rt.ParseAttrs(rebuild)

	want := []string{"10.rebuild-darwin: 0", "10.rebuild-linux: 501+", "10.rebuild-linux: 5001+"}
	if diff := cmp.Diff(want, rt.TagsToAdd()); diff != "" {
		t.Errorf("TagsToAdd() mismatch (-want +got):\n%s", diff)
	}
}

func TestRebuildTaggerTagsToRemoveCoversFullUniverseMinusSelected(t *testing.T) {
	rebuild := []outpathdiff.PackageArch{
		{Package: "a", Architecture: "x86_64-linux"},
	}
	var rt RebuildTagger
	rt.ParseAttrs(rebuild)

	add := rt.TagsToAdd()
	remove := rt.TagsToRemove()

	addSet := make(map[string]bool, len(add))
	for _, label := range add {
		addSet[label] = true
	}
	for _, label := range remove {
		if addSet[label] {
			t.Errorf("TagsToRemove() contains %q which is also in TagsToAdd()", label)
		}
	}
	if len(add)+len(remove) != 2*len(rebuildUniverse) {
		t.Errorf("TagsToAdd()+TagsToRemove() = %d entries, want %d (full universe across both architectures)", len(add)+len(remove), 2*len(rebuildUniverse))
	}
}
