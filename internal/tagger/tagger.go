// Package tagger computes label universes and selections for the
// evaluator. Taggers are pure: no forge calls happen inside them, only
// to-add/to-remove computation, so the evaluator's label update is the
// only place the results touch the forge.
package tagger

import (
	"sort"
	"strings"

	"github.com/ofborg-go/ofborg/internal/maintainers"
	"github.com/ofborg-go/ofborg/internal/outpathdiff"
)

// titleTopics is the fixed word-boundary-matched title->label table.
var titleTopics = []struct {
	word  string
	label string
}{
	{"bsd", "6.topic: bsd"},
	{"darwin", "6.topic: darwin"},
	{"macos", "6.topic: darwin"},
	{"cross", "6.topic: cross-compilation"},
}

// TitleTags scans title for whole-word matches against the fixed topic
// table, returning the sorted, deduplicated label set. "darwini" does not
// match "darwin".
func TitleTags(title string) []string {
	lower := strings.ToLower(title)
	seen := make(map[string]bool)
	for _, t := range titleTopics {
		if containsWholeWord(lower, t.word) {
			seen[t.label] = true
		}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func containsWholeWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		if (start == 0 || !isWordChar(haystack[start-1])) && isWordBoundary(haystack, end) {
			return true
		}
		idx = start + 1
	}
}

func isWordBoundary(s string, pos int) bool {
	if pos <= 0 || pos >= len(s) {
		return true
	}
	c := s[pos]
	return !isWordChar(c)
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// PkgsAddedRemovedTagger selects "8.has: package (new)" and
// "8.has: clean-up" based on whether any package was added or removed.
// Removal of either label is never automatic ("too vague").
type PkgsAddedRemovedTagger struct {
	selected []string
}

// Changed records one diff's removed/added sets.
func (t *PkgsAddedRemovedTagger) Changed(removed, added []outpathdiff.PackageArch) {
	if len(removed) > 0 {
		t.selected = append(t.selected, "8.has: clean-up")
	}
	if len(added) > 0 {
		t.selected = append(t.selected, "8.has: package (new)")
	}
}

// TagsToAdd returns the labels selected by Changed.
func (t *PkgsAddedRemovedTagger) TagsToAdd() []string { return t.selected }

// TagsToRemove is always empty for this tagger.
func (t *PkgsAddedRemovedTagger) TagsToRemove() []string { return nil }

// MaintainerPrTagger selects "11.by: package-maintainer" when every
// impacted package is maintained by the PR's author.
type MaintainerPrTagger struct {
	selected []string
}

// RecordMaintainer compares prSubmitter against byPackage: the tag is
// selected only when byPackage is non-empty and every package in it
// lists prSubmitter as a maintainer.
func (t *MaintainerPrTagger) RecordMaintainer(prSubmitter string, byPackage map[string]map[maintainers.Maintainer]bool) {
	if len(byPackage) == 0 {
		return
	}
	submitter := maintainers.NewMaintainer(prSubmitter)
	for _, pkgMaintainers := range byPackage {
		if !pkgMaintainers[submitter] {
			return
		}
	}
	t.selected = append(t.selected, "11.by: package-maintainer")
}

// TagsToAdd returns the labels selected by RecordMaintainer.
func (t *MaintainerPrTagger) TagsToAdd() []string { return t.selected }

// TagsToRemove is always empty for this tagger.
func (t *MaintainerPrTagger) TagsToRemove() []string { return nil }

// rebuildBand is one entry in the fixed rebuild-size bucket universe.
type rebuildBand struct {
	lo, hi int // inclusive; hi == -1 means unbounded
	label  string
}

var rebuildBands = []rebuildBand{
	{1, 10, "1-10"},
	{11, 100, "11-100"},
	{101, 500, "101-500"},
	{501, 1000, "501-1000"},
	{1001, 2500, "1001-2500"},
	{2501, 5000, "2501-5000"},
	{5001, -1, "5001+"},
}

// rebuildUniverse is the full set of bucket labels one architecture can
// carry, in declaration order (not alphabetical).
var rebuildUniverse = []string{"0", "1", "1-10", "11-100", "101-500", "501+", "501-1000", "1001-2500", "2501-5000", "5001+"}

func bandFor(count int) string {
	for _, b := range rebuildBands {
		if count >= b.lo && (b.hi == -1 || count <= b.hi) {
			return b.label
		}
	}
	return ""
}

// selectedLabelsForCount returns the subset of rebuildUniverse that count
// selects: the exact "0"/"1" label first, then "501+" for counts over
// 500, then the finer band.
func selectedLabelsForCount(count int) []string {
	if count == 0 {
		return []string{"0"}
	}

	var out []string
	if count == 1 {
		out = append(out, "1")
	}
	if count > 500 {
		out = append(out, "501+")
	}
	if band := bandFor(count); band != "" {
		out = append(out, band)
	}
	return out
}

// RebuildTagger computes the rebuild-size bucket labels for linux and
// darwin architectures, reporting the universe's {to_add, to_remove} so
// stale buckets are cleared on every run.
type RebuildTagger struct {
	countByArch map[string]int
}

// ParseAttrs records the rebuild set's counts, bucketed into the two
// kernel classes ("linux", "darwin") the labels report on: full Nix
// system strings (x86_64-linux, aarch64-darwin, ...) collapse onto
// whichever class their suffix names.
func (t *RebuildTagger) ParseAttrs(rebuild []outpathdiff.PackageArch) {
	t.countByArch = make(map[string]int, 2)
	for arch, count := range outpathdiff.CountByArchitecture(rebuild) {
		t.countByArch[archClass(arch)] += count
	}
}

// archClass collapses a Nix system string to the kernel class its
// rebuild-size label reports on.
func archClass(arch string) string {
	if strings.Contains(arch, "darwin") {
		return "darwin"
	}
	return "linux"
}

// archOrder is the fixed (alphabetical) order labels are emitted across
// architectures.
var archOrder = []string{"darwin", "linux"}

func archLabelPrefix(arch string) string {
	return "10.rebuild-" + arch + ": "
}

// TagsToAdd returns the selected bucket labels across both architectures,
// darwin before linux.
func (t *RebuildTagger) TagsToAdd() []string {
	var out []string
	for _, arch := range archOrder {
		count := t.countByArch[arch]
		prefix := archLabelPrefix(arch)
		for _, label := range selectedLabelsForCount(count) {
			out = append(out, prefix+label)
		}
	}
	return out
}

// TagsToRemove returns every bucket label in the universe not currently
// selected, across both architectures, darwin before linux.
func (t *RebuildTagger) TagsToRemove() []string {
	selected := make(map[string]bool)
	for _, label := range t.TagsToAdd() {
		selected[label] = true
	}

	var out []string
	for _, arch := range archOrder {
		prefix := archLabelPrefix(arch)
		for _, label := range rebuildUniverse {
			full := prefix + label
			if !selected[full] {
				out = append(out, full)
			}
		}
	}
	return out
}

// MergeConflictLabel is set on merge conflict and removed on success.
const MergeConflictLabel = "2.status: merge conflict"
