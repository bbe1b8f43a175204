package touchedpkgs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromCommitMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     []string
	}{
		{
			name:     "brace expansion with nested alternatives",
			messages: []string{"firefox{,-beta}{,-bin}, librewolf: blah"},
			want:     []string{"firefox", "firefox-beta", "firefox-bin", "firefox-beta-bin", "librewolf"},
		},
		{
			name:     "plain comma list without braces",
			messages: []string{"foo,bar: update"},
			want:     []string{"bar", "foo"},
		},
		{
			name:     "no colon at all still parses the whole message",
			messages: []string{"hello"},
			want:     []string{"hello"},
		},
		{
			name:     "multiple commit messages union and dedup",
			messages: []string{"firefox: 1.0 -> 2.0", "firefox: cleanup", "chromium: 1.0 -> 2.0"},
			want:     []string{"chromium", "firefox"},
		},
		{
			name:     "empty input yields nil",
			messages: nil,
			want:     nil,
		},
		{
			name:     "blank prefix yields nil",
			messages: []string{": nothing before colon"},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromCommitMessages(tt.messages)
			sortForCompare(got)
			want := append([]string(nil), tt.want...)
			sortForCompare(want)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("FromCommitMessages() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromCommitMessagesGuardsMassMerge(t *testing.T) {
	var messages []string
	for i := 0; i < MaxAutoScheduled+1; i++ {
		messages = append(messages, pkgName(i)+": bump")
	}
	if got := FromCommitMessages(messages); got != nil {
		t.Errorf("FromCommitMessages() with %d distinct packages = %v, want nil (guard against mass-merge)", len(messages), got)
	}
}

func TestFromCommitMessagesAtGuardBoundary(t *testing.T) {
	var messages []string
	for i := 0; i < MaxAutoScheduled; i++ {
		messages = append(messages, pkgName(i)+": bump")
	}
	got := FromCommitMessages(messages)
	if len(got) != MaxAutoScheduled {
		t.Errorf("FromCommitMessages() with exactly %d distinct packages returned %d, want all %d kept", MaxAutoScheduled, len(got), MaxAutoScheduled)
	}
}

func pkgName(i int) string {
	letters := "abcdefghijklmnopqrstuvwxyz"
	return "pkg-" + string(letters[i%len(letters)]) + string(letters[(i/len(letters))%len(letters)])
}

func sortForCompare(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestExpandBracesTopLevelCommaInsideBraces(t *testing.T) {
	got := expandBraces("foo{bar,baz}")
	want := []string{"foobar", "foobaz"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("expandBraces() mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchingBraceUnbalanced(t *testing.T) {
	if got := matchingBrace("foo{bar", 3); got != -1 {
		t.Errorf("matchingBrace() with unbalanced braces = %d, want -1", got)
	}
}
