package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v27/github"
)

// testClient returns a go-github client talking to an httptest server.
func testClient(t *testing.T, handler http.Handler) (*github.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parsing test server url: %v", err)
	}
	client.BaseURL = base
	return client, srv
}

func TestTruncateRunes(t *testing.T) {
	short := "Beginning Evaluations"
	if got := truncateRunes(short, 140); got != short {
		t.Errorf("truncateRunes(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("é", 200)
	got := truncateRunes(long, 140)
	if want := strings.Repeat("é", 140); got != want {
		t.Errorf("truncateRunes(long) kept %d runes, want 140", len([]rune(got)))
	}
}

func TestCommitStatusSetMissingSHA(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	status := NewCommitStatus(client, "nixos", "nixpkgs", "deadbeef", "ofborg-eval")
	err := status.Set(context.Background(), "pending", "Starting")

	missing, ok := err.(*MissingSHAError)
	if !ok {
		t.Fatalf("Set() error = %T (%v), want *MissingSHAError", err, err)
	}
	if missing.SHA != "deadbeef" {
		t.Errorf("MissingSHAError.SHA = %q, want deadbeef", missing.SHA)
	}
}

func TestCommitStatusSetTransience(t *testing.T) {
	tests := []struct {
		code      int
		transient bool
	}{
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tt := range tests {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))

		status := NewCommitStatus(client, "nixos", "nixpkgs", "deadbeef", "ofborg-eval")
		err := status.Set(context.Background(), "pending", "Starting")

		write, ok := err.(*StatusWriteError)
		if !ok {
			t.Fatalf("Set() with %d error = %T (%v), want *StatusWriteError", tt.code, err, err)
		}
		if write.Transient() != tt.transient {
			t.Errorf("StatusWriteError{%d}.Transient() = %v, want %v", tt.code, write.Transient(), tt.transient)
		}
	}
}

func TestHasLegacyPrefix(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"context": "grahamcofborg-eval"}, {"context": "ci/other"}]`)
	}))

	legacy, err := HasLegacyPrefix(context.Background(), client, "nixos", "nixpkgs", "deadbeef")
	if err != nil {
		t.Fatalf("HasLegacyPrefix() error: %v", err)
	}
	if !legacy {
		t.Error("HasLegacyPrefix() = false, want true")
	}
}

func TestUpdateLabelsElidesNoOps(t *testing.T) {
	var added []string
	var removed []string

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/nixos/nixpkgs/issues/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 5, "labels": [{"name": "existing"}, {"name": "stale"}]}`)
	})
	mux.HandleFunc("/repos/nixos/nixpkgs/issues/5/labels", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&added); err != nil {
			t.Errorf("decoding label add body: %v", err)
		}
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/repos/nixos/nixpkgs/issues/5/labels/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected %s on %s", r.Method, r.URL.Path)
		}
		removed = append(removed, strings.TrimPrefix(r.URL.Path, "/repos/nixos/nixpkgs/issues/5/labels/"))
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := testClient(t, mux)

	err := UpdateLabels(context.Background(), client, "nixos", "nixpkgs", 5,
		[]string{"existing", "fresh"}, // "existing" is a no-op add
		[]string{"stale", "absent"},   // "absent" is a no-op remove
	)
	if err != nil {
		t.Fatalf("UpdateLabels() error: %v", err)
	}

	if diff := cmp.Diff([]string{"fresh"}, added); diff != "" {
		t.Errorf("added labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"stale"}, removed); diff != "" {
		t.Errorf("removed labels mismatch (-want +got):\n%s", diff)
	}
}
