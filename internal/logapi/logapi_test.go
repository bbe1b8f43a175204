package logapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func TestServeHTTPGroupsAttempts(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "NixOS", "nixpkgs", "123", "req-1")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	writeFile(t, filepath.Join(sub, "attempt-a.metadata.json"), `{"attempt_id":"attempt-a","system":"x86_64-linux"}`)
	writeFile(t, filepath.Join(sub, "attempt-a.result.json"), `{"attempt_id":"attempt-a","success":true}`)
	writeFile(t, filepath.Join(sub, "attempt-a.log"), "build log text")
	writeFile(t, filepath.Join(sub, "not-json.metadata.json"), "{not valid json")
	writeFile(t, filepath.Join(sub, "no-id.result.json"), `{"success":true}`)

	s := &Server{LogsPath: dir, ServeRoot: "/files"}

	req := httptest.NewRequest(http.MethodGet, "/logs/NixOS/nixpkgs/123/req-1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal(response) error = %v", err)
	}

	attempt, ok := resp.Attempts["attempt-a"]
	if !ok {
		t.Fatalf("attempts = %+v, missing attempt-a", resp.Attempts)
	}
	if attempt.Metadata == nil {
		t.Error("attempt-a.Metadata not populated")
	}
	if attempt.Result == nil {
		t.Error("attempt-a.Result not populated")
	}

	logAttempt, ok := resp.Attempts["attempt-a.log"]
	if !ok || logAttempt.LogURL != "/files/NixOS/nixpkgs/123/req-1/attempt-a.log" {
		t.Errorf("attempts[attempt-a.log] = %+v, want LogURL /files/NixOS/nixpkgs/123/req-1/attempt-a.log", logAttempt)
	}

	if _, ok := resp.Attempts["not-json"]; ok {
		t.Error("malformed JSON file should be skipped, not grouped")
	}
	if _, ok := resp.Attempts["no-id"]; ok {
		t.Error("JSON file lacking attempt_id should be skipped, not grouped")
	}
}

func TestServeHTTPMissingPath(t *testing.T) {
	s := &Server{LogsPath: t.TempDir()}

	req := httptest.NewRequest(http.MethodGet, "/logs/does/not/exist", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServeHTTPDirectoryInsideLogsIs500(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "attempt-dir")
	if err := os.MkdirAll(filepath.Join(sub, "nested"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	s := &Server{LogsPath: dir}

	req := httptest.NewRequest(http.MethodGet, "/logs/attempt-dir", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestServeHTTPRejectsNonGET(t *testing.T) {
	s := &Server{LogsPath: t.TempDir()}

	req := httptest.NewRequest(http.MethodPost, "/logs/whatever", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServeHTTPRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	outside := filepath.Join(root, "secret")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	writeFile(t, filepath.Join(outside, "leak.metadata.json"), `{"attempt_id":"x"}`)

	s := &Server{LogsPath: dir}

	req := httptest.NewRequest(http.MethodGet, "/logs/../secret", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d for path traversal attempt", rec.Code, http.StatusNotFound)
	}
}
