// Package logapi implements the grouping read API over a log collector's
// bundle directory: one JSON document per directory, keyed by attempt.
package logapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// Attempt is one attempt_id's grouped JSON/log-url payload.
type Attempt struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	LogURL   string          `json:"log_url,omitempty"`
}

// Response is the body served for GET /logs/<sub-path>.
type Response struct {
	Attempts map[string]*Attempt `json:"attempts"`
}

// Server serves the grouping read API over LogsPath.
type Server struct {
	LogsPath  string
	ServeRoot string
	Logger    interface{ Printf(string, ...any) }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	subPath := strings.TrimPrefix(r.URL.Path, "/logs/")
	if subPath == r.URL.Path {
		// no "/logs/" prefix at all
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("invalid uri"))
		return
	}

	root, err := filepath.EvalSymlinks(s.LogsPath)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("log dir absent"))
		return
	}

	dir := filepath.Join(s.LogsPath, subPath)
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("absent"))
		return
	}
	if !strings.HasPrefix(canonical, root) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("absent"))
		return
	}

	entries, err := os.ReadDir(canonical)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("non dir"))
		return
	}

	attempts := make(map[string]*Attempt)
	for _, e := range entries {
		if e.IsDir() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("dir found"))
			return
		}

		name := e.Name()

		switch {
		case strings.HasSuffix(name, ".metadata.json"), strings.HasSuffix(name, ".result.json"):
			attemptID, body, err := readAttemptJSON(filepath.Join(canonical, name))
			if err != nil {
				s.logf("skipping %s: %v", name, err)
				continue
			}
			a := attempts[attemptID]
			if a == nil {
				a = &Attempt{}
				attempts[attemptID] = a
			}
			if strings.HasSuffix(name, ".metadata.json") {
				a.Metadata = body
			} else {
				a.Result = body
			}

		default:
			a := attempts[name]
			if a == nil {
				a = &Attempt{}
				attempts[name] = a
			}
			a.LogURL = s.ServeRoot + "/" + subPath + "/" + name
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{Attempts: attempts})
}

// readAttemptJSON parses path as JSON and extracts its attempt_id field.
func readAttemptJSON(path string) (attemptID string, body json.RawMessage, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, xerrors.Errorf("reading %s: %w", path, err)
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &asMap); err != nil {
		return "", nil, xerrors.Errorf("%s is not a valid json object: %w", path, err)
	}

	rawID, ok := asMap["attempt_id"]
	if !ok {
		return "", nil, xerrors.Errorf("%s has no top-level attempt_id", path)
	}
	var id string
	if err := json.Unmarshal(rawID, &id); err != nil {
		return "", nil, xerrors.Errorf("%s's attempt_id is not a string: %w", path, err)
	}

	return id, json.RawMessage(data), nil
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
