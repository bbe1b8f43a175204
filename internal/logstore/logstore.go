// Package logstore writes the log collector's attempt bundles: one
// write-once metadata/result JSON pair plus raw compressed log segments
// per (request_id, attempt_id).
package logstore

import (
	"log"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"
)

// Store roots a log collector's on-disk bundle tree.
type Store struct {
	LogsPath string
	Logger   *log.Logger
}

// bundleDir returns "<LogsPath>/<owner>/<repo>/<pr>/<requestID>", creating
// it if absent.
func (s *Store) bundleDir(owner, repo string, pr int, requestID string) (string, error) {
	dir := filepath.Join(s.LogsPath, sanitize(owner), sanitize(repo), itoa(pr), sanitize(requestID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Errorf("creating bundle dir %s: %w", dir, err)
	}
	return dir, nil
}

// sanitize strips path separators out of identifiers taken from messages
// before they are used as path components.
func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' || c == '\\' || c == 0 {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// WriteJSON writes one <attemptID>.<kind>.json file atomically. kind is
// "metadata" or "result". A second write for the same (bundle, attempt,
// kind) is a logged no-op, never an error surfaced to the broker: the log
// collector never retries write failures beyond the broker's own
// redelivery.
func (s *Store) WriteJSON(owner, repo string, pr int, requestID, attemptID, kind string, body []byte) error {
	dir, err := s.bundleDir(owner, repo, pr, requestID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, sanitize(attemptID)+"."+kind+".json")

	if _, err := os.Stat(path); err == nil {
		s.logf("WARN write-once file already present, ignoring: %s", path)
		return nil
	}

	if err := renameio.WriteFile(path, body, 0o644); err != nil {
		return xerrors.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// AppendLogSegment appends chunk (raw bytes) to the gzip-compressed log
// segment <attemptID>.log.gz, creating it on first write.
func (s *Store) AppendLogSegment(owner, repo string, pr int, requestID, attemptID string, chunk []byte) error {
	dir, err := s.bundleDir(owner, repo, pr, requestID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, sanitize(attemptID)+".log.gz")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Errorf("opening log segment %s: %w", path, err)
	}
	defer f.Close()

	gz := pgzip.NewWriter(f)
	if _, err := gz.Write(chunk); err != nil {
		return xerrors.Errorf("writing log segment %s: %w", path, err)
	}
	return gz.Close()
}

func (s *Store) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
