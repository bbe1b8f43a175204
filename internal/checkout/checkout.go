// Package checkout is the VCS collaborator: it clones and mutates a
// working copy via git subprocesses rather than a git library, the same
// way the evaluator shells out to nix.
package checkout

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

// MergeConflictError is returned by WorkingCopy.MergeCommit when the merge
// does not apply cleanly.
type MergeConflictError struct {
	SHA    string
	Detail string
}

func (e *MergeConflictError) Error() string {
	return "merge conflict merging " + e.SHA + ": " + e.Detail
}

// Checkout caches clones per (fullName, cloneURL) under Root, giving each
// process instance its own subdirectory so horizontally-scaled evaluators
// don't collide on the same clone.
type Checkout struct {
	Root     string
	Instance uint8

	mu     sync.Mutex
	clones map[string]*sync.Mutex
}

// New returns a Checkout rooted at root for this process's instance
// number.
func New(root string, instance uint8) *Checkout {
	return &Checkout{Root: root, Instance: instance, clones: make(map[string]*sync.Mutex)}
}

func (c *Checkout) cloneDir(fullName, cloneURL string) string {
	h := sha256.Sum256([]byte(fullName + "\x00" + cloneURL))
	return filepath.Join(c.Root, instanceDir(c.Instance), hex.EncodeToString(h[:8]))
}

func instanceDir(instance uint8) string {
	return "instance-" + strconv.Itoa(int(instance))
}

func (c *Checkout) lockFor(dir string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.clones[dir]; ok {
		return m
	}
	m := &sync.Mutex{}
	c.clones[dir] = m
	return m
}

// CloneFor returns a serialized WorkingCopy for fullName/cloneURL,
// cloning it fresh if it has never been seen before and fetching
// otherwise. Concurrent callers for the same repo block on a per-clone
// lock rather than racing the working tree.
func (c *Checkout) CloneFor(ctx context.Context, fullName, cloneURL string) (*WorkingCopy, error) {
	dir := c.cloneDir(fullName, cloneURL)
	lock := c.lockFor(dir)
	lock.Lock()

	wc := &WorkingCopy{dir: dir, cloneURL: cloneURL, release: lock.Unlock}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if mkErr := os.MkdirAll(filepath.Dir(dir), 0o755); mkErr != nil {
			lock.Unlock()
			return nil, xerrors.Errorf("creating clone parent dir: %w", mkErr)
		}
		if err := wc.run(ctx, filepath.Dir(dir), "git", "clone", cloneURL, dir); err != nil {
			lock.Unlock()
			return nil, xerrors.Errorf("cloning %s: %w", cloneURL, err)
		}
	} else {
		if err := wc.run(ctx, dir, "git", "fetch", "origin"); err != nil {
			lock.Unlock()
			return nil, xerrors.Errorf("fetching %s: %w", cloneURL, err)
		}
	}

	return wc, nil
}

// WorkingCopy is one serialized checkout. Release must be called when the
// caller is done with it.
type WorkingCopy struct {
	dir      string
	cloneURL string
	release  func()
}

// Release unlocks the clone for the next caller.
func (w *WorkingCopy) Release() { w.release() }

// Dir is the working tree's path on disk.
func (w *WorkingCopy) Dir() string { return w.dir }

func (w *WorkingCopy) run(ctx context.Context, dir string, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%v: %w: %s", argv, err, stderr.String())
	}
	return nil
}

func (w *WorkingCopy) output(ctx context.Context, argv ...string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = w.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", xerrors.Errorf("%v: %w: %s", argv, err, stderr.String())
	}
	return stdout.String(), nil
}

// CheckoutOriginRef resets the working tree to origin/branch, failing if
// the ref does not exist.
func (w *WorkingCopy) CheckoutOriginRef(ctx context.Context, branch string) (string, error) {
	if err := w.run(ctx, w.dir, "git", "checkout", "-f", "origin/"+branch); err != nil {
		return "", xerrors.Errorf("checking out origin/%s: %w", branch, err)
	}
	return w.dir, nil
}

// FetchPR fetches the refs for pull request number.
func (w *WorkingCopy) FetchPR(ctx context.Context, number int) error {
	ref := prRef(number)
	if err := w.run(ctx, w.dir, "git", "fetch", "origin", ref+":"+ref); err != nil {
		return xerrors.Errorf("fetching pr #%d: %w", number, err)
	}
	return nil
}

func prRef(number int) string {
	return "refs/pull/" + strconv.Itoa(number) + "/head"
}

// CommitExists reports whether sha is reachable in this working copy.
func (w *WorkingCopy) CommitExists(ctx context.Context, sha string) bool {
	_, err := w.output(ctx, "git", "cat-file", "-e", sha)
	return err == nil
}

// MergeCommit merges sha into the current HEAD. A non-clean merge returns
// *MergeConflictError and aborts the merge.
func (w *WorkingCopy) MergeCommit(ctx context.Context, sha string) error {
	if err := w.run(ctx, w.dir, "git", "merge", "--no-edit", sha); err != nil {
		_ = w.run(ctx, w.dir, "git", "merge", "--abort")
		return &MergeConflictError{SHA: sha, Detail: err.Error()}
	}
	return nil
}

// FilesChangedFromHead lists paths that differ between sha and the
// current HEAD.
func (w *WorkingCopy) FilesChangedFromHead(ctx context.Context, sha string) ([]string, error) {
	out, err := w.output(ctx, "git", "diff", "--name-only", sha, "HEAD")
	if err != nil {
		return nil, xerrors.Errorf("diffing files from %s: %w", sha, err)
	}
	return splitNonEmptyLines(out), nil
}

// CommitMessagesFromHead lists the one-line subjects of commits between
// sha and HEAD, oldest first.
func (w *WorkingCopy) CommitMessagesFromHead(ctx context.Context, sha string) ([]string, error) {
	out, err := w.output(ctx, "git", "log", "--reverse", "--format=%s", sha+"..HEAD")
	if err != nil {
		return nil, xerrors.Errorf("listing commit messages from %s: %w", sha, err)
	}
	return splitNonEmptyLines(out), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
