// Package nixeval wraps the external package-set evaluator subprocess
// ofborg shells out to (Hydra's nix-env-like evaluation). It is invoked
// twice per evaluation: once against the target branch, once against the
// merge result.
package nixeval

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg/internal/outpathdiff"
)

// UncleanEvaluationError reports non-ignorable warnings printed during an
// otherwise-successful evaluation.
type UncleanEvaluationError struct {
	Warnings []string
}

func (e *UncleanEvaluationError) Error() string {
	return "evaluator did not run cleanly: " + strings.Join(e.Warnings, "; ")
}

// CommandFailedError wraps a non-zero evaluator exit.
type CommandFailedError struct {
	Stderr string
}

func (e *CommandFailedError) Error() string {
	return "evaluator command failed:\n" + e.Stderr
}

// Evaluator drives one external evaluator invocation against a checked-out
// nixpkgs-shaped tree.
type Evaluator struct {
	// Remote is the build-farm Nix store the evaluator builds against,
	// from the nix config section.
	Remote string
	// System is the primary evaluation architecture advertised to the
	// evaluator (the config's nix.system list, first entry).
	System string
	// Timeout is the wall-clock budget before the subprocess is killed;
	// floor is 1200 seconds.
	Timeout time.Duration
	// CheckMeta toggles the evaluator's meta-attribute validation pass.
	CheckMeta bool
}

// Execute runs the evaluator rooted at path and parses its result into a
// PackageOutPaths map. A non-empty, non-ignorable stderr is reported as
// *UncleanEvaluationError even when the process exits zero.
func (e *Evaluator) Execute(ctx context.Context, path string) (outpathdiff.PackageOutPaths, error) {
	timeout := e.Timeout
	if timeout < 1200*time.Second {
		timeout = 1200 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	checkMeta := "false"
	if e.CheckMeta {
		checkMeta = "true"
	}
	outLink := filepath.Join(path, "result")

	cmd := exec.CommandContext(ctx, "nix-build",
		path,
		"-A", "eval.full",
		"--max-jobs", "1",
		"--cores", "4",
		"--arg", "nixpkgs", path,
		"--arg", "chunkSize", "10000",
		"--arg", "evalSystems", "[\""+e.System+"\"]",
		"--arg", "checkMeta", checkMeta,
		"--option", "builders", e.Remote,
		"--out-link", outLink,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		return nil, &CommandFailedError{Stderr: stderr.String()}
	}

	outpathsJSON := filepath.Join(path, "result", "outpaths.json")
	f, err := os.Open(outpathsJSON)
	if err != nil {
		return nil, xerrors.Errorf("opening evaluator output: %w", err)
	}
	defer f.Close()

	outpaths, err := outpathdiff.ParseJSON(f)
	if err != nil {
		return nil, xerrors.Errorf("parsing evaluator output: %w", err)
	}

	warnings := filterIgnorableWarnings(&stderr)
	if len(warnings) > 0 {
		return nil, &UncleanEvaluationError{Warnings: warnings}
	}

	return outpaths, nil
}

// filterIgnorableWarnings strips blank lines and known-ignorable "user
// setting" warnings from the evaluator's stderr.
func filterIgnorableWarnings(stderr *bytes.Buffer) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(stderr.Bytes()))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isUserSettingWarning(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func isUserSettingWarning(line string) bool {
	return strings.Contains(line, "warning: unknown setting") ||
		strings.Contains(line, "ignoring the user-defined setting")
}

// ParseSystems splits a comma-joined system string into its components,
// the flattened form of the config's one-or-many system field.
func ParseSystems(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FormatTimeout renders d as whole seconds, truncating any fraction.
// Execute does not pass a timeout flag; it enforces Timeout through its
// context.
func FormatTimeout(d time.Duration) string {
	return strconv.Itoa(int(d.Seconds()))
}
