// Package maintainers looks up the packages impacted by a change and the
// maintainers responsible for them, by invoking the external package-set
// evaluator a third time over the changed attribute paths.
package maintainers

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// Maintainer is a forge login, case-folded to lowercase on construction
// so membership checks are case-insensitive.
type Maintainer string

// NewMaintainer lowercases login.
func NewMaintainer(login string) Maintainer {
	return Maintainer(strings.ToLower(login))
}

// Impacted maps each maintainer touched by a change to the packages that
// brought them in.
type Impacted map[Maintainer][]string

// ByPackage inverts Impacted: for each package, the set of maintainers
// responsible for it.
func (m Impacted) ByPackage() map[string]map[Maintainer]bool {
	out := make(map[string]map[Maintainer]bool)
	for maintainer, packages := range m {
		for _, pkg := range packages {
			if out[pkg] == nil {
				out[pkg] = make(map[Maintainer]bool)
			}
			out[pkg][maintainer] = true
		}
	}
	return out
}

// Maintainers returns the sorted-free list of maintainer names.
func (m Impacted) Maintainers() []Maintainer {
	out := make([]Maintainer, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Calculator invokes the external evaluator's maintainer-lookup
// expression over a checkout.
type Calculator struct {
	// NixExpr is the evaluator expression invoked, inline, with the
	// checkout as its working directory (so "import ./." resolves to the
	// working tree). It takes the changed-attrs and changed-paths JSON
	// files as arguments and yields {maintainer: [package attrpath, ...]}.
	NixExpr string
}

// Calculate runs the lookup over checkoutDir for the given changed paths
// and changed attribute-path groups, returning the impacted-maintainers
// map the evaluator printed as JSON.
func (c *Calculator) Calculate(ctx context.Context, checkoutDir string, paths []string, attributes [][]string) (Impacted, error) {
	pathFile, err := os.CreateTemp("", "ofborg-changedpaths-*.json")
	if err != nil {
		return nil, xerrors.Errorf("creating changed-paths tempfile: %w", err)
	}
	defer os.Remove(pathFile.Name())
	if err := json.NewEncoder(pathFile).Encode(paths); err != nil {
		pathFile.Close()
		return nil, xerrors.Errorf("writing changed-paths tempfile: %w", err)
	}
	pathFile.Close()

	attrFile, err := os.CreateTemp("", "ofborg-changedattrs-*.json")
	if err != nil {
		return nil, xerrors.Errorf("creating changed-attrs tempfile: %w", err)
	}
	defer os.Remove(attrFile.Name())
	if err := json.NewEncoder(attrFile).Encode(attributes); err != nil {
		attrFile.Close()
		return nil, xerrors.Errorf("writing changed-attrs tempfile: %w", err)
	}
	attrFile.Close()

	cmd := exec.CommandContext(ctx, "nix-instantiate", "--eval", "--strict", "--json",
		"--expr", c.NixExpr,
		"--argstr", "changedattrsjson", attrFile.Name(),
		"--argstr", "changedpathsjson", pathFile.Name(),
	)
	cmd.Dir = checkoutDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, xerrors.Errorf("evaluating impacted maintainers: %w: %s", err, stderr.String())
	}

	return parseImpacted(stdout.Bytes())
}

// parseImpacted decodes the evaluator's maintainer-keyed output,
// case-folding the maintainer handles.
func parseImpacted(data []byte) (Impacted, error) {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("parsing impacted maintainers output: %w", err)
	}

	out := make(Impacted, len(raw))
	for login, packages := range raw {
		out[NewMaintainer(login)] = packages
	}
	return out, nil
}
