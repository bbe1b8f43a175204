// Package commentparser implements the minimal command grammar the comment
// filter consumes: "@ofborg build <attrs...>", "@ofborg build.nixos
// <attrs...>", and "@ofborg eval", one instruction per line. The full
// comment grammar ofborg accepts is out of scope; this is only enough to
// exercise the filter's consumer contract.
package commentparser

import (
	"strings"

	"github.com/ofborg-go/ofborg/internal/message"
)

// InstructionKind distinguishes the two instruction forms.
type InstructionKind int

const (
	Build InstructionKind = iota
	Eval
)

// Instruction is one parsed command line.
type Instruction struct {
	Kind   InstructionKind
	Subset message.Subset // valid when Kind == Build
	Attrs  []string       // valid when Kind == Build
}

const trigger = "@ofborg"

// Parse scans body line by line for "@ofborg" commands. It returns nil if
// no line contains a recognized command.
func Parse(body string) []Instruction {
	var out []Instruction
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 || !strings.EqualFold(fields[0], trigger) {
			continue
		}

		switch {
		case strings.EqualFold(fields[1], "eval"):
			out = append(out, Instruction{Kind: Eval})

		case strings.EqualFold(fields[1], "build"):
			out = append(out, Instruction{
				Kind:   Build,
				Subset: message.SubsetFull,
				Attrs:  fields[2:],
			})

		case strings.EqualFold(fields[1], "build.nixos"):
			out = append(out, Instruction{
				Kind:   Build,
				Subset: message.SubsetNixOS,
				Attrs:  fields[2:],
			})
		}
	}
	return out
}
