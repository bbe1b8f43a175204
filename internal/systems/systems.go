// Package systems is the architecture catalog: which build destinations
// (exchange/routing-key pairs) exist, and which architectures may run
// NixOS VM tests.
package systems

import "fmt"

// System identifies a build architecture by its Nix system string.
type System string

const (
	X8664Linux    System = "x86_64-linux"
	Aarch64Linux  System = "aarch64-linux"
	X8664Darwin   System = "x86_64-darwin"
	Aarch64Darwin System = "aarch64-darwin"
)

// All enumerates every architecture the pipeline knows how to route to.
var All = []System{X8664Linux, Aarch64Linux, X8664Darwin, Aarch64Darwin}

// BuildDestination returns the exchange and routing key a BuildJob for
// this system is published to: the default exchange, addressed straight at
// the system's build-inputs queue. The build-jobs fanout exchange the
// queues are also bound to only carries traffic in dev mode, where one
// ephemeral queue wants to see every job.
func (s System) BuildDestination() (exchange, routingKey string) {
	return "", fmt.Sprintf("build-inputs-%s", string(s))
}

// CanRunNixOSTests reports whether this architecture can evaluate the
// nixos subset (VM tests require a Linux kernel).
func (s System) CanRunNixOSTests() bool {
	switch s {
	case X8664Linux, Aarch64Linux:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known architecture.
func Valid(s string) bool {
	for _, known := range All {
		if string(known) == s {
			return true
		}
	}
	return false
}
