package models

// Capability is a coarse permission attached to an agent. Capabilities are
// declared at construction and never widen at runtime.
type Capability string

const (
	CapReadOnly Capability = "read_only"
	CapDesign   Capability = "design"
	CapFileEdit Capability = "file_edit"
	CapBashExec Capability = "bash_exec"
	CapNetwork  Capability = "network"
)

// CapabilitySet answers membership questions for an agent's declared
// capabilities.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether the capability was declared.
func (s CapabilitySet) Has(c Capability) bool { return s[c] }

// List returns the declared capabilities in a stable order.
func (s CapabilitySet) List() []Capability {
	order := []Capability{CapReadOnly, CapDesign, CapFileEdit, CapBashExec, CapNetwork}
	var out []Capability
	for _, c := range order {
		if s[c] {
			out = append(out, c)
		}
	}
	return out
}

// RouteDecision names the agent chosen for an input and the confidence of
// that choice. A nil decision means no agent met the acceptance threshold.
type RouteDecision struct {
	Agent      string
	Confidence float64
}

// RouteSuggestion is a near-miss candidate offered for disambiguation.
type RouteSuggestion struct {
	Agent      string
	Confidence float64
}
