package session

import (
	"fmt"
	"strings"
)

// Flow names a multi-step conversation.
type Flow string

const (
	FlowRegistration Flow = "registration"
	FlowListing      Flow = "listing"
	FlowPurchase     Flow = "purchase"
	FlowTrade        Flow = "trade"
)

// Step is the participant's position in a conversation. The zero value is
// the root step (main menu, no flow in progress).
type Step struct {
	Flow  Flow   `json:"flow,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// Root is the neutral step outside any flow.
var Root = Step{}

// At builds a step within a flow.
func At(flow Flow, stage string) Step {
	return Step{Flow: flow, Stage: stage}
}

// IsRoot reports whether the step is outside any flow.
func (s Step) IsRoot() bool {
	return s.Flow == "" && s.Stage == ""
}

// String encodes the step as "flow:stage" for logs and storage.
func (s Step) String() string {
	if s.IsRoot() {
		return "root"
	}
	return fmt.Sprintf("%s:%s", s.Flow, s.Stage)
}

// ParseStep decodes a step produced by String.
func ParseStep(raw string) (Step, error) {
	if raw == "" || raw == "root" {
		return Root, nil
	}
	flow, stage, ok := strings.Cut(raw, ":")
	if !ok || flow == "" || stage == "" {
		return Root, fmt.Errorf("malformed step %q", raw)
	}
	switch Flow(flow) {
	case FlowRegistration, FlowListing, FlowPurchase, FlowTrade:
		return Step{Flow: Flow(flow), Stage: stage}, nil
	}
	return Root, fmt.Errorf("unknown flow in step %q", raw)
}
