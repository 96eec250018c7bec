package pipeline

import "github.com/deckrun/deck/internal/operator"

// Step is one named stage of a pipeline: an operator expression whose
// result, when Name is set, is bound into the context for later steps.
type Step struct {
	Name  string        `yaml:"name,omitempty" json:"name,omitempty"`
	Value operator.Node `yaml:"value" json:"value"`
}
