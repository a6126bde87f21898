package markov

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Weight sums of a non-terminal state must fall inside this band.
const (
	MinWeightSum = 0.99
	MaxWeightSum = 1.01
)

// ValidationErrorKind classifies a rejected chain.
type ValidationErrorKind string

// Validation failure kinds.
const (
	NoStates            ValidationErrorKind = "no_states"
	NameMismatch        ValidationErrorKind = "name_mismatch"
	InvalidMethod       ValidationErrorKind = "invalid_method"
	InvalidWeight       ValidationErrorKind = "invalid_weight"
	WeightSum           ValidationErrorKind = "weight_sum"
	UnknownInitialState ValidationErrorKind = "unknown_initial_state"
	DanglingTransition  ValidationErrorKind = "dangling_transition"
)

// ValidationError explains why a draft could not become a Chain.
type ValidationError struct {
	Kind   ValidationErrorKind
	State  string
	Target string
	Sum    float64
	Detail string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case NoStates:
		return "chain has no states"
	case NameMismatch:
		return fmt.Sprintf("state %q declares name %q", e.State, e.Detail)
	case InvalidMethod:
		return fmt.Sprintf("state %q: %s", e.State, e.Detail)
	case InvalidWeight:
		return fmt.Sprintf("state %q: transition to %q has invalid weight %v", e.State, e.Target, e.Sum)
	case WeightSum:
		return fmt.Sprintf("state %q: transition weights must sum to approximately 1.0, got %v", e.State, e.Sum)
	case UnknownInitialState:
		return fmt.Sprintf("initial state %q not found in states", e.State)
	case DanglingTransition:
		return fmt.Sprintf("transition target %q from state %q not found in states", e.Target, e.State)
	}
	return "invalid chain"
}

// New validates d and builds an immutable Chain. Weights are never
// rescaled; a draft outside tolerance is rejected.
func New(d Draft) (*Chain, error) {
	if len(d.States) == 0 {
		return nil, &ValidationError{Kind: NoStates}
	}
	names := make([]string, 0, len(d.States))
	for n := range d.States {
		names = append(names, n)
	}
	sort.Strings(names)

	states := make(map[string]*State, len(d.States))
	for _, name := range names {
		sd := d.States[name]
		if sd.Name != "" && sd.Name != name {
			return nil, &ValidationError{Kind: NameMismatch, State: name, Detail: sd.Name}
		}
		m, err := ParseMethod(sd.Method)
		if err != nil {
			return nil, &ValidationError{Kind: InvalidMethod, State: name, Detail: err.Error()}
		}
		for _, tr := range sd.Transitions {
			if tr.Weight < 0 || math.IsNaN(tr.Weight) || math.IsInf(tr.Weight, 0) {
				return nil, &ValidationError{Kind: InvalidWeight, State: name, Target: tr.Target, Sum: tr.Weight}
			}
		}
		if len(sd.Transitions) > 0 {
			sum := sd.Transitions.Sum()
			if sum < MinWeightSum || sum > MaxWeightSum {
				return nil, &ValidationError{Kind: WeightSum, State: name, Sum: sum}
			}
		}
		states[name] = &State{
			Name:        name,
			Method:      m,
			Payload:     ClonePayload(sd.Payload),
			Transitions: append(Transitions(nil), sd.Transitions...),
		}
	}

	if _, ok := states[d.InitialState]; !ok {
		return nil, &ValidationError{Kind: UnknownInitialState, State: d.InitialState}
	}
	for _, name := range names {
		for _, tr := range states[name].Transitions {
			if _, ok := states[tr.Target]; !ok {
				return nil, &ValidationError{Kind: DanglingTransition, State: name, Target: tr.Target}
			}
		}
	}

	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Chain{
		id:           id,
		name:         d.Name,
		description:  d.Description,
		initialState: d.InitialState,
		states:       states,
	}, nil
}
