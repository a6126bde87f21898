// Package markov models user-behavior Markov chains: states, weighted
// transitions and the action broadcast when a state is visited.
package markov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Method is the HTTP verb a state broadcasts to agents.
type Method string

// Supported methods.
const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// Methods lists every supported method.
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch}

// ParseMethod resolves s case-insensitively to a supported Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unsupported http method %q", s)
}

// IsRead reports whether the payload travels as query parameters.
func (m Method) IsRead() bool { return m == MethodGet }

// Transition is one weighted edge to another state.
type Transition struct {
	Target string
	Weight float64
}

// Transitions is an ordered set of outgoing edges. Document order is kept
// when decoding so sampling walks the edges in a stable order.
type Transitions []Transition

// Sum returns the total weight.
func (t Transitions) Sum() float64 {
	var total float64
	for _, tr := range t {
		total += tr.Weight
	}
	return total
}

// Weight returns the weight of the edge to target.
func (t Transitions) Weight(target string) (float64, bool) {
	for _, tr := range t {
		if tr.Target == target {
			return tr.Weight, true
		}
	}
	return 0, false
}

// MarshalJSON writes the transitions as an object in edge order.
func (t Transitions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tr := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(tr.Target)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(tr.Weight, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of target -> weight preserving key order.
func (t *Transitions) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*t = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("transitions: expected object, got %v", tok)
	}
	var out Transitions
	seen := make(map[string]bool)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("transitions: unexpected key %v", kt)
		}
		var w float64
		if err := dec.Decode(&w); err != nil {
			return fmt.Errorf("transition %q: %w", key, err)
		}
		if seen[key] {
			return fmt.Errorf("transition %q: duplicate target", key)
		}
		seen[key] = true
		out = append(out, Transition{Target: key, Weight: w})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*t = out
	return nil
}

// UnmarshalYAML reads a mapping of target -> weight preserving key order.
func (t *Transitions) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		*t = nil
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("transitions: line %d: expected mapping", n.Line)
	}
	out := make(Transitions, 0, len(n.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		var w float64
		if err := n.Content[i+1].Decode(&w); err != nil {
			return fmt.Errorf("transition %q: %w", key, err)
		}
		if seen[key] {
			return fmt.Errorf("transition %q: duplicate target", key)
		}
		seen[key] = true
		out = append(out, Transition{Target: key, Weight: w})
	}
	*t = out
	return nil
}

// State is one node of a chain.
type State struct {
	Name        string
	Method      Method
	Payload     map[string]any
	Transitions Transitions
}

// Terminal reports whether the state has no outgoing edges.
func (s *State) Terminal() bool { return len(s.Transitions) == 0 }

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	cp := *s
	cp.Payload = ClonePayload(s.Payload)
	cp.Transitions = append(Transitions(nil), s.Transitions...)
	return &cp
}

// Chain is a validated state machine. It is only built by New and is
// read-only afterwards.
type Chain struct {
	id           string
	name         string
	description  string
	initialState string
	states       map[string]*State
}

// ID returns the chain identifier.
func (c *Chain) ID() string { return c.id }

// Name returns the display name.
func (c *Chain) Name() string { return c.name }

// Description returns the optional description.
func (c *Chain) Description() string { return c.description }

// InitialState returns the name of the state every run starts in.
func (c *Chain) InitialState() string { return c.initialState }

// Len returns the number of states.
func (c *Chain) Len() int { return len(c.states) }

// State looks up a state by name. The result is a copy; changing it does
// not affect the chain.
func (c *Chain) State(name string) (*State, bool) {
	s, ok := c.states[name]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// StateNames returns the state names sorted.
func (c *Chain) StateNames() []string {
	names := make([]string, 0, len(c.states))
	for n := range c.states {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Draft converts the chain back to its document form.
func (c *Chain) Draft() Draft {
	d := Draft{
		ID:           c.id,
		Name:         c.name,
		Description:  c.description,
		InitialState: c.initialState,
		States:       make(map[string]StateDraft, len(c.states)),
	}
	for name, s := range c.states {
		d.States[name] = StateDraft{
			Name:        s.Name,
			Method:      string(s.Method),
			Payload:     ClonePayload(s.Payload),
			Transitions: append(Transitions(nil), s.Transitions...),
		}
	}
	return d
}

// MarshalJSON encodes the chain in the same shape Draft decodes from.
func (c *Chain) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Draft())
}

// Draft is an unvalidated chain document as received from a file or API.
type Draft struct {
	ID           string                `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string                `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string                `json:"description,omitempty" yaml:"description,omitempty"`
	InitialState string                `json:"initial_state" yaml:"initial_state"`
	States       map[string]StateDraft `json:"states" yaml:"states"`
}

// StateDraft is one state of a Draft. Name is optional and must match its
// key when present.
type StateDraft struct {
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Method      string         `json:"http_method" yaml:"http_method"`
	Payload     map[string]any `json:"payload" yaml:"payload,omitempty"`
	Transitions Transitions    `json:"transitions" yaml:"transitions"`
}

// ClonePayload deep-copies a JSON-like document.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ClonePayload(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}
