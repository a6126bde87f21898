package markov

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"gopkg.in/yaml.v3"
)

type fixedSource struct{ r float64 }

func (f fixedSource) Float64() float64 { return f.r }

func abcState() *State {
	return &State{
		Name:   "start",
		Method: MethodGet,
		Transitions: Transitions{
			{Target: "A", Weight: 0.3},
			{Target: "B", Weight: 0.3},
			{Target: "C", Weight: 0.4},
		},
	}
}

func TestNextStateCumulativeWalk(t *testing.T) {
	cases := []struct {
		r    float64
		want string
	}{
		{0.0, "A"},
		{0.29, "A"},
		{0.31, "B"},
		{0.65, "C"},
		{0.999999, "C"},
	}
	s := abcState()
	for _, tc := range cases {
		if got := NextState(s, fixedSource{tc.r}); got != tc.want {
			t.Errorf("r=%v: got %s, want %s", tc.r, got, tc.want)
		}
	}
}

func TestNextStateFallbackToLast(t *testing.T) {
	s := &State{Name: "s", Transitions: Transitions{{Target: "x", Weight: 0.5}, {Target: "y", Weight: 0.495}}}
	if got := NextState(s, fixedSource{0.999}); got != "y" {
		t.Fatalf("expected fallback to last transition, got %s", got)
	}
}

func TestNextStateTerminal(t *testing.T) {
	s := &State{Name: "done", Method: MethodGet}
	for _, r := range []float64{0, 0.5, 0.999999} {
		if got := NextState(s, fixedSource{r}); got != "done" {
			t.Fatalf("r=%v: terminal state should loop, got %s", r, got)
		}
	}
}

func TestNextStateSeededReproducible(t *testing.T) {
	s := abcState()
	a := rand.New(rand.NewSource(42))
	b := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		if NextState(s, a) != NextState(s, b) {
			t.Fatalf("same seed diverged at draw %d", i)
		}
	}
}

func validDraft() Draft {
	return Draft{
		Name:         "shop",
		InitialState: "home",
		States: map[string]StateDraft{
			"home":    {Method: "GET", Transitions: Transitions{{"product", 0.7}, {"cart", 0.3}}},
			"product": {Method: "get", Payload: map[string]any{"id": 1}, Transitions: Transitions{{"home", 1}}},
			"cart":    {Method: "POST", Payload: map[string]any{"qty": 2}},
		},
	}
}

func TestNewValidChain(t *testing.T) {
	c, err := New(validDraft())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.ID() == "" {
		t.Fatalf("expected generated id")
	}
	if c.InitialState() != "home" || c.Len() != 3 {
		t.Fatalf("unexpected chain: %s %d", c.InitialState(), c.Len())
	}
	p, ok := c.State("product")
	if !ok || p.Method != MethodGet || p.Name != "product" {
		t.Fatalf("unexpected product state: %+v", p)
	}
	cart, _ := c.State("cart")
	if !cart.Terminal() {
		t.Fatalf("cart should be terminal")
	}
}

func TestNewKeepsDraftIsolated(t *testing.T) {
	d := validDraft()
	c, err := New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.States["product"].Payload["id"] = 99
	p, _ := c.State("product")
	if p.Payload["id"] != 1 {
		t.Fatalf("chain payload changed with draft: %v", p.Payload["id"])
	}
}

func TestStateReturnsCopy(t *testing.T) {
	c, err := New(validDraft())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, _ := c.State("product")
	p.Transitions[0].Weight = 7
	p.Transitions = append(p.Transitions, Transition{Target: "nowhere", Weight: 1})
	p.Payload["id"] = 42

	again, _ := c.State("product")
	if sum := again.Transitions.Sum(); sum < MinWeightSum || sum > MaxWeightSum {
		t.Fatalf("chain transitions changed through returned state: %+v", again.Transitions)
	}
	if _, ok := again.Transitions.Weight("nowhere"); ok {
		t.Fatalf("appended edge leaked into chain")
	}
	if again.Payload["id"] != 1 {
		t.Fatalf("chain payload changed through returned state: %v", again.Payload)
	}
}

func TestNewRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Draft)
		kind   ValidationErrorKind
	}{
		{"no states", func(d *Draft) { d.States = nil }, NoStates},
		{"weight sum low", func(d *Draft) {
			d.States["home"] = StateDraft{Method: "GET", Transitions: Transitions{{"product", 0.7}, {"cart", 0.2}}}
		}, WeightSum},
		{"weight sum high", func(d *Draft) {
			d.States["home"] = StateDraft{Method: "GET", Transitions: Transitions{{"product", 0.7}, {"cart", 0.32}}}
		}, WeightSum},
		{"negative weight", func(d *Draft) {
			d.States["home"] = StateDraft{Method: "GET", Transitions: Transitions{{"product", 1.5}, {"cart", -0.5}}}
		}, InvalidWeight},
		{"bad method", func(d *Draft) {
			d.States["cart"] = StateDraft{Method: "INVALID"}
		}, InvalidMethod},
		{"unknown initial", func(d *Draft) { d.InitialState = "nowhere" }, UnknownInitialState},
		{"dangling", func(d *Draft) {
			d.States["product"] = StateDraft{Method: "GET", Transitions: Transitions{{"checkout", 1}}}
		}, DanglingTransition},
		{"name mismatch", func(d *Draft) {
			d.States["cart"] = StateDraft{Name: "basket", Method: "GET"}
		}, NameMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDraft()
			tc.mutate(&d)
			c, err := New(d)
			if c != nil {
				t.Fatalf("expected no chain")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s (%v)", ve.Kind, tc.kind, err)
			}
		})
	}
}

func TestWeightSumErrorReportsStateAndSum(t *testing.T) {
	d := validDraft()
	d.States["home"] = StateDraft{Method: "GET", Transitions: Transitions{{"product", 0.7}, {"cart", 0.2}}}
	_, err := New(d)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.State != "home" || ve.Sum < 0.89 || ve.Sum > 0.91 {
		t.Fatalf("unexpected error detail: %+v", ve)
	}
}

func TestTransitionsJSONKeepsOrder(t *testing.T) {
	var tr Transitions
	if err := json.Unmarshal([]byte(`{"zeta":0.1,"alpha":0.5,"mid":0.4}`), &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"zeta", "alpha", "mid"}
	for i, w := range want {
		if tr[i].Target != w {
			t.Fatalf("order[%d] = %s, want %s", i, tr[i].Target, w)
		}
	}
	b, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"zeta":0.1,"alpha":0.5,"mid":0.4}` {
		t.Fatalf("marshal = %s", b)
	}
}

func TestTransitionsJSONDuplicate(t *testing.T) {
	var tr Transitions
	if err := json.Unmarshal([]byte(`{"a":0.5,"a":0.5}`), &tr); err == nil {
		t.Fatalf("expected duplicate target error")
	}
}

func TestTransitionsYAMLKeepsOrder(t *testing.T) {
	var sd StateDraft
	doc := "http_method: GET\ntransitions:\n  well: 0.2\n  apple: 0.8\n"
	if err := yaml.Unmarshal([]byte(doc), &sd); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(sd.Transitions) != 2 || sd.Transitions[0].Target != "well" || sd.Transitions[1].Target != "apple" {
		t.Fatalf("unexpected transitions: %+v", sd.Transitions)
	}
}

func TestChainJSONRoundTripValidates(t *testing.T) {
	c, err := New(validDraft())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var d Draft
	if err := json.Unmarshal(b, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	c2, err := New(d)
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if c2.ID() != c.ID() || c2.Len() != c.Len() {
		t.Fatalf("round trip changed chain")
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod("patch"); err != nil || m != MethodPatch {
		t.Fatalf("ParseMethod(patch) = %s, %v", m, err)
	}
	if _, err := ParseMethod("TRACE"); err == nil {
		t.Fatalf("expected error for TRACE")
	}
	if !MethodGet.IsRead() || MethodPost.IsRead() {
		t.Fatalf("IsRead mismatch")
	}
}
