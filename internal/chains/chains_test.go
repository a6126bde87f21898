package chains

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"markovsim/internal/markov"
	"markovsim/internal/store"
)

const cartChain = `
name: Cart
initial_state: browse
states:
  browse:
    http_method: get
    payload:
      page: 1
    transitions:
      cart: 0.3
      browse: 0.7
  cart:
    http_method: POST
    payload: {}
    transitions:
      browse: 1.0
`

func TestParseYAML(t *testing.T) {
	c, err := Parse("cart.yaml", []byte(cartChain))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Name() != "Cart" || c.InitialState() != "browse" || c.Len() != 2 {
		t.Fatalf("unexpected chain: %s %s %d", c.Name(), c.InitialState(), c.Len())
	}
	browse, _ := c.State("browse")
	if browse.Method != markov.MethodGet {
		t.Fatalf("method = %s", browse.Method)
	}
	if browse.Transitions[0].Target != "cart" {
		t.Fatalf("document order lost: %+v", browse.Transitions)
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{"initial_state":"a","states":{"a":{"http_method":"DELETE","payload":{"id":7},"transitions":{}}}}`
	c, err := Parse("a.json", []byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a, _ := c.State("a")
	if !a.Terminal() {
		t.Fatalf("expected terminal state")
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"bad method":     "initial_state: a\nstates:\n  a:\n    http_method: HEAD\n",
		"negative":       "initial_state: a\nstates:\n  a:\n    http_method: GET\n    transitions:\n      a: -1\n",
		"unknown field":  "initial_state: a\nstates:\n  a:\n    http_method: GET\n    weight: 3\n",
		"missing init":   "states:\n  a:\n    http_method: GET\n",
		"weight sum":     "initial_state: a\nstates:\n  a:\n    http_method: GET\n    transitions:\n      a: 0.5\n",
		"dangling":       "initial_state: a\nstates:\n  a:\n    http_method: GET\n    transitions:\n      b: 1\n",
		"not a document": "- just\n- a list\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse("x.yaml", []byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	defs, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("expected 3 defaults, got %d", len(defs))
	}
	for _, d := range defs {
		c, err := markov.New(d.Draft)
		if err != nil {
			t.Fatalf("%s: %v", d.Key, err)
		}
		if c.Name() == "" {
			t.Fatalf("%s: missing name", d.Key)
		}
		if _, ok := c.State(c.InitialState()); !ok {
			t.Fatalf("%s: initial state missing", d.Key)
		}
	}
	if _, err := DefaultSource("ecommerce"); err != nil {
		t.Fatalf("DefaultSource: %v", err)
	}
}

func TestSeedDefaultsEmptyStore(t *testing.T) {
	st := store.NewMemory()
	reg := NewRegistry()
	if err := SeedDefaults(context.Background(), st, reg); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	keys := reg.Keys()
	if strings.Join(keys, ",") != "ecommerce,social_media,streaming" {
		t.Fatalf("keys = %v", keys)
	}
	list, _ := st.ListChains(context.Background())
	if len(list) != 3 {
		t.Fatalf("stored %d chains", len(list))
	}
}

func TestSeedDefaultsMapsExisting(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	first := NewRegistry()
	if err := SeedDefaults(ctx, st, first); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	second := NewRegistry()
	if err := SeedDefaults(ctx, st, second); err != nil {
		t.Fatalf("SeedDefaults again: %v", err)
	}
	list, _ := st.ListChains(ctx)
	if len(list) != 3 {
		t.Fatalf("reseeding created chains: %d", len(list))
	}
	for k, id := range first.Entries() {
		if got, _ := second.Lookup(k); got != id {
			t.Fatalf("%s mapped to %s, want %s", k, got, id)
		}
	}
}

func TestRegistryForget(t *testing.T) {
	r := NewRegistry()
	r.Set("a", "1")
	r.Set("b", "1")
	r.Set("c", "2")
	r.Forget("1")
	if keys := r.Keys(); len(keys) != 1 || keys[0] != "c" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestKeyAndIsChainFile(t *testing.T) {
	if Key("/tmp/dir/checkout.yml") != "checkout" {
		t.Fatalf("Key = %s", Key("/tmp/dir/checkout.yml"))
	}
	if IsChainFile("notes.txt") || !IsChainFile("x.json") {
		t.Fatalf("IsChainFile misclassified")
	}
}

func TestWatcherLoadsFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cart.yaml"), []byte(cartChain), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("states: nope\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan string, 8)
	st := store.NewMemory()
	reg := NewRegistry()
	w := &Watcher{Dir: dir, Store: st, Registry: reg, OnLoad: func(key string, _ *markov.Chain) { loaded <- key }}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		cancel()
		w.Wait()
	}()

	if key := <-loaded; key != "cart" {
		t.Fatalf("initial load key = %s", key)
	}
	if _, ok := reg.Lookup("broken"); ok {
		t.Fatalf("invalid file was registered")
	}

	doc := strings.Replace(cartChain, "Cart", "Checkout", 1)
	if err := os.WriteFile(filepath.Join(dir, "checkout.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case key := <-loaded:
		if key != "checkout" {
			t.Fatalf("watched load key = %s", key)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for watcher")
	}
	id, ok := reg.Lookup("checkout")
	if !ok {
		t.Fatalf("checkout not registered")
	}
	c, _ := st.GetChain(context.Background(), id)
	if c == nil || c.Name() != "Checkout" {
		t.Fatalf("stored chain = %v", c)
	}

	edited := strings.Replace(cartChain, "Cart", "Cart v2", 1)
	oldID, _ := reg.Lookup("cart")
	if err := os.WriteFile(filepath.Join(dir, "cart.yaml"), []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-loaded:
		case <-deadline:
			t.Fatalf("timed out waiting for edited cart.yaml")
		}
		if id, _ := reg.Lookup("cart"); id != oldID {
			break
		}
	}
	if old, _ := st.GetChain(context.Background(), oldID); old != nil {
		t.Fatalf("previous cart version still stored")
	}
	list, _ := st.ListChains(context.Background())
	if len(list) != 2 {
		t.Fatalf("expected cart and checkout only, got %d chains", len(list))
	}
}
