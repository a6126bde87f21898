// Package chains loads chain definition files, ships the default chains and
// keeps the registry that maps stable keys to stored chain ids.
package chains

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"markovsim/internal/markov"
)

//go:embed schema.cue
var schemaSource []byte

// Validate checks a YAML or JSON chain document against the chain schema.
// name is only used in error messages.
func Validate(name string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile chain schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("%s: cannot parse document: %w", name, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	final := schema.LookupPath(cue.ParsePath("#Chain")).Unify(doc)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s: schema validation failed: %w", name, err)
	}
	return nil
}

// ParseDraft validates data and decodes it into a draft without running
// the semantic checks.
func ParseDraft(name string, data []byte) (markov.Draft, error) {
	var d markov.Draft
	if err := Validate(name, data); err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// Parse validates and decodes a chain document into a Chain.
func Parse(name string, data []byte) (*markov.Chain, error) {
	d, err := ParseDraft(name, data)
	if err != nil {
		return nil, err
	}
	c, err := markov.New(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// LoadFile reads and parses the chain file at path.
func LoadFile(path string) (*markov.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(filepath.Base(path), data)
}

// IsChainFile reports whether path has a chain document extension.
func IsChainFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Key returns the registry key for a chain file: its base name without
// the extension.
func Key(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
