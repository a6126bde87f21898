// CUE schema validation code
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

//go:embed schemas/config.cue
var configSchema []byte

// Validate checks YAML config bytes against the embedded schema and, when
// extraSchema is set, against the CUE file at that path as well.
func Validate(name string, data []byte, extraSchema string) error {
	ctx := cuecontext.New()

	file, err := yaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(file)
	if err := configVal.Err(); err != nil {
		return fmt.Errorf("cannot build config value: %w", err)
	}

	schemaVal := ctx.CompileBytes(configSchema, cue.Filename("config.cue"))
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("cannot compile config schema: %w", err)
	}
	final := schemaVal.LookupPath(cue.ParsePath("#Config")).Unify(configVal)

	if extraSchema != "" {
		extraBytes, err := os.ReadFile(extraSchema)
		if err != nil {
			return fmt.Errorf("cannot read CUE schema: %w", err)
		}
		extraVal := ctx.CompileBytes(extraBytes, cue.Filename(extraSchema))
		if err := extraVal.Err(); err != nil {
			return fmt.Errorf("cannot compile CUE schema: %w", err)
		}
		final = final.Unify(extraVal)
	}

	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
