package chains

import (
	"embed"
	"fmt"

	"markovsim/internal/markov"
)

//go:embed defaults/*.yaml
var defaultFiles embed.FS

// DefaultKeys lists the built-in chains in seeding order.
var DefaultKeys = []string{"ecommerce", "social_media", "streaming"}

// Default is a built-in chain definition and its registry key.
type Default struct {
	Key   string
	Draft markov.Draft
}

// Defaults decodes the embedded default chain files.
func Defaults() ([]Default, error) {
	out := make([]Default, 0, len(DefaultKeys))
	for _, key := range DefaultKeys {
		name := "defaults/" + key + ".yaml"
		data, err := defaultFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("default chain %s: %w", key, err)
		}
		d, err := ParseDraft(name, data)
		if err != nil {
			return nil, err
		}
		out = append(out, Default{Key: key, Draft: d})
	}
	return out, nil
}

// DefaultSource returns the raw YAML of a built-in chain.
func DefaultSource(key string) ([]byte, error) {
	return defaultFiles.ReadFile("defaults/" + key + ".yaml")
}
