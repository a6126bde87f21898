package chains

import (
	"context"
	"fmt"

	"markovsim/internal/logging"
	"markovsim/internal/markov"
	"markovsim/internal/store"
)

// SeedDefaults makes the built-in chains available under their keys. An
// empty store gets fresh copies of every default; otherwise existing chains
// are matched to keys by name and nothing is created.
func SeedDefaults(ctx context.Context, st store.ChainStore, reg *Registry) error {
	log := logging.FromContext(ctx)
	defaults, err := Defaults()
	if err != nil {
		return err
	}

	existing, err := st.ListChains(ctx)
	if err != nil {
		return fmt.Errorf("list chains: %w", err)
	}

	if len(existing) > 0 {
		byName := make(map[string]string, len(existing))
		for _, c := range existing {
			byName[c.Name()] = c.ID()
		}
		for _, d := range defaults {
			if id, ok := byName[d.Draft.Name]; ok {
				reg.Set(d.Key, id)
				log.Debug("mapped default chain", "key", d.Key, "chain_id", id)
			}
		}
		log.Info("using existing chains", "count", len(existing), "defaults_mapped", len(reg.Keys()))
		return nil
	}

	for _, d := range defaults {
		c, err := markov.New(d.Draft)
		if err != nil {
			return fmt.Errorf("default chain %s: %w", d.Key, err)
		}
		if err := st.CreateChain(ctx, c); err != nil {
			return fmt.Errorf("store default chain %s: %w", d.Key, err)
		}
		reg.Set(d.Key, c.ID())
		log.Info("created default chain", "key", d.Key, "chain_id", c.ID(), "states", c.Len())
	}
	return nil
}
