package cache

import "log/slog"

// storeReader is the narrow slice of *store.Store the preload warmer
// needs, kept as an interface here (rather than importing internal/store
// directly) so cache stays the leaf package in the dependency graph.
type storeReader interface {
	List() ([]string, error)
	Get(key string) ([]byte, error)
}

// WarmFromStore scans every key currently in the persistent store, decrypts
// each one, and inserts it into the preload cache. Called once at startup
// when cache_strategy is "preload", per the strategy's "populated at
// startup" contract. A decrypt failure for one key is logged and skipped
// rather than aborting the whole warm-up.
func WarmFromStore(p *Preload, store storeReader, log *slog.Logger) error {
	keys, err := store.List()
	if err != nil {
		return err
	}

	for _, key := range keys {
		value, err := store.Get(key)
		if err != nil {
			log.Warn("cache: skipping undecryptable slot during preload warm-up", "key", key, "error", err)
			continue
		}
		p.Set(key, value)
	}
	return nil
}
