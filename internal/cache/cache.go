// Package cache implements the two cache strategies in front of the
// persistent store: an in-process preloaded map, and a shared, untrusted
// memcache-backed cache protected by per-instance authenticated encryption.
package cache

// Cache is the interface the request server consults before falling back to
// the persistent store. Both strategies satisfy it.
type Cache interface {
	// Get returns the cached plaintext for key, if present.
	Get(key string) ([]byte, bool)

	// Set inserts or replaces the cached plaintext for key.
	Set(key string, value []byte)
}
