package cache

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	cryptoDomain "github.com/keynanny/keynannyd/internal/crypto/domain"
	cryptoService "github.com/keynanny/keynannyd/internal/crypto/service"
)

// aeadNonceSize is fixed at 12 bytes for both wired algorithms (AES-256-GCM
// and ChaCha20-Poly1305 both use a 96-bit nonce), so the wire format can
// split nonce from ciphertext without a length prefix of its own.
const aeadNonceSize = 12

// Memcache is the shared, untrusted cache strategy. Every entry placed in
// the shared cache is wrapped in an AEAD envelope keyed by this process's
// InstanceKey, with the namespace and cache key as associated data; on
// retrieval, the decrypted payload's embedded cache key is compared
// byte-for-byte against the expected one as a second, explicit integrity
// check on top of the AEAD tag. The local in-process map is always
// consulted first, so a live shared-cache connection is not on the hot path
// for a repeat read.
type Memcache struct {
	local     *Preload
	namespace string
	aead      cryptoService.AEAD
	client    MemcacheClient
	log       *slog.Logger
}

// NewMemcache builds a Memcache strategy. alg selects the AEAD cipher
// (cryptoDomain.AESGCM or cryptoDomain.ChaCha20) used to protect entries
// under the given InstanceKey.
func NewMemcache(namespace string, instanceKey *InstanceKey, manager cryptoService.AEADManager, alg cryptoDomain.Algorithm, client MemcacheClient, log *slog.Logger) (*Memcache, error) {
	aead, err := manager.CreateCipher(instanceKey.Bytes(), alg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Memcache{
		local:     NewPreload(),
		namespace: namespace,
		aead:      aead,
		client:    client,
		log:       log,
	}, nil
}

// cacheKey renders the shared-cache key format: skeepd:<namespace>:<secret_key>:
func cacheKey(namespace, secretKey string) string {
	return fmt.Sprintf("skeepd:%s:%s:", namespace, secretKey)
}

// Get consults the local map first, then the shared cache. A shared-cache
// hit whose AEAD tag fails to verify, or whose embedded cache key doesn't
// match, is treated as a miss and logged as tampering rather than returned
// or surfaced as an error.
func (m *Memcache) Get(key string) ([]byte, bool) {
	if v, ok := m.local.Get(key); ok {
		return v, true
	}

	ck := cacheKey(m.namespace, key)
	wire, ok := m.client.Get(ck)
	if !ok {
		return nil, false
	}

	plaintext, ok := m.decode(ck, wire)
	if !ok {
		m.log.Warn("cache: shared cache entry failed integrity check, treating as miss", "key", key)
		return nil, false
	}

	m.local.Set(key, plaintext)
	return plaintext, true
}

// Set writes through to both the local map and, best-effort, the shared
// cache. A shared-cache write failure is logged but never surfaced: the
// local map and the persistent store remain authoritative.
func (m *Memcache) Set(key string, value []byte) {
	m.local.Set(key, value)

	ck := cacheKey(m.namespace, key)
	wire, err := m.encode(ck, value)
	if err != nil {
		m.log.Warn("cache: failed to seal shared cache entry", "key", key, "error", err)
		return
	}
	if err := m.client.Set(ck, wire); err != nil {
		m.log.Warn("cache: failed to write shared cache entry", "key", key, "error", err)
	}
}

// encode seals length(cache_key) + ":" + cache_key + plaintext under the
// instance AEAD, with namespace+cache_key as associated data, and prefixes
// the nonce onto the returned wire value.
func (m *Memcache) encode(cacheKey string, plaintext []byte) ([]byte, error) {
	header := strconv.Itoa(len(cacheKey)) + ":" + cacheKey
	payload := make([]byte, 0, len(header)+len(plaintext))
	payload = append(payload, header...)
	payload = append(payload, plaintext...)

	aad := []byte(m.namespace + ":" + cacheKey)
	ciphertext, nonce, err := m.aead.Encrypt(payload, aad)
	if err != nil {
		return nil, err
	}

	wire := make([]byte, 0, len(nonce)+len(ciphertext))
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)
	return wire, nil
}

// decode reverses encode and verifies the embedded cache key matches
// expectedKey. A malformed wire value, a failed AEAD tag, or a mismatched
// embedded key all return ok=false.
func (m *Memcache) decode(expectedKey string, wire []byte) ([]byte, bool) {
	if len(wire) < aeadNonceSize {
		return nil, false
	}
	nonce, ciphertext := wire[:aeadNonceSize], wire[aeadNonceSize:]

	aad := []byte(m.namespace + ":" + expectedKey)
	payload, err := m.aead.Decrypt(ciphertext, nonce, aad)
	if err != nil {
		return nil, false
	}

	idx := strings.IndexByte(string(payload), ':')
	if idx == -1 {
		return nil, false
	}
	n, err := strconv.Atoi(string(payload[:idx]))
	if err != nil || n < 0 {
		return nil, false
	}
	rest := payload[idx+1:]
	if len(rest) < n {
		return nil, false
	}
	gotKey := string(rest[:n])
	if gotKey != expectedKey {
		return nil, false
	}
	return rest[n:], true
}
