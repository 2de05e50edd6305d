package cache

import (
	"crypto/rand"

	cryptoDomain "github.com/keynanny/keynannyd/internal/crypto/domain"
	"github.com/keynanny/keynannyd/internal/errors"
)

// instanceKeySize is 32 bytes (256 bits), matching AEADManager.CreateCipher's
// key-size requirement for both AES-256-GCM and ChaCha20-Poly1305.
const instanceKeySize = 32

// InstanceKey is the ephemeral symmetric key generated once at daemon
// startup and held only in memory, used exclusively to protect entries this
// process places in the shared, untrusted memcache. It never leaves the
// process, is never logged, and is never shared across daemon instances —
// each daemon reads only the entries it wrote itself.
type InstanceKey struct {
	key []byte
}

// NewInstanceKey generates a fresh InstanceKey from a cryptographic RNG.
func NewInstanceKey() (*InstanceKey, error) {
	key := make([]byte, instanceKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(errors.ErrCrypto, "generate instance key")
	}
	return &InstanceKey{key: key}, nil
}

// Bytes returns the raw key material, for handing to an AEADManager.
func (k *InstanceKey) Bytes() []byte {
	return k.key
}

// Zero overwrites the key material with zeros. Call on daemon shutdown.
func (k *InstanceKey) Zero() {
	cryptoDomain.Zero(k.key)
}
