// Package token implements the token manager: loading recipient tokens from
// configuration, building the in-memory catalog, and routing encrypt/decrypt
// operations to the right token.
package token

import (
	"sync/atomic"

	cryptoDomain "github.com/keynanny/keynannyd/internal/crypto/domain"
	cryptoService "github.com/keynanny/keynannyd/internal/crypto/service"
	"github.com/keynanny/keynannyd/internal/errors"
)

// Config is the subset of the resolved configuration the token manager needs
// to load tokens, decoupled from internal/config to avoid an import cycle.
type Config struct {
	Name            string
	CertificatePath string
	KeyPath         string
	Passphrase      string
}

// Manager owns the current TokenCatalog and the live crypto material behind
// it. Reload rebuilds both from scratch and swaps them in atomically, so a
// reader never observes a partially populated catalog (grounded on the
// teacher's MasterKeyChain/KekChain copy-and-swap pattern, generalized from
// a sync.Map-backed chain to an atomic.Pointer since the catalog here is
// rebuilt wholesale rather than grown incrementally).
type Manager struct {
	backend *cryptoService.Backend
	catalog atomic.Pointer[cryptoDomain.TokenCatalog]
	loaded  atomic.Pointer[map[string]*cryptoService.LoadedToken] // by fingerprint
}

// NewManager creates a Manager with an empty catalog. Call Load before
// serving requests.
func NewManager(backend *cryptoService.Backend) *Manager {
	m := &Manager{backend: backend}
	empty := map[string]*cryptoService.LoadedToken{}
	m.loaded.Store(&empty)
	cat, _ := cryptoDomain.NewTokenCatalog(nil)
	m.catalog.Store(cat)
	return m
}

// Load reads every configured token's certificate and key, builds a fresh
// catalog, and swaps it in. A failure leaves the previously loaded catalog
// (if any) untouched and in effect.
func (m *Manager) Load(configs []Config) error {
	tokens := make([]*cryptoDomain.Token, 0, len(configs))
	byFingerprint := make(map[string]*cryptoService.LoadedToken, len(configs))

	for _, c := range configs {
		loaded, err := m.backend.LoadToken(c.Name, c.CertificatePath, c.KeyPath, c.Passphrase)
		if err != nil {
			return errors.Wrapf(err, "load token %q", c.Name)
		}
		tokens = append(tokens, loaded.Token)
		byFingerprint[loaded.Token.Info.Fingerprint] = loaded
	}

	catalog, err := cryptoDomain.NewTokenCatalog(tokens)
	if err != nil {
		return errors.Wrapf(errors.ErrTokenLoad, "build token catalog: %v", err)
	}

	m.catalog.Store(catalog)
	m.loaded.Store(&byFingerprint)
	return nil
}

// Reload is an alias for Load used by the server's restart hook, named
// separately so call sites read as "reload tokens on restart" per the
// request server's hook contract.
func (m *Manager) Reload(configs []Config) error {
	return m.Load(configs)
}

// Catalog returns the currently active TokenCatalog snapshot. Safe to call
// concurrently with Reload; callers always see a fully populated catalog.
func (m *Manager) Catalog() *cryptoDomain.TokenCatalog {
	return m.catalog.Load()
}

// SelectForEncrypt returns the current token's live certificate, used to
// envelope-encrypt a new secret.
func (m *Manager) SelectForEncrypt() (*cryptoService.LoadedToken, error) {
	tok, ok := m.catalog.Load().Current()
	if !ok {
		return nil, errors.ErrNoEncryptionToken
	}
	return m.loadedByFingerprint(tok.Info.Fingerprint)
}

// SelectForDecrypt walks the given recipient-info pairs in order and returns
// the first token found in by_issuer_serial. If none match, it returns
// (nil, nil) — the nil, nil return (rather than an error) signals callers to
// fall back to AllLoaded's brute-force enumeration, per the store's
// documented fallback behavior.
func (m *Manager) SelectForDecrypt(recipients []cryptoDomain.RecipientInfo) (*cryptoService.LoadedToken, error) {
	cat := m.catalog.Load()
	for _, r := range recipients {
		if tok, ok := cat.ByIssuerSerial(r.Issuer, r.Serial); ok {
			return m.loadedByFingerprint(tok.Info.Fingerprint)
		}
	}
	return nil, nil
}

// AllLoaded returns every currently loaded token in configured order, for
// the store's brute-force decrypt fallback.
func (m *Manager) AllLoaded() []*cryptoService.LoadedToken {
	cat := m.catalog.Load()
	out := make([]*cryptoService.LoadedToken, 0, cat.Len())
	for _, tok := range cat.All() {
		if lt, err := m.loadedByFingerprint(tok.Info.Fingerprint); err == nil {
			out = append(out, lt)
		}
	}
	return out
}

func (m *Manager) loadedByFingerprint(fingerprint string) (*cryptoService.LoadedToken, error) {
	byFP := *m.loaded.Load()
	lt, ok := byFP[fingerprint]
	if !ok {
		return nil, errors.Wrap(errors.ErrTokenLoad, "token material unavailable for fingerprint")
	}
	return lt, nil
}
