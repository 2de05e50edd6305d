package domain

import "fmt"

// issuerSerialKey is the composite key for the by_issuer_serial index.
type issuerSerialKey struct {
	issuer string
	serial string
}

// TokenCatalog is the immutable, in-memory catalogue of recipient tokens.
// A catalog is built once from a complete token list and never mutated in
// place — reload builds a brand-new catalog and the caller swaps it in,
// which is what keeps a failed reload from ever exposing a partially
// populated catalogue (see internal/token.Manager.Reload).
type TokenCatalog struct {
	byFingerprint  map[string]*Token
	byIssuerSerial map[issuerSerialKey]*Token
	ordered        []*Token // configured order, for deterministic tie-break and brute force
	current        *Token   // token with the greatest NotBefore; nil if ordered is empty
}

// NewTokenCatalog builds a catalog from a list of loaded tokens. Fingerprints
// must be unique; a duplicate is a configuration error since the catalog's
// primary handle would become ambiguous.
func NewTokenCatalog(tokens []*Token) (*TokenCatalog, error) {
	cat := &TokenCatalog{
		byFingerprint:  make(map[string]*Token, len(tokens)),
		byIssuerSerial: make(map[issuerSerialKey]*Token, len(tokens)),
		ordered:        make([]*Token, 0, len(tokens)),
	}

	for _, tok := range tokens {
		fp := tok.Info.Fingerprint
		if _, exists := cat.byFingerprint[fp]; exists {
			return nil, fmt.Errorf("duplicate token fingerprint: %s", fp)
		}
		cat.byFingerprint[fp] = tok
		cat.byIssuerSerial[issuerSerialKey{issuer: tok.Info.IssuerName, serial: tok.Info.SerialNumber}] = tok
		cat.ordered = append(cat.ordered, tok)

		if cat.current == nil || tok.Info.NotBefore > cat.current.Info.NotBefore {
			cat.current = tok
		}
	}

	return cat, nil
}

// ByFingerprint returns the token registered under the given SHA-1
// fingerprint, the primary handle into the catalog.
func (c *TokenCatalog) ByFingerprint(fingerprint string) (*Token, bool) {
	if c == nil {
		return nil, false
	}
	tok, ok := c.byFingerprint[fingerprint]
	return tok, ok
}

// ByIssuerSerial returns the token matching a CMS RecipientInfo's
// (issuer, serial) pair, used to route decryption directly.
func (c *TokenCatalog) ByIssuerSerial(issuer, serial string) (*Token, bool) {
	if c == nil {
		return nil, false
	}
	tok, ok := c.byIssuerSerial[issuerSerialKey{issuer: issuer, serial: serial}]
	return tok, ok
}

// Current returns the token with the greatest NotBefore, used for all new
// encryptions. Ties are broken by configured order (first wins), which is
// deterministic across a run since catalog construction never reorders.
func (c *TokenCatalog) Current() (*Token, bool) {
	if c == nil || c.current == nil {
		return nil, false
	}
	return c.current, true
}

// All returns every token in configured order, for brute-force decryption
// fallback when recipient-info routing fails to find a match.
func (c *TokenCatalog) All() []*Token {
	if c == nil {
		return nil
	}
	return c.ordered
}

// Len reports how many tokens the catalog holds.
func (c *TokenCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ordered)
}
