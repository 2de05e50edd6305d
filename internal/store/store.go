// Package store implements the durable, at-rest-encrypted persistent store:
// one file per key under a configured directory, contents a CMS envelope.
package store

import (
	"encoding/pem"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	cryptoService "github.com/keynanny/keynannyd/internal/crypto/service"
	"github.com/keynanny/keynannyd/internal/errors"
	"github.com/keynanny/keynannyd/internal/token"
)

// keyPattern is the defensive re-check applied at this layer even though the
// protocol parser is the only caller and already enforces it, matching the
// teacher's internal/validation habit of keeping domain-level guards even
// when an upstream layer already validates.
var keyPattern = regexp.MustCompile(`^\w+$`)

// pemBlockType is the slot file's PEM armor, per the on-disk store format's
// "PEM-encoded CMS enveloped data" contract.
const pemBlockType = "PKCS7"

// Store is the durable persistent store.
type Store struct {
	dir     string
	umask   uint32
	backend *cryptoService.Backend
	tokens  *token.Manager
	log     *slog.Logger
}

// New creates a Store rooted at dir. umask is applied (via os.Chmod after
// MkdirAll, since Go's os.Mkdir honors the process umask rather than an
// explicit one) to the storage directory on every Put.
func New(dir string, umask uint32, backend *cryptoService.Backend, tokens *token.Manager, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, umask: umask, backend: backend, tokens: tokens, log: log}
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return errors.Wrapf(errors.ErrStore, "invalid key %q", key)
	}
	return nil
}

// Exists reports whether a readable file named key is present under the
// store directory.
func (s *Store) Exists(key string) bool {
	if err := validateKey(key); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, key))
	return err == nil && !info.IsDir()
}

// Put envelope-encrypts value to the current token's certificate and writes
// the CMS blob to storage.dir/key, atomically via write-to-temp + rename so
// a concurrent reader never observes a half-written envelope.
func (s *Store) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	current, err := s.tokens.SelectForEncrypt()
	if err != nil {
		return errors.Wrapf(errors.ErrStore, "select encryption token: %v", err)
	}

	envelope, err := s.backend.EnvelopeEncrypt(value, current.Certificate)
	if err != nil {
		return errors.Wrapf(errors.ErrStore, "envelope encrypt: %v", err)
	}
	pemEnvelope := pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: envelope})

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrapf(errors.ErrStore, "create storage dir: %v", err)
	}
	_ = os.Chmod(s.dir, os.FileMode(0o777&^s.umask))

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return errors.Wrapf(errors.ErrStore, "create temp file: %v", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(pemEnvelope); err != nil {
		tmp.Close()
		return errors.Wrapf(errors.ErrStore, "write temp file: %v", err)
	}
	if err := tmp.Chmod(os.FileMode(0o666 &^ s.umask)); err != nil {
		tmp.Close()
		return errors.Wrapf(errors.ErrStore, "chmod temp file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(errors.ErrStore, "close temp file: %v", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, key)); err != nil {
		return errors.Wrapf(errors.ErrStore, "rename into place: %v", err)
	}
	return nil
}

// Get reads and decrypts the envelope at storage.dir/key. It parses the CMS
// recipient info to route directly to the matching token; if no configured
// token matches, it falls back to trying every loaded token by fingerprint,
// logging a warning on the slow path.
func (s *Store) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	envelope, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrapf(errors.ErrStore, "read %s: %v", key, err)
	}

	return s.decrypt(key, envelope)
}

// List enumerates every key currently present in the store directory, for
// the preload cache's startup scan. A missing directory is treated as empty
// rather than an error, since a store with nothing written yet is valid.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(errors.ErrStore, "list storage dir: %v", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !keyPattern.MatchString(e.Name()) {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

func (s *Store) decrypt(key string, pemEnvelope []byte) ([]byte, error) {
	block, _ := pem.Decode(pemEnvelope)
	if block == nil {
		return nil, errors.Wrapf(errors.ErrStore, "slot %s is not PEM-encoded", key)
	}
	envelope := block.Bytes

	recipients, err := s.backend.ExtractRecipientInfos(envelope)
	if err == nil {
		if tok, selErr := s.tokens.SelectForDecrypt(recipients); selErr == nil && tok != nil {
			if plaintext, decErr := s.backend.EnvelopeDecrypt(envelope, tok.Certificate, tok.PrivateKey); decErr == nil {
				return plaintext, nil
			}
		}
	}

	s.log.Warn("store: recipient-info routing missed, falling back to brute-force decrypt", "key", key)
	for _, tok := range s.tokens.AllLoaded() {
		if plaintext, decErr := s.backend.EnvelopeDecrypt(envelope, tok.Certificate, tok.PrivateKey); decErr == nil {
			return plaintext, nil
		}
	}

	return nil, errors.Wrapf(errors.ErrStore, "no configured token could decrypt %s", key)
}
