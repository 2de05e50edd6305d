package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cryptoService "github.com/keynanny/keynannyd/internal/crypto/service"
	"github.com/keynanny/keynannyd/internal/errors"
	"github.com/keynanny/keynannyd/internal/token"
)

func newTestManager(t *testing.T, names ...string) *token.Manager {
	t.Helper()
	backend := cryptoService.NewBackend()
	m := token.NewManager(backend)

	var configs []token.Config
	notBefore := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range names {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		tmpl := &x509.Certificate{
			SerialNumber:          big.NewInt(int64(i + 1)),
			Subject:               pkix.Name{CommonName: name},
			NotBefore:             notBefore.Add(time.Duration(i) * time.Hour),
			NotAfter:              notBefore.Add(365 * 24 * time.Hour),
			KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			BasicConstraintsValid: true,
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
		require.NoError(t, err)

		dir := t.TempDir()
		certPath := dir + "/cert.pem"
		keyPath := dir + "/key.pem"
		require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
		require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}), 0o600))

		configs = append(configs, token.Config{Name: name, CertificatePath: certPath, KeyPath: keyPath})
	}

	require.NoError(t, m.Load(configs))
	return m
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tokens := newTestManager(t, "primary")
	s := New(dir, 0o077, cryptoService.NewBackend(), tokens, nil)

	require.NoError(t, s.Put("mysecret", []byte("hunter2")))
	require.True(t, s.Exists("mysecret"))

	got, err := s.Get("mysecret")
	require.NoError(t, err)
	require.Equal(t, "hunter2", string(got))
}

func TestStore_Put_WritesPEMEncodedEnvelope(t *testing.T) {
	dir := t.TempDir()
	tokens := newTestManager(t, "primary")
	s := New(dir, 0o077, cryptoService.NewBackend(), tokens, nil)

	require.NoError(t, s.Put("mysecret", []byte("hunter2")))

	raw, err := os.ReadFile(dir + "/mysecret")
	require.NoError(t, err)

	block, rest := pem.Decode(raw)
	require.NotNil(t, block, "slot file must be PEM-encoded CMS, per the on-disk store format")
	require.Equal(t, "PKCS7", block.Type)
	require.Empty(t, rest)
}

func TestStore_Get_MissingKey(t *testing.T) {
	dir := t.TempDir()
	tokens := newTestManager(t, "primary")
	s := New(dir, 0o077, cryptoService.NewBackend(), tokens, nil)

	_, err := s.Get("nope")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_RejectsBadKeys(t *testing.T) {
	dir := t.TempDir()
	tokens := newTestManager(t, "primary")
	s := New(dir, 0o077, cryptoService.NewBackend(), tokens, nil)

	for _, bad := range []string{"../etc/passwd", "a/b", "a\x00b", ""} {
		require.False(t, s.Exists(bad))
		require.Error(t, s.Put(bad, []byte("x")))
		_, err := s.Get(bad)
		require.Error(t, err)
	}
}

func TestStore_RestartDurability(t *testing.T) {
	dir := t.TempDir()
	tokens1 := newTestManager(t, "primary")

	backend := cryptoService.NewBackend()
	s1 := New(dir, 0o077, backend, tokens1, nil)
	require.NoError(t, s1.Put("k", []byte("v1")))

	// Simulate a restart: a brand-new Store instance over the same directory.
	s2 := New(dir, 0o077, backend, tokens1, nil)
	got, err := s2.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))
}

func TestStore_TokenRotation_OldCiphertextStillDecrypts(t *testing.T) {
	dir := t.TempDir()
	backend := cryptoService.NewBackend()
	tokens := newTestManager(t, "old")

	s := New(dir, 0o077, backend, tokens, nil)
	require.NoError(t, s.Put("rotated", []byte("before-rotation")))

	// Rotate in a second token while keeping the original "old" certificate
	// and key; the ciphertext written before rotation still routes to "old"
	// by its recipient info.
	old := tokens.AllLoaded()[0].Token
	fresh := newTestManager(t, "new").AllLoaded()[0].Token
	tokensAfter := token.NewManager(backend)
	require.NoError(t, tokensAfter.Load([]token.Config{
		{Name: old.Name, CertificatePath: old.CertificatePath, KeyPath: old.KeyPath},
		{Name: fresh.Name, CertificatePath: fresh.CertificatePath, KeyPath: fresh.KeyPath},
	}))
	sAfter := New(dir, 0o077, backend, tokensAfter, nil)

	got, err := sAfter.Get("rotated")
	require.NoError(t, err)
	require.Equal(t, "before-rotation", string(got))
}

func TestStore_List(t *testing.T) {
	dir := t.TempDir()
	tokens := newTestManager(t, "primary")
	s := New(dir, 0o077, cryptoService.NewBackend(), tokens, nil)

	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("b", []byte("2")))

	keys, err := s.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestStore_List_EmptyDirNotError(t *testing.T) {
	s := New(t.TempDir()+"/nonexistent", 0o077, cryptoService.NewBackend(), newTestManager(t, "primary"), nil)
	keys, err := s.List()
	require.NoError(t, err)
	require.Empty(t, keys)
}
