package service

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/digitorus/pkcs7"

	cryptoDomain "github.com/keynanny/keynannyd/internal/crypto/domain"
	"github.com/keynanny/keynannyd/internal/errors"
)

// LoadedToken pairs a catalog Token with the parsed certificate and private
// key material needed to actually encrypt or decrypt CMS envelopes. The
// catalog itself only ever holds the serializable domain.Token; Backend is
// where the live crypto.PrivateKey lives, since the domain package stays
// free of crypto/x509 dependencies.
type LoadedToken struct {
	Token       *cryptoDomain.Token
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
}

// Backend implements the crypto backend contract: certificate parsing and
// CMS EnvelopedData encrypt/decrypt, grounded on github.com/digitorus/pkcs7
// for the envelope format and crypto/x509 for certificate handling.
type Backend struct{}

// NewBackend creates a Backend. Backend is stateless; all state lives in the
// LoadedToken values it produces and the caller's TokenCatalog.
func NewBackend() *Backend {
	return &Backend{}
}

// LoadToken reads a PEM certificate and PEM private key from disk, parses
// both, and normalizes the certificate's metadata into a domain.Token. A
// non-empty passphrase decrypts a legacy encrypted PEM key block.
func (b *Backend) LoadToken(name, certPath, keyPath, passphrase string) (*LoadedToken, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTokenLoad, "read certificate %s", certPath)
	}
	info, cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, errors.Wrapf(err, "parse certificate %s", certPath)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTokenLoad, "read key %s", keyPath)
	}
	key, err := parsePrivateKey(keyPEM, passphrase)
	if err != nil {
		return nil, errors.Wrapf(err, "parse key %s", keyPath)
	}

	tok := &cryptoDomain.Token{
		Name:            name,
		CertificatePath: certPath,
		KeyPath:         keyPath,
		Passphrase:      passphrase,
		Info:            info,
	}

	return &LoadedToken{Token: tok, Certificate: cert, PrivateKey: key}, nil
}

// EnvelopeEncrypt builds a CMS EnvelopedData structure encrypting plaintext
// to the given recipient certificate, using AES-256 content encryption per
// the on-disk store format.
func (b *Backend) EnvelopeEncrypt(plaintext []byte, recipient *x509.Certificate) ([]byte, error) {
	pkcs7.ContentEncryptionAlgorithm = pkcs7.EncryptionAlgorithmAES256CBC
	envelope, err := pkcs7.Encrypt(plaintext, []*x509.Certificate{recipient})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCrypto, "CMS encrypt: %v", err)
	}
	return envelope, nil
}

// EnvelopeDecrypt parses a CMS EnvelopedData blob and decrypts it using the
// given recipient's certificate and private key. It returns
// cryptoDomain.ErrDecryptionFailed, wrapped, if this recipient is not the
// one the envelope was encrypted to — callers use this to drive both the
// recipient-info fast path and the brute-force fallback.
func (b *Backend) EnvelopeDecrypt(envelope []byte, cert *x509.Certificate, key crypto.PrivateKey) ([]byte, error) {
	p7, err := pkcs7.Parse(envelope)
	if err != nil {
		return nil, errors.Wrapf(cryptoDomain.ErrDecryptionFailed, "CMS parse: %v", err)
	}
	plaintext, err := p7.Decrypt(cert, key)
	if err != nil {
		return nil, errors.Wrapf(cryptoDomain.ErrDecryptionFailed, "CMS decrypt: %v", err)
	}
	return plaintext, nil
}

// parsePrivateKey decodes a PEM private key block, decrypting it first if a
// passphrase is supplied, and parses it as PKCS#1, PKCS#8, or SEC1/EC.
func parsePrivateKey(pemBytes []byte, passphrase string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, cryptoDomain.ErrCertificateParse
	}

	der := block.Bytes
	if passphrase != "" {
		//lint:ignore SA1019 legacy PEM encryption is still what these token keys use in practice.
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt private key: %v", cryptoDomain.ErrCertificateParse, err)
		}
		der = decrypted
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, cryptoDomain.ErrCertificateParse
}
