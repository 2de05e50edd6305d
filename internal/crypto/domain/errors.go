// Package domain defines core cryptographic domain models: the AEAD
// algorithm enum, token/certificate metadata, and the token catalog used to
// route CMS envelope encryption and decryption.
package domain

import (
	"github.com/keynanny/keynannyd/internal/errors"
)

// Cryptographic operation errors.
var (
	// ErrUnsupportedAlgorithm indicates the requested encryption algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.Wrap(errors.ErrCrypto, "unsupported algorithm")

	// ErrInvalidKeySize indicates the cryptographic key size is invalid (must be 32 bytes).
	ErrInvalidKeySize = errors.Wrap(errors.ErrCrypto, "invalid key size")

	// ErrDecryptionFailed indicates decryption failed due to wrong key or corrupted data.
	ErrDecryptionFailed = errors.Wrap(errors.ErrCrypto, "decryption failed")

	// ErrMissingField indicates a certificate was missing a mandatory field.
	ErrMissingField = errors.Wrap(errors.ErrTokenLoad, "certificate missing mandatory field")

	// ErrCertificateParse indicates the certificate could not be parsed as PEM/X.509.
	ErrCertificateParse = errors.Wrap(errors.ErrTokenLoad, "certificate parse failed")
)
