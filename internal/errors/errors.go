// Package errors provides the error taxonomy shared across keynannyd's
// components. Each kind is a sentinel that call sites can match with
// errors.Is; Wrap/Wrapf preserve the chain back to the sentinel.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds, per the propagation policy: configuration and token bootstrap
// errors are fatal at startup, per-request errors are logged and translated
// to a wire response, cache integrity failures are never returned as errors
// at all (they downgrade to a logged miss).
var (
	// ErrConfig indicates missing, malformed, or unresolvable configuration.
	ErrConfig = errors.New("config error")

	// ErrTokenLoad indicates a certificate or key could not be loaded or
	// parsed, or was missing a mandatory field.
	ErrTokenLoad = errors.New("token load error")

	// ErrNoEncryptionToken indicates the token catalog has no current token
	// to encrypt new secrets with.
	ErrNoEncryptionToken = errors.New("no encryption token")

	// ErrCrypto indicates an envelope encrypt/decrypt operation failed.
	ErrCrypto = errors.New("crypto error")

	// ErrStore indicates a persistent store read/write failure, or that no
	// configured token could decrypt a given slot.
	ErrStore = errors.New("store error")

	// ErrNotFound indicates the requested secret does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClient indicates a malformed request line or disallowed verb.
	ErrClient = errors.New("client error")

	// ErrAccessDenied indicates a verb is disabled by access policy.
	ErrAccessDenied = errors.New("access denied")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message while preserving the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
