package config

import (
	"strconv"

	"github.com/keynanny/keynannyd/internal/errors"
)

// Hook is a named, registered transform standing in for the original
// configuration format's arbitrary `sub { ... }` code closures. Only hooks
// registered here are recognized; anything else reaching the resolver in a
// dynamic-value position is rejected at load time.
type Hook func(raw string) (string, error)

var hookRegistry = map[string]Hook{
	"socket_mode":  parseOctalMode,
	"storage.umask": parseOctalMode,
}

// ResolveHook looks up and applies a registered hook by name. It returns a
// ConfigError if name is not a known hook.
func ResolveHook(name, raw string) (string, error) {
	hook, ok := hookRegistry[name]
	if !ok {
		return "", errors.Wrapf(errors.ErrConfig, "unknown dynamic config hook %q", name)
	}
	return hook(raw)
}

// parseOctalMode validates that raw parses as an octal file mode and returns
// it unchanged (callers re-parse via strconv.ParseUint(..., 8, 32) where the
// numeric value is actually needed; the hook's job is only to reject
// malformed input at load time rather than at first use).
func parseOctalMode(raw string) (string, error) {
	if _, err := strconv.ParseUint(raw, 8, 32); err != nil {
		return "", errors.Wrapf(errors.ErrConfig, "invalid octal mode %q: %v", raw, err)
	}
	return raw, nil
}

// ParseMode converts a validated octal mode string (as returned by
// ResolveHook) into its numeric form.
func ParseMode(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrConfig, "invalid octal mode %q: %v", raw, err)
	}
	return uint32(v), nil
}
