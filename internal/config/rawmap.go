package config

import (
	"strings"

	"github.com/keynanny/keynannyd/internal/errors"
)

// Map is the two-level section→key→value mapping config bootstrap resolves
// against. The default section is "" (a bare `key`, no dot).
type Map map[string]map[string]string

// Get returns the raw (unresolved) value for section.key, or "" if absent.
func (m Map) Get(section, key string) (string, bool) {
	sec, ok := m[section]
	if !ok {
		return "", false
	}
	v, ok := sec[key]
	return v, ok
}

// Set stores a raw value under section.key, creating the section if needed.
func (m Map) Set(section, key, value string) {
	sec, ok := m[section]
	if !ok {
		sec = make(map[string]string)
		m[section] = sec
	}
	sec[key] = value
}

const maxResolvePasses = 32

// Resolve repeatedly substitutes `$(section.key)` and `$(key)` references
// until a fixed point is reached, per the bootstrap algorithm in the
// configuration schema. `$(key)` resolves against the default ("") section.
// A value that never reaches a fixed point after maxResolvePasses is a
// configuration error — almost certainly a reference cycle.
func (m Map) Resolve() error {
	for pass := 0; pass < maxResolvePasses; pass++ {
		changed := false
		for section, kv := range m {
			for key, value := range kv {
				resolved, didSubstitute, err := m.substitute(value)
				if err != nil {
					return errors.Wrapf(errors.ErrConfig, "resolve %s.%s: %v", section, key, err)
				}
				if didSubstitute {
					kv[key] = resolved
					changed = true
				}
			}
		}
		if !changed {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrConfig, "config references did not reach a fixed point after %d passes", maxResolvePasses)
}

// substitute replaces every `$(ref)` occurrence in value with the referenced
// value, where ref is either "section.key" or "key" (default section). A
// reference to an unset key resolves to the empty string, matching the
// narrative description's "no references remain" stopping condition rather
// than failing outright on a dangling reference. A `sub { ... }` code-closure
// value is rejected: only the registered hooks stand in for those.
func (m Map) substitute(value string) (string, bool, error) {
	if trimmed := strings.TrimSpace(value); strings.HasPrefix(trimmed, "sub {") || strings.HasPrefix(trimmed, "sub{") {
		return "", false, errors.New("code-closure values are not supported")
	}
	var b strings.Builder
	did := false
	rest := value
	for {
		start := strings.Index(rest, "$(")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], ")")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		ref := rest[start+2 : end]
		section, key := splitRef(ref)
		resolved, _ := m.Get(section, key)
		b.WriteString(resolved)
		did = true
		rest = rest[end+1:]
	}
	return b.String(), did, nil
}

func splitRef(ref string) (section, key string) {
	idx := strings.LastIndex(ref, ".")
	if idx == -1 {
		return "", ref
	}
	return ref[:idx], ref[idx+1:]
}
