package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/keynanny/keynannyd/internal/errors"
)

// ParseFile reads a simple "[section]" / "key = value" configuration file
// into a raw two-level Map, and returns the config file's basename (without
// extension) for the namespace default. Parsing the on-disk format is
// boundary glue only — spec.md §1 keeps config file parsing out of core
// scope — the substantive logic lives in Map.Resolve and LoadFromMap.
func ParseFile(path string) (Map, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrapf(errors.ErrConfig, "open config file %s: %v", path, err)
	}
	defer f.Close()

	m := Map{}
	section := ""

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, "", errors.Wrapf(errors.ErrConfig, "malformed config line %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"`)
		m.Set(section, key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, "", errors.Wrapf(errors.ErrConfig, "read config file %s: %v", path, err)
	}

	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return m, base, nil
}
