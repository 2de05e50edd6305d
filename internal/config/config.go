// Package config resolves keynannyd's two-level (section.key) configuration
// into a typed Config, including `$(section.key)` reference substitution and
// the dynamic hook registry that stands in for the original format's code
// closures.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"

	"github.com/keynanny/keynannyd/internal/errors"
)

// TokenConfig is the per-token material named by a `crypto.token` entry.
type TokenConfig struct {
	Name            string
	CertificatePath string
	KeyPath         string
	Passphrase      string
}

// Config is the resolved, typed configuration a keynannyd daemon runs with.
type Config struct {
	Namespace     string
	CacheStrategy string // "preload" or "memcache"
	Log           string // "syslog" or "console"

	CryptoOpenSSL string
	CryptoBaseDir string
	Tokens        []TokenConfig

	ServerSocketFile  string
	ServerSocketMode  uint32
	ServerMaxServers  int
	ServerPIDFile     string
	ServerUser        string
	ServerGroup       string

	StorageDir   string
	StorageUmask uint32

	MemcacheServers   []string
	MemcacheAlgorithm string

	AccessRead  bool
	AccessWrite bool

	Debug bool
}

// Load builds the two-level config Map from environment variables, the way
// the original configuration file would, and resolves it into a Config. It
// first attempts to load a .env file by searching recursively from the
// current directory up to the root directory. With no config file to take a
// basename from, the namespace defaults to "keynannyd" when
// KEYNANNYD_NAMESPACE is unset.
func Load() (*Config, error) {
	loadDotEnv()

	m := Map{}
	m.Set("", "namespace", env.GetString("KEYNANNYD_NAMESPACE", ""))
	m.Set("", "cache_strategy", env.GetString("KEYNANNYD_CACHE_STRATEGY", "preload"))
	m.Set("", "log", env.GetString("KEYNANNYD_LOG", "console"))

	m.Set("crypto", "openssl", env.GetString("KEYNANNYD_CRYPTO_OPENSSL", ""))
	m.Set("crypto", "base_dir", env.GetString("KEYNANNYD_CRYPTO_BASE_DIR", ""))
	m.Set("crypto", "token", env.GetString("KEYNANNYD_CRYPTO_TOKEN", "default"))

	for _, name := range strings.Fields(strings.ReplaceAll(m["crypto"]["token"], ",", " ")) {
		m.Set(name, "certificate", env.GetString(envKey(name, "CERTIFICATE"), ""))
		m.Set(name, "key", env.GetString(envKey(name, "KEY"), ""))
		m.Set(name, "passphrase", env.GetString(envKey(name, "PASSPHRASE"), ""))
	}

	m.Set("server", "socket_file", env.GetString("KEYNANNYD_SERVER_SOCKET_FILE", "/var/run/keynannyd/socket"))
	m.Set("server", "socket_mode", env.GetString("KEYNANNYD_SERVER_SOCKET_MODE", "600"))
	m.Set("server", "max_servers", env.GetString("KEYNANNYD_SERVER_MAX_SERVERS", "10"))
	m.Set("server", "pid_file", env.GetString("KEYNANNYD_SERVER_PID_FILE", ""))
	m.Set("server", "user", env.GetString("KEYNANNYD_SERVER_USER", ""))
	m.Set("server", "group", env.GetString("KEYNANNYD_SERVER_GROUP", ""))

	m.Set("storage", "dir", env.GetString("KEYNANNYD_STORAGE_DIR", "/var/lib/keynannyd"))
	m.Set("storage", "umask", env.GetString("KEYNANNYD_STORAGE_UMASK", "077"))

	m.Set("memcache", "servers", env.GetString("KEYNANNYD_MEMCACHE_SERVERS", ""))
	m.Set("memcache", "algorithm", env.GetString("KEYNANNYD_MEMCACHE_ALGORITHM", "aes-gcm"))

	m.Set("access", "read", env.GetString("KEYNANNYD_ACCESS_READ", "true"))
	m.Set("access", "write", env.GetString("KEYNANNYD_ACCESS_WRITE", "true"))

	return LoadFromMap(m, "keynannyd")
}

// LoadFromMap resolves a boundary-provided two-level config Map (parsing the
// on-disk config file format is out of scope; the caller owns turning a file
// into this map) into a typed Config. It applies `$()` substitution, then
// the dynamic hooks for socket_mode and storage.umask, then validates the
// result into typed fields.
func LoadFromMap(m Map, configBasename string) (*Config, error) {
	if err := m.Resolve(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.Namespace, _ = m.Get("", "namespace")
	if cfg.Namespace == "" {
		cfg.Namespace = configBasename
	}

	cfg.CacheStrategy, _ = m.Get("", "cache_strategy")
	if cfg.CacheStrategy == "" {
		cfg.CacheStrategy = "preload"
	}
	if cfg.CacheStrategy != "preload" && cfg.CacheStrategy != "memcache" {
		return nil, errors.Wrapf(errors.ErrConfig, "unknown cache_strategy %q", cfg.CacheStrategy)
	}

	cfg.Log, _ = m.Get("", "log")
	if cfg.Log == "" {
		cfg.Log = "console"
	}

	cfg.CryptoOpenSSL, _ = m.Get("crypto", "openssl")
	cfg.CryptoBaseDir, _ = m.Get("crypto", "base_dir")

	tokenNames, _ := m.Get("crypto", "token")
	for _, name := range strings.Fields(strings.ReplaceAll(tokenNames, ",", " ")) {
		cert, _ := m.Get(name, "certificate")
		key, _ := m.Get(name, "key")
		pass, _ := m.Get(name, "passphrase")
		if cert == "" || key == "" {
			return nil, errors.Wrapf(errors.ErrConfig, "token %q missing certificate or key", name)
		}
		cfg.Tokens = append(cfg.Tokens, TokenConfig{
			Name:            name,
			CertificatePath: resolvePath(cfg.CryptoBaseDir, cert),
			KeyPath:         resolvePath(cfg.CryptoBaseDir, key),
			Passphrase:      pass,
		})
	}
	if len(cfg.Tokens) == 0 {
		return nil, errors.Wrap(errors.ErrConfig, "no crypto.token configured")
	}

	cfg.ServerSocketFile, _ = m.Get("server", "socket_file")
	if cfg.ServerSocketFile == "" {
		return nil, errors.Wrap(errors.ErrConfig, "server.socket_file is required")
	}

	socketModeRaw, _ := m.Get("server", "socket_mode")
	resolvedMode, err := ResolveHook("socket_mode", orDefault(socketModeRaw, "600"))
	if err != nil {
		return nil, err
	}
	cfg.ServerSocketMode, err = ParseMode(resolvedMode)
	if err != nil {
		return nil, err
	}

	cfg.ServerMaxServers, err = getInt(m, "server", "max_servers", 10)
	if err != nil {
		return nil, err
	}

	cfg.ServerPIDFile, _ = m.Get("server", "pid_file")
	if cfg.ServerPIDFile == "" {
		cfg.ServerPIDFile = cfg.ServerSocketFile + ".pid"
	}
	cfg.ServerUser, _ = m.Get("server", "user")
	cfg.ServerGroup, _ = m.Get("server", "group")

	cfg.StorageDir, _ = m.Get("storage", "dir")
	if cfg.StorageDir == "" {
		return nil, errors.Wrap(errors.ErrConfig, "storage.dir is required")
	}

	umaskRaw, _ := m.Get("storage", "umask")
	resolvedUmask, err := ResolveHook("storage.umask", orDefault(umaskRaw, "077"))
	if err != nil {
		return nil, err
	}
	cfg.StorageUmask, err = ParseMode(resolvedUmask)
	if err != nil {
		return nil, err
	}

	memcacheServers, _ := m.Get("memcache", "servers")
	if memcacheServers != "" {
		cfg.MemcacheServers = strings.Fields(strings.ReplaceAll(memcacheServers, ",", " "))
	}
	cfg.MemcacheAlgorithm, _ = m.Get("memcache", "algorithm")
	if cfg.MemcacheAlgorithm == "" {
		cfg.MemcacheAlgorithm = "aes-gcm"
	}
	if cfg.CacheStrategy == "memcache" && len(cfg.MemcacheServers) == 0 {
		return nil, errors.Wrap(errors.ErrConfig, "memcache.servers is required when cache_strategy=memcache")
	}

	cfg.AccessRead, err = getBool(m, "access", "read", true)
	if err != nil {
		return nil, err
	}
	cfg.AccessWrite, err = getBool(m, "access", "write", true)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(section, field string) string {
	return "KEYNANNYD_" + strings.ToUpper(section) + "_" + field
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func resolvePath(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func getInt(m Map, section, key string, def int) (int, error) {
	raw, ok := m.Get(section, key)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := parseInt(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrConfig, "%s.%s must be an integer: %v", section, key, err)
	}
	return v, nil
}

func getBool(m Map, section, key string, def bool) (bool, error) {
	raw, ok := m.Get(section, key)
	if !ok || raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, errors.Wrapf(errors.ErrConfig, "%s.%s must be a boolean, got %q", section, key, raw)
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
