// Package app provides the dependency injection container for assembling
// keynannyd's components: configuration, logging, metrics, the token
// manager, the persistent store, the cache, and the request server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/keynanny/keynannyd/internal/cache"
	"github.com/keynanny/keynannyd/internal/config"
	cryptoDomain "github.com/keynanny/keynannyd/internal/crypto/domain"
	cryptoService "github.com/keynanny/keynannyd/internal/crypto/service"
	"github.com/keynanny/keynannyd/internal/errors"
	"github.com/keynanny/keynannyd/internal/metrics"
	"github.com/keynanny/keynannyd/internal/server"
	"github.com/keynanny/keynannyd/internal/store"
	"github.com/keynanny/keynannyd/internal/token"
)

// Container holds all application dependencies and provides methods to
// access them. It follows the lazy initialization pattern - components are
// created on first access.
type Container struct {
	config *config.Config

	logger          *slog.Logger
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics
	backend         *cryptoService.Backend
	tokenManager    *token.Manager
	store           *store.Store
	instanceKey     *cache.InstanceKey
	cache           cache.Cache
	requestServer   *server.Server

	mu                  sync.Mutex
	loggerInit          sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	backendInit         sync.Once
	tokenManagerInit    sync.Once
	storeInit           sync.Once
	instanceKeyInit     sync.Once
	cacheInit           sync.Once
	serverInit          sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the
// provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// MetricsProvider returns the OpenTelemetry/Prometheus metrics provider.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, c.initErrors["metricsProvider"] = metrics.NewProvider(c.config.Namespace)
	})
	return c.metricsProvider, c.initErrors["metricsProvider"]
}

// BusinessMetrics returns the business-operation metrics recorder used by
// the request server.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	c.businessMetricsInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["businessMetrics"] = err
			return
		}
		c.businessMetrics, c.initErrors["businessMetrics"] = metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.Namespace)
	})
	return c.businessMetrics, c.initErrors["businessMetrics"]
}

// Backend returns the CMS/X.509 crypto backend.
func (c *Container) Backend() *cryptoService.Backend {
	c.backendInit.Do(func() {
		c.backend = cryptoService.NewBackend()
	})
	return c.backend
}

// TokenManager returns the token manager, loading every configured token on
// first access.
func (c *Container) TokenManager() (*token.Manager, error) {
	c.tokenManagerInit.Do(func() {
		m := token.NewManager(c.Backend())
		if err := m.Load(c.tokenConfigs()); err != nil {
			c.initErrors["tokenManager"] = err
			return
		}
		c.tokenManager = m
	})
	if err, ok := c.initErrors["tokenManager"]; ok {
		return nil, err
	}
	return c.tokenManager, nil
}

// ReloadTokens rebuilds the token manager's catalog from the current
// configuration, per the request server's restart hook. A failure leaves
// the prior catalog in effect and is logged, never fatal.
func (c *Container) ReloadTokens() error {
	m, err := c.TokenManager()
	if err != nil {
		return err
	}
	if err := m.Reload(c.tokenConfigs()); err != nil {
		c.Logger().Error("token reload failed, keeping prior catalog", "error", err)
		return err
	}
	return nil
}

func (c *Container) tokenConfigs() []token.Config {
	configs := make([]token.Config, 0, len(c.config.Tokens))
	for _, t := range c.config.Tokens {
		configs = append(configs, token.Config{
			Name:            t.Name,
			CertificatePath: t.CertificatePath,
			KeyPath:         t.KeyPath,
			Passphrase:      t.Passphrase,
		})
	}
	return configs
}

// Store returns the persistent encrypted store.
func (c *Container) Store() (*store.Store, error) {
	c.storeInit.Do(func() {
		tm, err := c.TokenManager()
		if err != nil {
			c.initErrors["store"] = err
			return
		}
		c.store = store.New(c.config.StorageDir, c.config.StorageUmask, c.Backend(), tm, c.Logger())
	})
	if err, ok := c.initErrors["store"]; ok {
		return nil, err
	}
	return c.store, nil
}

// InstanceKey returns this process's ephemeral shared-cache symmetric key,
// generated once at first access and held only in memory.
func (c *Container) InstanceKey() (*cache.InstanceKey, error) {
	c.instanceKeyInit.Do(func() {
		c.instanceKey, c.initErrors["instanceKey"] = cache.NewInstanceKey()
	})
	return c.instanceKey, c.initErrors["instanceKey"]
}

// Cache returns the configured cache strategy (preload or memcache). The
// preload strategy is warmed from the persistent store on first access; the
// memcache strategy starts empty.
func (c *Container) Cache() (cache.Cache, error) {
	c.cacheInit.Do(func() {
		st, err := c.Store()
		if err != nil {
			c.initErrors["cache"] = err
			return
		}

		switch c.config.CacheStrategy {
		case "memcache":
			ik, err := c.InstanceKey()
			if err != nil {
				c.initErrors["cache"] = err
				return
			}
			alg := cryptoDomain.Algorithm(c.config.MemcacheAlgorithm)
			if alg == "" {
				alg = cryptoDomain.AESGCM
			}
			transport := cache.NewTCPMemcacheClient(c.config.MemcacheServers, 2*time.Second)
			mc, err := cache.NewMemcache(c.config.Namespace, ik, cryptoService.NewAEADManager(), alg, transport, c.Logger())
			if err != nil {
				c.initErrors["cache"] = errors.Wrap(errors.ErrConfig, "build memcache strategy: "+err.Error())
				return
			}
			c.cache = mc
		default:
			p := cache.NewPreload()
			if err := cache.WarmFromStore(p, st, c.Logger()); err != nil {
				c.initErrors["cache"] = err
				return
			}
			c.cache = p
		}
	})
	if err, ok := c.initErrors["cache"]; ok {
		return nil, err
	}
	return c.cache, nil
}

// RequestServer returns the request server bound to the configured socket.
func (c *Container) RequestServer() (*server.Server, error) {
	c.serverInit.Do(func() {
		cch, err := c.Cache()
		if err != nil {
			c.initErrors["server"] = err
			return
		}
		st, err := c.Store()
		if err != nil {
			c.initErrors["server"] = err
			return
		}
		bm, err := c.BusinessMetrics()
		if err != nil {
			c.initErrors["server"] = err
			return
		}

		cfg := server.Config{
			SocketFile:  c.config.ServerSocketFile,
			SocketMode:  c.config.ServerSocketMode,
			MaxServers:  c.config.ServerMaxServers,
			AccessRead:  c.config.AccessRead,
			AccessWrite: c.config.AccessWrite,
		}
		c.requestServer = server.New(cfg, cch, st, c.Logger(), bm)
	})
	if err, ok := c.initErrors["server"]; ok {
		return nil, err
	}
	return c.requestServer, nil
}

// Shutdown performs cleanup of all initialized resources.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.requestServer != nil {
		if err := c.requestServer.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("request server close: %w", err))
		}
	}
	if c.instanceKey != nil {
		c.instanceKey.Zero()
	}
	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}
	return nil
}

// initLogger creates and configures a structured logger. keynannyd's config
// schema names a "syslog" vs "console" log target (spec.md §6); actual
// syslog emission is an out-of-scope external collaborator per spec.md §1,
// so "syslog" here still logs to stderr but with a text, not JSON, handler —
// matching how a syslog-forwarding sidecar typically expects line-oriented
// plain text rather than structured JSON.
func (c *Container) initLogger() *slog.Logger {
	level := slog.LevelInfo
	if c.config.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.config.Log == "syslog" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
