// Package main is the keynannyd daemon entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/keynanny/keynannyd/internal/app"
	"github.com/keynanny/keynannyd/internal/config"
)

func main() {
	cmd := &cli.Command{
		Name:    "keynannyd",
		Usage:   "local secrets daemon: CMS-encrypted storage served over a Unix socket",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the keynannyd configuration file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug-level logging",
			},
			&cli.BoolFlag{
				Name:  "dumpconfig",
				Usage: "print the resolved configuration and exit, without starting the daemon",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDaemon(ctx, cmd)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("keynannyd: fatal error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if path := cmd.String("config"); path != "" {
		m, base, err := config.ParseFile(path)
		if err != nil {
			return nil, err
		}
		cfg, err := config.LoadFromMap(m, base)
		if err != nil {
			return nil, err
		}
		cfg.Debug = cmd.Bool("debug")
		return cfg, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Debug = cmd.Bool("debug")
	return cfg, nil
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cmd.Bool("dumpconfig") {
		dumpConfig(cfg)
		return nil
	}

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting keynannyd", "namespace", cfg.Namespace, "socket", cfg.ServerSocketFile)

	defer func() {
		if err := container.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	srv, err := container.RequestServer()
	if err != nil {
		return fmt.Errorf("initialize request server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				logger.Info("reloading tokens on SIGHUP")
				if err := container.ReloadTokens(); err != nil {
					logger.Error("token reload failed", "error", err)
				}
			}
		}
	}()

	if err := writePIDFile(cfg.ServerPIDFile); err != nil {
		logger.Warn("failed to write pid file", "path", cfg.ServerPIDFile, "error", err)
	}
	defer os.Remove(cfg.ServerPIDFile)

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("request server: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// dumpConfig prints the resolved configuration, redacting token passphrases
// since those are the one secret-bearing field in the config schema.
func dumpConfig(cfg *config.Config) {
	fmt.Printf("namespace = %s\n", cfg.Namespace)
	fmt.Printf("cache_strategy = %s\n", cfg.CacheStrategy)
	fmt.Printf("log = %s\n", cfg.Log)
	fmt.Printf("server.socket_file = %s\n", cfg.ServerSocketFile)
	fmt.Printf("server.socket_mode = %o\n", cfg.ServerSocketMode)
	fmt.Printf("server.max_servers = %d\n", cfg.ServerMaxServers)
	fmt.Printf("server.pid_file = %s\n", cfg.ServerPIDFile)
	fmt.Printf("storage.dir = %s\n", cfg.StorageDir)
	fmt.Printf("storage.umask = %o\n", cfg.StorageUmask)
	fmt.Printf("access.read = %t\n", cfg.AccessRead)
	fmt.Printf("access.write = %t\n", cfg.AccessWrite)
	for _, tok := range cfg.Tokens {
		redacted := ""
		if tok.Passphrase != "" {
			redacted = "<redacted>"
		}
		fmt.Printf("token %s: certificate=%s key=%s passphrase=%s\n", tok.Name, tok.CertificatePath, tok.KeyPath, redacted)
	}
}
