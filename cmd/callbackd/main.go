// Command callbackd runs the callback registration server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tcaruso/callbackd"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	genSeed := flag.Bool("gen-seed", false, "print a fresh seed mnemonic and exit")
	flag.Parse()

	if *genSeed {
		mnemonic, err := callbackd.NewSeedMnemonic()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate seed:", err)
			os.Exit(1)
		}
		fmt.Println(mnemonic)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil {
		logger.Error("callbackd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg := callbackd.DefaultConfig()
	if configPath != "" {
		loaded, err := callbackd.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	store, err := callbackd.OpenSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AdminUser != "" && cfg.AdminPassword != "" {
		salt, err := callbackd.NewSalt()
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		hash, err := callbackd.HashPassword(cfg.AdminPassword, salt)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if err := store.CreateUser(ctx, cfg.AdminUser, callbackd.Credential{
			PasswordHash: hash,
			Salt:         salt,
		}); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	guard := callbackd.NewGuard(store, store, cfg.LockoutThreshold, cfg.LockoutDuration())
	audit := callbackd.NewAuditTrail(store, logger)

	srv, err := callbackd.NewServer(cfg, guard, audit, store, logger)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return srv.Start(ctx)
}
