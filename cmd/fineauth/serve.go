package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fineauth/fineauth/internal/api"
	"github.com/fineauth/fineauth/internal/auth/sso"
	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/config"
	"github.com/fineauth/fineauth/internal/db"
	"github.com/fineauth/fineauth/internal/esi"
	"github.com/fineauth/fineauth/internal/modules"
	"github.com/fineauth/fineauth/internal/permissions"
	"github.com/fineauth/fineauth/internal/push"
	"github.com/fineauth/fineauth/internal/queue"
	"github.com/fineauth/fineauth/internal/tlsreload"
	"github.com/fineauth/fineauth/internal/version"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// setupLogFile mirrors the process log into <LOG_DIR>/fineauth.log.
func setupLogFile(dir string) (io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "fineauth.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// openPermissions loads the flag file and registers the built-in flags.
func openPermissions(cfg *config.Config) (*permissions.Registry, error) {
	perms, err := permissions.Open(cfg.PermissionsPath)
	if err != nil {
		return nil, err
	}
	if err := perms.Register(permissions.Admin, "Full access to every module and admin route"); err != nil {
		return nil, err
	}
	if err := perms.Register(permissions.CharactersAdd, "Add characters to an account"); err != nil {
		return nil, err
	}
	return perms, nil
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logFile, err := setupLogFile(cfg.LogDir)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log.Printf("🚀 fineauth %s", version.String())

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	perms, err := openPermissions(cfg)
	if err != nil {
		return err
	}
	registry := modules.NewRegistry(database, perms)
	for _, m := range modules.BuiltIn() {
		if err := registry.Register(m); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name, err)
		}
	}

	vault := token.NewVault(database)
	esiClient := esi.NewClient(esi.Options{
		BaseURL:    cfg.BaseURL,
		Datasource: cfg.Datasource,
		UserAgent:  cfg.UserAgent,
		CacheTTL:   cfg.CacheTTL(),
	})
	q := queue.New(cfg.QueueRunSeconds)
	oauthCfg := sso.OAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.CallbackURL, cfg.LoginBaseURL, cfg.Scopes)
	provider := sso.NewEVEProvider(oauthCfg, cfg.LoginBaseURL, nil)

	svc := sso.NewService(sso.Options{
		Configured:        cfg.SSOConfigured(),
		StateTTL:          cfg.LoginStateTTL,
		StatusInterval:    cfg.StatusRefreshInterval(),
		RefreshInterval:   cfg.RefreshInterval(),
		NameCheckInterval: cfg.NameCheckInterval(),
	}, sso.Deps{
		Provider:   provider,
		Vault:      vault,
		ESI:        esiClient,
		Queue:      q,
		Authorizer: registry,
		Modifiers:  registry.AccountModifiers,
	})

	hub := push.NewHub(func() []push.Message {
		return []push.Message{
			{Event: push.EventQueue, Data: svc.Queue().Snapshot()},
			{Event: push.EventStatus, Data: svc.Status()},
		}
	})
	q.OnChange(func(s queue.Snapshot) { hub.Broadcast(push.EventQueue, s) })
	svc.OnStatusChange(func(s esi.StatusSnapshot) { hub.Broadcast(push.EventStatus, s) })
	registry.OnChange(func() { hub.Broadcast(push.EventModules, registry.List()) })

	deps := api.Deps{
		Service:     svc,
		Vault:       vault,
		Modules:     registry,
		Permissions: perms,
		Push:        hub,
	}
	if cfg.WebDir != "" {
		deps.Static = http.FileServer(http.Dir(cfg.WebDir))
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	scheme := "http"
	if cfg.HTTPSEnabled {
		certs, err := tlsreload.New(cfg.HTTPSCertPath, cfg.HTTPSKeyPath)
		if err != nil {
			return err
		}
		if err := certs.Start(); err != nil {
			return err
		}
		defer certs.Stop()
		server.TLSConfig = certs.TLSConfig()
		scheme = "https"
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc.Start(ctx)
	defer svc.Shutdown()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 Listening on %s://%s", scheme, cfg.Addr())
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
