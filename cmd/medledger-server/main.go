package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/domain/account"
	"github.com/medledger/medledger/internal/domain/consent"
	"github.com/medledger/medledger/internal/domain/identity"
	"github.com/medledger/medledger/internal/domain/incentive"
	"github.com/medledger/medledger/internal/domain/records"
	"github.com/medledger/medledger/internal/domain/relationship"
	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/db"
	"github.com/medledger/medledger/internal/platform/kv"
	"github.com/medledger/medledger/internal/platform/ledger"
	"github.com/medledger/medledger/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "medledger-server",
		Short:   "MedLedger healthcare record API server",
		Version: version,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "migrations directory")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%4d  %-40s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(up)
	cmd.AddCommand(status)
	return cmd
}

func withMigrator(dir string, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	mode := cfg.Mode()
	caps := mode.Capabilities()
	logger.Info().Str("mode", mode.String()).Str("env", cfg.Env).Msg("starting medledger-server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	cancel()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	// Fallback stores. Consent grants and incentive payouts live in separate
	// keyspaces; giving each its own store keeps prefix scans disjoint.
	consentStore, incentiveStore, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer consentStore.Close()
	defer incentiveStore.Close()

	// One gateway per contract. Relationships have no deployed contract yet
	// and mirror through the stub when the ledger is active.
	ledgerTimeout := time.Duration(cfg.LedgerTimeout) * time.Second
	var identityGW, consentGW, incentiveGW, relationshipGW ledger.Gateway
	if mode.LedgerActive() {
		identityGW = ledger.NewRPCGateway(cfg.LedgerRPCURL, cfg.IdentityRegistryAddress, ledgerTimeout, logger)
		consentGW = ledger.NewRPCGateway(cfg.LedgerRPCURL, cfg.ConsentManagerAddress, ledgerTimeout, logger)
		incentiveGW = ledger.NewRPCGateway(cfg.LedgerRPCURL, cfg.IncentiveVaultAddress, ledgerTimeout, logger)
		relationshipGW = ledger.NewStubGateway()
	} else {
		identityGW = ledger.NopGateway{}
		consentGW = ledger.NopGateway{}
		incentiveGW = ledger.NopGateway{}
		relationshipGW = ledger.NopGateway{}
	}

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, jwtExpiry(cfg, logger))

	// Domain wiring.
	patientRepo := identity.NewPatientRepo(pool)
	doctorRepo := identity.NewDoctorRepo(pool)
	hospitalRepo := identity.NewHospitalRepo(pool)
	identitySvc := identity.NewService(patientRepo, doctorRepo, hospitalRepo, identityGW, caps.Identity, logger)

	consentEngine := consent.NewEngine(consentStore, consentGW, caps.Consent, logger)
	guard := auth.NewGuard(consentEngine)

	// Record hashes are anchored on the identity registry contract, which
	// keys them by the patient's on-chain identity.
	recordRepo := records.NewRecordRepo(pool)
	reportRepo := records.NewReportRepo(pool)
	recordsSvc := records.NewService(recordRepo, reportRepo, identitySvc, guard, identityGW, caps.Records, logger)

	relationshipRepo := relationship.NewRepo(pool)
	relationshipSvc := relationship.NewService(relationshipRepo, identitySvc, recordRepo, reportRepo,
		guard, relationshipGW, config.Capability{Blockchain: mode.LedgerActive(), Database: true}, logger)

	hospitalSigner := ledger.SignerFromPrivateKey(cfg.HospitalPrivateKey)
	incentiveSvc := incentive.NewService(incentiveStore, incentiveGW, caps.Incentives,
		incentive.DefaultRules(), hospitalSigner, logger)

	accountRepo := account.NewRepo(pool)
	accountSvc := account.NewService(accountRepo, identitySvc, issuer, logger)

	// HTTP server.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "x-user-private-key"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"version":         version,
			"blockchain_mode": mode.String(),
		})
	})

	public := e.Group("/api/v1")
	account.NewHandler(accountSvc).RegisterPublicRoutes(public)

	// Mirrored writes append to the caller's account transaction log.
	api := e.Group("/api/v1", auth.Middleware(issuer))
	account.NewHandler(accountSvc).RegisterRoutes(api)
	identity.NewHandler(identitySvc, accountSvc).RegisterRoutes(api)
	consent.NewHandler(consentEngine, accountSvc).RegisterRoutes(api)
	records.NewHandler(recordsSvc, accountSvc).RegisterRoutes(api)
	relationship.NewHandler(relationshipSvc, accountSvc).RegisterRoutes(api)
	incentive.NewHandler(incentiveSvc, accountSvc).RegisterRoutes(api)

	// Serve until interrupted, then drain.
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(":" + cfg.Port)
	}()
	logger.Info().Str("port", cfg.Port).Msg("server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	logger.Info().Msg("server stopped")
	return nil
}

// openStores opens the consent and incentive fallback stores. With no
// configured path both are in-memory, which is fine for development but
// loses grants on restart.
func openStores(cfg *config.Config, logger zerolog.Logger) (kv.Store, kv.Store, error) {
	if cfg.ConsentStorePath == "" {
		logger.Warn().Msg("CONSENT_STORE_PATH not set, consent and incentive stores are in-memory")
		return kv.NewMemoryStore(), kv.NewMemoryStore(), nil
	}

	consentStore, err := kv.OpenLevelDB(filepath.Join(cfg.ConsentStorePath, "consent"))
	if err != nil {
		return nil, nil, fmt.Errorf("open consent store: %w", err)
	}
	incentiveStore, err := kv.OpenLevelDB(filepath.Join(cfg.ConsentStorePath, "incentives"))
	if err != nil {
		consentStore.Close()
		return nil, nil, fmt.Errorf("open incentive store: %w", err)
	}
	return consentStore, incentiveStore, nil
}

func jwtExpiry(cfg *config.Config, logger zerolog.Logger) time.Duration {
	d, err := time.ParseDuration(cfg.JWTExpiresIn)
	if err != nil || d <= 0 {
		logger.Warn().Str("value", cfg.JWTExpiresIn).Msg("invalid JWT_EXPIRES_IN, using 24h")
		return 24 * time.Hour
	}
	return d
}
