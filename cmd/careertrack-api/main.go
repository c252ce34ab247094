package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/config"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/database"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/gamification"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/server"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "careertrack-api",
		Short: "Internship application tracker backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("transition-policy", defaults.GetString("tracker.transition_policy"), "Status transition policy (permissive, forward_only)")
	cmd.PersistentFlags().String("xp-broker-url", "", "RabbitMQ URL for XP awards; empty keeps awards in the local ledger")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "tracker.transition_policy", "transition-policy")
	bindFlag(cmd, "xp.broker_url", "xp-broker-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessions, err := auth.NewSessionVerifier(auth.SessionVerifierConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}
	streamTokens, err := auth.NewStreamTokenIssuer(auth.StreamTokenConfig{
		SigningSecret: []byte(appConfig.StreamSigningKey),
		TokenTTL:      appConfig.StreamTokenTTL,
	})
	if err != nil {
		return err
	}
	identities, err := users.NewResolver(users.ResolverConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	ledger, err := gamification.NewLedger(gamification.LedgerConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	var awarder gamification.Awarder = ledger
	if appConfig.XPBrokerURL != "" {
		brokerAwarder, err := gamification.DialBrokerAwarder(gamification.BrokerConfig{
			URL:        appConfig.XPBrokerURL,
			Exchange:   appConfig.XPExchange,
			RoutingKey: appConfig.XPRoutingKey,
			QueueName:  appConfig.XPQueue,
		}, logger)
		if err != nil {
			return err
		}
		defer brokerAwarder.Close() //nolint:errcheck
		awarder = brokerAwarder
	}

	policy, err := tracker.ParseTransitionPolicy(appConfig.TransitionPolicy)
	if err != nil {
		return err
	}
	store, err := tracker.NewStore(tracker.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: tracker.NewUUIDProvider(),
		Counter:    ledger,
	})
	if err != nil {
		return err
	}
	trackerService, err := tracker.NewService(tracker.ServiceConfig{
		Store:        store,
		Awarder:      awarder,
		Policy:       policy,
		AwardTimeout: appConfig.XPAwardTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer trackerService.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:           sessions,
		Identities:         identities,
		StreamTokens:       streamTokens,
		Tracker:            trackerService,
		Profiles:           ledger,
		AllowedOrigins:     appConfig.CORSAllowedOrigins,
		Logger:             logger,
		ExternalExperience: appConfig.XPBrokerURL != "",
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("transition_policy", appConfig.TransitionPolicy),
			zap.Bool("xp_broker", appConfig.XPBrokerURL != ""))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
