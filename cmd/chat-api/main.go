package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/skinvault/backend/internal/auth"
	"github.com/skinvault/backend/internal/chat"
	"github.com/skinvault/backend/internal/chat/automod"
	"github.com/skinvault/backend/internal/chat/commands"
	"github.com/skinvault/backend/internal/config"
	"github.com/skinvault/backend/internal/database"
	"github.com/skinvault/backend/internal/identity"
	"github.com/skinvault/backend/internal/invites"
	"github.com/skinvault/backend/internal/logging"
	"github.com/skinvault/backend/internal/moderation"
	"github.com/skinvault/backend/internal/realtime"
	"github.com/skinvault/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chat-api",
		Short: "SkinVault chat backend service",
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
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("moderator-ids", defaults.GetString("auth.moderator_ids"), "Comma-separated moderator user ids")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.moderator_ids", "moderator-ids")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "skinvault-auth",
		Audience:      "skinvault-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	moderators := auth.NewModeratorSet(appConfig.ModeratorIDs)

	idProvider := chat.NewUUIDProvider()

	moderationService, err := moderation.NewService(moderation.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	directory, err := identity.NewDirectory(identity.DirectoryConfig{Database: db})
	if err != nil {
		return err
	}

	store, err := chat.NewStore(chat.StoreConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dispatcher := realtime.NewDispatcher()

	inviteService, err := invites.NewService(invites.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Moderation: moderationService,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	automodSource, err := automod.NewStoredSource(db, appConfig.AutomodLookupTimeout, logger)
	if err != nil {
		return err
	}
	automodLog, err := automod.NewRecorder(automod.RecorderConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	commandRegistry, err := commands.NewRegistry(db)
	if err != nil {
		return err
	}

	chatService, err := chat.NewService(chat.ServiceConfig{
		Store:            store,
		Moderation:       moderationService,
		Invites:          inviteService,
		Commands:         commandRegistry,
		Automod:          automodSource,
		AutomodLog:       automodLog,
		Identity:         directory,
		Premium:          directory,
		Publisher:        dispatcher,
		Clock:            time.Now,
		Logger:           logger,
		GlobalRecentDays: appConfig.GlobalRecentDays,
		DMRecentDays:     appConfig.DMRecentDays,
		RetentionDays:    appConfig.RetentionDays,
		ResolveTimeout:   appConfig.ResolveTimeout,
	})
	if err != nil {
		return err
	}

	historyEngine, err := chat.NewHistoryEngine(chat.HistoryConfig{
		Store:            store,
		Moderation:       moderationService,
		Identity:         directory,
		Premium:          directory,
		Clock:            time.Now,
		Logger:           logger,
		GlobalRecentDays: appConfig.GlobalRecentDays,
		DMRecentDays:     appConfig.DMRecentDays,
		RetentionDays:    appConfig.RetentionDays,
		DefaultPageSize:  appConfig.DefaultPageSize,
		MaxPageSize:      appConfig.MaxPageSize,
		ResolveTimeout:   appConfig.ResolveTimeout,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Moderators:   moderators,
		ChatService:  chatService,
		History:      historyEngine,
		Invites:      inviteService,
		Moderation:   moderationService,
		Automod:      automodSource,
		AutomodLog:   automodLog,
		Commands:     commandRegistry,
		Dispatcher:   dispatcher,
		Logger:       logger,
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
			zap.String("moderators", strings.Join(appConfig.ModeratorIDs, ",")))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
