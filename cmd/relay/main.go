package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"streamrelay/internal/app"
	"streamrelay/internal/auth"
	"streamrelay/internal/config"
	"streamrelay/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: The command tree is built per call so tests get isolated flag state
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "relay",
		Short:        "Real-time video and alert relay",
		Long:         `relay routes video frames from producer devices to viewers and analyzers, and fans analyzer alerts back out over WebSocket.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or JSON configuration file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newTokenCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay version %s\n", version)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID    string
		sessionID string
		name      string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			service, err := auth.NewService(auth.Config{
				SecretKey: cfg.Auth.JWTSecret,
				Issuer:    cfg.Auth.Issuer,
				Duration:  cfg.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, err := service.GenerateToken(auth.TokenRequest{
				UserID:    userID,
				SessionID: sessionID,
				Name:      name,
				TTL:       ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id carried as the token subject")
	cmd.Flags().StringVar(&sessionID, "session", "", "optional session id")
	cmd.Flags().StringVar(&name, "name", "", "optional display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// loadConfig resolves .env, environment and file layers into a validated config
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return config.LoadConfigWithPrecedence(path)
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Error("failed to start application", zap.Error(err))
		_ = application.Stop(context.Background())
		return err
	}

	return application.WaitForShutdown(ctx, cfg.HTTP.ShutdownTimeout)
}
