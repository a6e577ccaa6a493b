package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/engly817chat/engly-client/internal/app"
	"github.com/engly817chat/engly-client/internal/client/api"
	"github.com/engly817chat/engly-client/internal/client/credentials"
	"github.com/engly817chat/engly-client/internal/client/room"
	"github.com/engly817chat/engly-client/internal/client/term"
	"github.com/engly817chat/engly-client/internal/config"
	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "engly",
		Short:         "Room chat client and reference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	cmd.PersistentFlags().String("log.level", config.Default().Log.Level, "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts), newChatCmd(opts))
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, *zerolog.Logger, error) {
	bootLog := englylog.NewWithWriter(os.Stderr, "info", "console")
	cfg, path, err := config.Load(bootLog, opts.configPath, cmd.Flags())
	if err != nil {
		return cfg, nil, err
	}
	logger := englylog.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	def := config.Default().Server
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference chat backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg.Server, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Server.Addr).Msg("starting engly server")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	f := cmd.Flags()
	f.String("server.addr", def.Addr, "HTTP listen address")
	f.Duration("server.read_header_timeout", def.ReadHeaderTimeout, "HTTP read header timeout")
	f.Duration("server.shutdown_timeout", def.ShutdownTimeout, "graceful shutdown timeout")
	f.String("server.database_path", def.DatabasePath, "sqlite database file")
	f.String("server.redis_addr", def.RedisAddr, "redis address for cross-instance fan-out (empty disables)")
	f.Bool("server.allow_anonymous", def.AllowAnonymous, "accept connections without a token")
	return cmd
}

type chatOptions struct {
	room     string
	username string
	password string
	register bool
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	def := config.Default().Client
	co := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open a room in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg.Client, co, logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&co.room, "room", "general", "room to open")
	f.StringVar(&co.username, "username", "", "sign in as this user")
	f.StringVar(&co.password, "password", "", "password for --username")
	f.BoolVar(&co.register, "register", false, "create the account before signing in")
	f.String("client.api_url", def.APIURL, "REST base URL")
	f.String("client.ws_url", def.WSURL, "WebSocket endpoint")
	f.String("client.token", def.Token, "bearer token (overrides --username)")
	f.Int("client.page_size", def.PageSize, "history page size")
	f.Int("client.viewport_rows", def.ViewportRows, "visible message rows")
	return cmd
}

func runChat(ctx context.Context, cfg config.ClientConfig, co *chatOptions, logger *zerolog.Logger) error {
	tokens := credentials.NewStatic(cfg.Token)
	client := api.New(cfg.APIURL, tokens, api.WithLogger(logger))

	if cfg.Token == "" && co.username != "" {
		authenticate := client.Login
		if co.register {
			authenticate = client.Register
		}
		token, err := authenticate(ctx, co.username, co.password)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		tokens.Set(token)
	}

	token, _ := tokens.Token(ctx)
	self, err := credentials.ParseIdentity(token)
	if err != nil {
		return err
	}

	screen := term.NewScreen(os.Stdout, cfg.ViewportRows, self.UserID)
	view := room.New(client, room.Options{
		Self:              self,
		Tokens:            tokens,
		WSURL:             cfg.WSURL,
		PageSize:          cfg.PageSize,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnects:     cfg.MaxReconnects,
		HeartbeatInterval: cfg.HeartbeatInterval,
		TypingIdle:        cfg.TypingIdle,
		ReadFlushDelay:    cfg.ReadFlushDelay,
		Surface:           screen,
		Visibility:        screen,
		NearTop:           1,
		NearBottom:        2,
		OnStateChange: func(_ string, state core.ConnState) {
			screen.SetState(state)
		},
		OnTyping: func(_ string, usernames []string) {
			screen.SetTyping(usernames)
		},
		OnReaders: func(messageID string, readers []core.Reader) {
			screen.SetReaders(messageID, len(readers))
		},
		Logger: logger,
	})
	defer view.Close()

	screen.Reset(co.room)
	if err := view.Open(ctx, co.room); err != nil && !errors.Is(err, context.Canceled) {
		screen.Notice("load history: %v", err)
	}
	screen.Redraw()
	return term.Run(ctx, os.Stdin, view, screen)
}
