package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quickchat/internal/api"
	"quickchat/internal/auth"
	"quickchat/internal/chat"
	"quickchat/internal/commands"
	"quickchat/internal/config"
	"quickchat/internal/filestore"
	"quickchat/internal/http"
	"quickchat/internal/notify"
	"quickchat/internal/storage"
	"quickchat/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("quickchat", flag.ContinueOnError)
	addUser := flags.String("add-user", "", "Email of the user to create (creates user with random password and prints details)")
	fullName := flags.String("name", "", "Full name for -add-user")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, *fullName, cfg, os.Stdout)
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      cfg.AuthSecret,
		TokenExpiry: cfg.TokenExpiry,
	}, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}
	images := filestore.NewImages(files, bbStorage, cfg.MaxImageBytes)

	registry := ws.NewRegistry()
	broadcaster := ws.NewBroadcaster(registry, logger.With("component", "broadcaster"))
	wsServer := ws.NewServer(authService, registry, ws.ServerConfig{
		QueueSize:      cfg.SendQueueSize,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger.With("component", "ws"))

	var (
		pushNotifier *notify.WebPushNotifier
		offline      chat.OfflineNotifier
	)
	if cfg.PushEnabled() {
		pushNotifier = notify.NewWebPushNotifier(notify.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
			BaseURL:         cfg.BaseURL,
		}, bbStorage, authService, logger.With("component", "webpush"))
		offline = pushNotifier
	} else {
		logger.Info("web push disabled, VAPID keys not configured")
	}

	chatService := chat.NewService(bbStorage, authService, registry, broadcaster, offline, chat.Config{
		MaxImageBytes: cfg.MaxImageBytes,
	}, logger.With("component", "chat"))
	defer chatService.Wait()

	apiHandlers := api.New(authService, chatService, broadcaster, images, pushNotifier, logger.With("component", "api"))
	adminHandler := api.NewAdminHandler(authService, registry, broadcaster, cfg.BaseURL, logger.With("component", "admin"))

	g, gCtx := errgroup.WithContext(ctx)

	adminServer := http.NewAdminServer(adminHandler, cfg.AdminAddr, logger)
	apiServer := http.NewAPIServer(gCtx, apiHandlers, wsServer, cfg.APIAddr, logger)

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
