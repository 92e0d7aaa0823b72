package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobchat/internal/config"
	"github.com/jobchat/internal/handler"
	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/metrics"
	"github.com/jobchat/internal/push"
	"github.com/jobchat/internal/service"
	"github.com/jobchat/internal/ws"
)

func serveCmd() *cobra.Command {
	var dev, migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat backend (REST + WebSocket)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev, migrate)
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "start embedded PostgreSQL (and NATS when broker=nats)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations and exit")
	return cmd
}

func runServe(dev, migrateOnly bool) error {
	logger.SetPrefix("api")
	logger.Info("starting jobchat backend")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer cl.run()

	store, done, err := openStore(ctx, cfg, dev, migrateOnly, &cl)
	if err != nil || done {
		return err
	}
	kv, rds, err := openKV(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	events, err := openBroker(ctx, cfg, dev, rds, &cl)
	if err != nil {
		return err
	}
	uploader, localFiles, err := openUploader(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	keys, err := push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysFile)
	if err != nil {
		logger.Errorf("web push disabled: %v", err)
	}
	notifier := push.NewNotifier(kv, keys, cfg.Push.Subscriber, m)

	chats := service.NewChatService(service.Deps{
		Chats:    store.chats,
		Posts:    store.posts,
		Markers:  store.markers,
		Users:    store.users,
		Events:   events,
		Notifier: notifier,
		Uploader: uploader,
		Metrics:  m,
	})
	auth := service.NewAuthService(store.users, kv, cfg.SessionTTL)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(store.chats, cfg.MaxWSConnections, ws.Settings{
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		SendBufSize:    cfg.WSSendBufferSize,
	}, m)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()
	if err := events.Subscribe(hubCtx, hub.Broadcast); err != nil {
		hubCancel()
		hubWg.Wait()
		return err
	}

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(cfg, handler.Deps{
			Chats:   chats,
			Auth:    auth,
			Hub:     hub,
			Push:    notifier,
			Files:   localFiles,
			Metrics: m,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			hubCancel()
			hubWg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	if err := events.Close(); err != nil {
		logger.Errorf("broker close: %v", err)
	}
	return nil
}

