package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/exzos28/torrent-streamer/cache"
	"github.com/exzos28/torrent-streamer/config"
	"github.com/exzos28/torrent-streamer/engine"
	"github.com/exzos28/torrent-streamer/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("invalid log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// the one process-wide memory budget every piece cache shares
	budget := cache.NewBudget(cfg.MemoryBudget)

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DefaultStorage = engine.NewCacheStorage(budget)
	clientConfig.Seed = false
	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return err
	}

	manager := server.NewManager(cfg, client)
	defer manager.Close()

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.New(cfg, manager).Handler(),
	}

	errs := make(chan error, 1)
	go func() {
		logrus.Infof("listening on %s (memory budget %d bytes)", cfg.Listen, cfg.MemoryBudget)
		errs <- httpServer.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		return err
	case sig := <-quit:
		logrus.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
}
