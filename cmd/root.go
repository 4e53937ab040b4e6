package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dlnabridge/dlnabridge/conf"
	"github.com/dlnabridge/dlnabridge/consts"
	"github.com/dlnabridge/dlnabridge/core/catalog"
	"github.com/dlnabridge/dlnabridge/core/playback"
	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/db"
	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/persistence"
	"github.com/dlnabridge/dlnabridge/server/dlna"
	"github.com/dlnabridge/dlnabridge/server/nativeapi"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "dlnabridge",
	Short:   consts.AppName + " is a DLNA bridge for an Emby/Jellyfin-compatible media server",
	Version: consts.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		conf.InitConfig(cfgFile)
		conf.Load()
	},
	Run: func(cmd *cobra.Command, args []string) {
		runServer(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "configfile", "c", "",
		"config file (default: ./dlnabridge.toml)")
}

// Execute runs the root command. Called once from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.SetVersionTemplate(`{{println .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func runServer(ctx context.Context) {
	database, err := db.Init(conf.Server.DbPath)
	if err != nil {
		log.Fatal(ctx, "Failed to open profile database", err)
	}
	defer database.Close()

	repo := persistence.NewDeviceProfileRepository(ctx, database)
	if err := profiles.Seed(ctx, repo); err != nil {
		log.Fatal(ctx, "Failed to seed device profiles", err)
	}

	client := catalog.NewClient(
		conf.Server.Catalog.ServerURL,
		conf.Server.Catalog.AccessToken,
		conf.Server.Catalog.UserID,
		conf.Server.DeviceName,
	)
	matcher := profiles.NewMatcher(repo)
	tracker := playback.NewTracker(client, conf.Server.Catalog.UserID)
	router := dlna.New(client, matcher, tracker)

	mux := chi.NewRouter()
	mux.Mount("/api", nativeapi.New(repo, matcher).Routes())
	mux.Mount("/", router.Routes())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.Server.Dlna.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := router.Start(ctx); err != nil {
		log.Fatal(ctx, "Failed to start DLNA discovery", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gCtx, "HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down")
		router.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(ctx, "Server terminated", err)
	}
}
