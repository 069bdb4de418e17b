package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"cloudplay/api"
	"cloudplay/config"
	"cloudplay/handlers"
	"cloudplay/services/catalog"
	"cloudplay/services/dropbox"
	"cloudplay/services/history"
	"cloudplay/services/notify"
	"cloudplay/services/playback"
)

func main() {
	portFlag := flag.Int("port", 0, "override the configured listen port")
	configFlag := flag.String("config", "", "path to the settings file")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("CLOUDPLAY_CONFIG")
	}
	if configPath == "" {
		configPath = "config.json"
	}

	settings, err := config.NewManager(configPath).Load()
	if err != nil {
		log.Fatalf("[main] load settings: %v", err)
	}
	if *portFlag != 0 {
		settings.Server.Port = *portFlag
	}

	setupLogging(settings.Log)
	log.Printf("[main] cloudplay starting, config=%s", configPath)

	if settings.Dropbox.RefreshToken == "" {
		log.Printf("[main] no Dropbox refresh token configured; set dropbox.refreshToken in %s", configPath)
	}

	tokens := dropbox.NewTokenSource(
		settings.Dropbox.AppKey,
		settings.Dropbox.AppSecret,
		settings.Dropbox.RefreshToken,
		nil,
	)
	client := dropbox.NewClient(tokens, nil)

	notices := notify.NewService()

	historySvc, err := history.NewService(
		client,
		settings.History.RemotePath,
		afero.NewOsFs(),
		settings.Cache.Directory,
		time.Duration(settings.History.ThrottleSeconds)*time.Second,
		notices,
	)
	if err != nil {
		log.Fatalf("[main] history service: %v", err)
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	historySvc.Load(loadCtx)
	cancelLoad()
	historySvc.Start()

	catalogSvc := catalog.NewService(
		client,
		settings.Library.RootPath,
		catalog.Roots{Movies: settings.Library.MoviesPath, Series: settings.Library.SeriesPath},
		settings.Library.VideoExtensions,
		notices,
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := catalogSvc.Refresh(ctx); err != nil {
			if errors.Is(err, dropbox.ErrAuthFailed) {
				log.Printf("[main] Dropbox rejected our credentials; the catalog cannot load until the app is re-linked: %v", err)
				notices.Publish("auth", "cloud authorization failed; re-link the app")
				return
			}
			log.Printf("[main] initial catalog refresh failed: %v", err)
		}
	}()

	playbackSvc := playback.NewService(
		catalogSvc,
		historySvc,
		client,
		notices,
		time.Duration(settings.Playback.CommitIntervalSeconds)*time.Second,
	)

	router := mux.NewRouter()
	api.Register(
		router,
		handlers.NewCatalogHandler(catalogSvc, client),
		handlers.NewHistoryHandler(historySvc),
		handlers.NewPlaybackHandler(playbackSvc),
		handlers.NewNotificationsHandler(notices),
	)

	addr := settings.Server.Host + ":" + strconv.Itoa(settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		log.Printf("[main] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("[main] shutting down")

	playbackSvc.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	historySvc.Close(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
	log.Printf("[main] stopped")
}

// setupLogging mirrors log output to stdout and a size-capped rotating file.
func setupLogging(cfg config.LogSettings) {
	if cfg.File == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
}
