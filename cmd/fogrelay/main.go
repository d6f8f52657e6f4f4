package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Garsondee/Tactical-Map/internal/config"
	"github.com/Garsondee/Tactical-Map/internal/logging"
	"github.com/Garsondee/Tactical-Map/internal/relay"
	"github.com/Garsondee/Tactical-Map/internal/store"
)

func main() {
	var cfgPath string
	var listen string
	var driver, dsn string

	flag.StringVar(&cfgPath, "config", "", "optional config file")
	flag.StringVar(&listen, "listen", "", "listen address (overrides relay.listen)")
	flag.StringVar(&driver, "db-driver", "", "mysql or sqlite (overrides db.driver)")
	flag.StringVar(&dsn, "db-dsn", "", "database DSN (overrides db.dsn)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Log.Fatalf("config: %v", err)
	}
	if listen != "" {
		cfg.Relay.Listen = listen
	}
	if driver != "" {
		cfg.DB.Driver = driver
	}
	if dsn != "" {
		cfg.DB.DSN = dsn
	}

	log := logging.Init(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN, log)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	srv := relay.NewServer(store.NewFogStore(db, log), log)
	mlog := logging.For("fogrelay")

	httpSrv := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		mlog.WithField("driver", cfg.DB.Driver).Infof("fog relay listening on %s", cfg.Relay.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mlog.Fatalf("listen: %v", err)
		}
	}()

	<-stop
	mlog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		mlog.Warnf("shutdown: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	mlog.Info("done.")
}
