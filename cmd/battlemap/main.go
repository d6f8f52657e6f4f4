package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/uuid"

	"github.com/Garsondee/Tactical-Map/internal/client"
	"github.com/Garsondee/Tactical-Map/internal/config"
	"github.com/Garsondee/Tactical-Map/internal/engine"
	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/fogsync"
	"github.com/Garsondee/Tactical-Map/internal/logging"
	"github.com/Garsondee/Tactical-Map/internal/relay"
	"github.com/Garsondee/Tactical-Map/internal/render"
	"github.com/Garsondee/Tactical-Map/internal/token"
)

func main() {
	var cfgPath string
	var mapURL string
	var sessionID, mapID string
	var userID string
	var host bool
	var tokensPath string
	var relayURL string
	var width, height int

	flag.StringVar(&cfgPath, "config", "", "optional config file")
	flag.StringVar(&mapURL, "image", "", "map image URL or path (required)")
	flag.StringVar(&sessionID, "session", "session-1", "session id")
	flag.StringVar(&mapID, "map", "map-1", "map id")
	flag.StringVar(&userID, "user", "", "user id (default: random)")
	flag.BoolVar(&host, "host", false, "join as the host (may edit fog)")
	flag.StringVar(&tokensPath, "tokens", "", "JSON token file, re-read when it changes")
	flag.StringVar(&relayURL, "relay", "", "relay URL (overrides relay.url); empty plays offline")
	flag.IntVar(&width, "width", 1600, "window width")
	flag.IntVar(&height, "height", 900, "window height")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Log.Fatalf("config: %v", err)
	}
	if relayURL != "" {
		cfg.Relay.URL = relayURL
	}
	log := logging.Init(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	mlog := logging.For("battlemap")
	if mapURL == "" {
		mlog.Fatal("-image is required")
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	var repo fogsync.Repository
	if cfg.Relay.URL != "" {
		repo = relay.NewClient(cfg.Relay.URL, userID, log)
	} else {
		mlog.Warn("no relay configured, fog is kept in memory for this window only")
		repo = fogsync.NewMemoryRepository()
	}

	var feed token.Feed
	if tokensPath != "" {
		ff, err := token.NewFileFeed(tokensPath)
		if err != nil {
			mlog.Fatalf("tokens: %v", err)
		}
		feed = ff
	}

	images, err := render.NewImageLoader(cfg.Cache.MaxCost, log)
	if err != nil {
		mlog.Fatalf("image cache: %v", err)
	}
	defer images.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app, err := client.NewApp(ctx, client.AppOptions{
		Title:  "Tactical Map - " + sessionID + "/" + mapID,
		Width:  width,
		Height: height,
		Engine: engine.Options{
			Images:         images,
			Repo:           repo,
			UserID:         userID,
			ViewportBudget: cfg.Map.ViewportBudget,
			BatchInterval:  cfg.Fog.BatchInterval,
			FlushTimeout:   cfg.Fog.FlushTimeout,
			AnimationSpeed: cfg.Fog.AnimationSpeed,
		},
		MapURL:       mapURL,
		GridCellSize: cfg.Map.GridCellSize,
		SessionID:    sessionID,
		MapID:        mapID,
		Host:         host,
		Feed:         feed,
		Brush:        fog.Brush{Mode: fog.BrushReveal, Radius: cfg.Brush.Radius, Strength: cfg.Brush.Strength},
		Log:          log,
	})
	if err != nil {
		mlog.Fatalf("start: %v", err)
	}
	if err := app.Run(); err != nil {
		mlog.Errorf("%v", err)
	}
}
