package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/akaris/globetrack/internal/api"
	"github.com/akaris/globetrack/internal/config"
	"github.com/akaris/globetrack/internal/controller"
	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/feed/live"
	"github.com/akaris/globetrack/internal/feed/sim"
	"github.com/akaris/globetrack/internal/observability"
	"github.com/akaris/globetrack/internal/spatial"
	"github.com/akaris/globetrack/internal/storage/sqlite"
	"github.com/akaris/globetrack/internal/stream"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/internal/websocket"
	"github.com/akaris/globetrack/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting globetrack server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	collector, err := observability.NewFeedCollector(nil)
	if err != nil {
		log.Error("Failed to create metrics collector", logger.Error(err))
		os.Exit(1)
	}

	// Element-set cache for the satellite feed
	elementStorage, err := sqlite.NewElementStorage(cfg.Storage.ElementCachePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer elementStorage.Close()

	// WebSocket hub
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Feeds: one simulated and, where a source exists, one live feed per
	// kind.
	simOpts := sim.Options{
		SpeedMultiplier: cfg.Feeds.SpeedMultiplier,
		Seed:            cfg.Feeds.Seed,
	}

	shipSim := sim.NewShipFeed(feedConfig(cfg.Feeds.Ships), simOpts, log)
	aircraftSim := sim.NewAircraftFeed(feedConfig(cfg.Feeds.Aircraft), simOpts, log)
	satelliteSim := sim.NewSatelliteFeed(feedConfig(cfg.Feeds.Satellites), simOpts, log)
	droneSim := sim.NewDroneFeed(feedConfig(cfg.Feeds.Drones), simOpts, log)

	var shipLive *live.ShipFeed
	if cfg.Feeds.Ships.Live.URL != "" {
		shipLive = live.NewShipFeed(feedConfig(cfg.Feeds.Ships), live.ShipOptions{
			URL:           cfg.Feeds.Ships.Live.URL,
			ReconnectBase: time.Duration(cfg.Feeds.Ships.Live.ReconnectBaseMs) * time.Millisecond,
			PingInterval:  time.Duration(cfg.Feeds.Ships.Live.PingIntervalSecs) * time.Second,
		}, collector, log)
	}

	var aircraftLive *live.AircraftFeed
	if cfg.Feeds.Aircraft.Live.URL != "" {
		lc := cfg.Feeds.Aircraft.Live
		aircraftLive = live.NewAircraftFeed(feedConfig(cfg.Feeds.Aircraft), live.AircraftOptions{
			URL:             lc.URL,
			AuthMode:        lc.AuthMode,
			TokenURL:        lc.TokenURL,
			ClientID:        lc.ClientID,
			ClientSecret:    lc.ClientSecret,
			BasicUser:       lc.BasicUser,
			BasicPass:       lc.BasicPass,
			MinIntervalAuth: time.Duration(lc.MinIntervalAuthMs) * time.Millisecond,
			MinIntervalAnon: time.Duration(lc.MinIntervalAnonMs) * time.Millisecond,
			DisplayRate:     time.Duration(lc.DisplayRateMs) * time.Millisecond,
			Timeout:         time.Duration(lc.TimeoutSecs) * time.Second,
		}, collector, log)
	}

	var satelliteLive *live.SatelliteFeed
	if cfg.Feeds.Satellites.Live.URL != "" {
		lc := cfg.Feeds.Satellites.Live
		satelliteLive = live.NewSatelliteFeed(feedConfig(cfg.Feeds.Satellites), live.SatelliteOptions{
			URL:          lc.URL,
			FetchTimeout: time.Duration(lc.FetchTimeoutSecs) * time.Second,
			MaxCachedAge: time.Duration(lc.MaxCachedAgeHrs) * time.Hour,
		}, elementStorage, collector, log)
	}

	// Controllers and registry
	registry := controller.NewRegistry(log)
	registry.Add(controller.NewFeedController(units.KindShips, shipSim, feedOrNil(shipLive), log))
	registry.Add(controller.NewFeedController(units.KindAircraft, aircraftSim, feedOrNil(aircraftLive), log))
	registry.Add(controller.NewFeedController(units.KindSatellites, satelliteSim, feedOrNil(satelliteLive), log))
	registry.Add(controller.NewFeedController(units.KindDrones, droneSim, nil, log))

	// Spatial index
	index := spatial.New(spatial.Config{
		Resolution:    cfg.Spatial.Resolution,
		RebuildMinGap: time.Duration(cfg.Spatial.RebuildMinGapMs) * time.Millisecond,
		CacheSize:     cfg.Spatial.VisibleCacheSize,
	}, stream.RegistrySource(registry), collector, log)
	if err := index.Start(ctx); err != nil {
		log.Error("Failed to start spatial index", logger.Error(err))
		os.Exit(1)
	}

	// Stream service ties feeds, hub, and index together
	streamService := stream.NewService(registry, wsServer, index, collector, log)
	for _, f := range []feed.Feed{shipSim, aircraftSim, satelliteSim, droneSim} {
		streamService.Attach(f)
	}
	if shipLive != nil {
		streamService.Attach(shipLive)
		streamService.AttachViewportSink(shipLive)
	}
	if aircraftLive != nil {
		streamService.Attach(aircraftLive)
		streamService.AttachViewportSink(aircraftLive)
	}
	if satelliteLive != nil {
		streamService.Attach(satelliteLive)
	}
	wsServer.SetMessageHandler(streamService)
	streamService.Start(ctx)

	// Bring the feeds up
	if err := registry.StartAll(ctx, controller.Mode(cfg.Feeds.DefaultMode)); err != nil {
		log.Error("Failed to start feeds", logger.Error(err))
		os.Exit(1)
	}

	// HTTP servers
	router := api.NewRouter(registry, index, wsServer, collector.Handler(), log)

	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	allPorts = append(allPorts, cfg.Server.AdditionalPorts...)

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping feeds...")
	registry.StopAll()
	log.Info("Feeds stopped.")

	log.Info("Stopping stream service...")
	streamService.Stop()
	log.Info("Stream service stopped.")

	log.Info("Stopping spatial index...")
	index.Stop()
	log.Info("Spatial index stopped.")

	cancel()

	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}

func feedConfig(fc config.FeedConfig) feed.Config {
	return feed.Config{
		Enabled:    fc.Enabled,
		UpdateRate: fc.UpdateRate(),
		MaxUnits:   fc.MaxUnits,
	}
}

// feedOrNil keeps a typed-nil live feed from ending up inside a non-nil
// feed.Feed interface.
func feedOrNil[T feed.Feed](f T) feed.Feed {
	var zero T
	if any(f) == any(zero) {
		return nil
	}
	return f
}
