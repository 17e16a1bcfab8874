package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rzzdr/euro-option-pricer/config"
	"github.com/rzzdr/euro-option-pricer/internal/adapters"
	"github.com/rzzdr/euro-option-pricer/internal/websocket"
	"github.com/rzzdr/euro-option-pricer/pkg/api"
	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

var (
	configFile = flag.String("config", "", "Path to configuration file (defaults to ./config/config.yaml)")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	path := *configFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("api.main")
	log.Infof("Starting %s API service", cfg.App.Name)

	// Cancelled on termination or on a server error
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := metrics.NewRecorder()

	components, err := adapters.Build(ctx, cfg, recorder, false)
	if err != nil {
		log.Fatalf("Failed to build pricing stack: %v", err)
	}

	apiConfig := api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		RequestTimeout: cfg.API.RequestTimeout,
		DefaultProcess: components.DefaultProcess,
		Admission:      components.Admission,
	}

	if cfg.API.ResultsFeed {
		hub := websocket.NewHub()
		go hub.Run(ctx)
		components.Pipeline.AddPublisher(hub)
		apiConfig.ResultFeed = http.HandlerFunc(hub.HandleWebSocket)
		log.Info("Streaming priced results on /ws/results")
	}

	apiServer := api.NewServer(
		apiConfig,
		components.Pipeline,
		components.Breakers,
		recorder,
	)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Errorf("API server error: %v", err)
			cancel()
		}
	}()

	var promServer *metrics.PrometheusServer
	if cfg.Metrics.Prometheus.Enabled {
		promServer = metrics.NewPrometheusServer(cfg.Metrics.Prometheus.Port, recorder)
		go func() {
			if err := promServer.Start(); err != nil {
				log.Errorf("Prometheus server error: %v", err)
			}
		}()
	}

	go metrics.CollectSystemMetrics(ctx, recorder, 15*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infof("Received signal %v, initiating shutdown", sig)
	case <-ctx.Done():
		log.Info("Server stopped, initiating shutdown")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Errorf("Error stopping API server: %v", err)
	}
	if promServer != nil {
		if err := promServer.Stop(shutdownCtx); err != nil {
			log.Errorf("Error stopping Prometheus server: %v", err)
		}
	}
	if err := components.Close(); err != nil {
		log.Errorf("Error closing connections: %v", err)
	}

	log.Info("API service shutdown complete")
}
