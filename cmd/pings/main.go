package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmanpar/Pings/internal/api"
	"github.com/oldmanpar/Pings/internal/config"
	"github.com/oldmanpar/Pings/internal/logger"
	"github.com/oldmanpar/Pings/internal/monitor"
	"github.com/oldmanpar/Pings/internal/probe"
	"github.com/oldmanpar/Pings/internal/trace"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Init logger
	logger.Init(cfg.Logging)
	log.Info().Str("listen", cfg.Listen).Msg("starting pings")

	roster, err := config.LoadTargets(cfg.Monitor.TargetsFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Monitor.TargetsFile).
			Msg("target roster unavailable, starting with an empty roster")
	}

	// OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	//------------------------------------------
	// CORE: EVENT LOG, SESSION, TRACER
	//------------------------------------------
	hub := api.NewHub()
	events := monitor.NewEventLog()
	session := monitor.NewSession(&probe.ICMPProber{Privileged: cfg.Monitor.Privileged}, events, hub)
	tracer := trace.NewOrchestrator(&trace.CommandRunner{Command: cfg.Trace.Command}, hub, cfg.Trace.MaxConcurrent)

	if cfg.Monitor.AutoStart && len(roster) > 0 {
		interval := time.Duration(cfg.Monitor.IntervalMs) * time.Millisecond
		timeout := time.Duration(cfg.Monitor.TimeoutMs) * time.Millisecond
		if err := session.Start(context.Background(), roster, interval, timeout); err != nil {
			log.Error().Err(err).Msg("auto-start failed")
		}
	}

	//------------------------------------------
	// START API SERVER
	//------------------------------------------
	srv := api.New(cfg, session, tracer, hub, roster)
	go func() {
		if err := srv.Run(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api server stopped")
		}
	}()
	log.Info().Msgf("api listening on %s", cfg.Listen)

	//------------------------------------------
	// WAIT FOR SHUTDOWN SIGNAL
	//------------------------------------------
	sig := <-sigChan
	log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")

	//------------------------------------------
	// SHUTDOWN SEQUENCE
	//------------------------------------------
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Info().Msg("stopping traces...")
	tracer.Stop()
	tracer.Wait()

	log.Info().Msg("stopping monitoring...")
	session.Stop()

	log.Info().Msg("stopping api server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown incomplete")
	}

	log.Info().Msg("pings stopped cleanly")
}
