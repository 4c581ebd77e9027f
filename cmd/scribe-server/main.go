package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/xhad/scribe/internal/bootstrap"
	cfgPkg "github.com/xhad/scribe/pkg/config"
	"github.com/xhad/scribe/pkg/logger"
	"github.com/xhad/scribe/pkg/server"
	"github.com/xhad/scribe/pkg/tracer"
)

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&addr, "addr", "", "Listen address (default from config, or :$PORT)")
	flag.Parse()

	if err := run(configPath, addr); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, addr string) error {
	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = cfg.Server.Addr
		}
	}
	if cfg.NeedsAPIKey() && cfg.LLM.APIKey == "" {
		return errors.New("LLM API key not found. Set GOOGLE_API_KEY, OPENAI_API_KEY or llm.api_key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logr, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	shutdown, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	app, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := server.NewWSServer(server.Config{
		Addr:     addr,
		Defaults: app.Options("", "", false),
		Logger:   logr,
	}, app)
	if err != nil {
		return err
	}

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
