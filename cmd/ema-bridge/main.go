package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"github.com/koscakluka/ema-bridge/core/runtimes/gemini"
	"github.com/koscakluka/ema-bridge/core/transports/sse"
	"github.com/koscakluka/ema-bridge/core/transports/ws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	configPath := flag.String("config", "ema-bridge.yaml", "path to the config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tools := demoTools()

	newRuntime := func() runtimes.Runtime {
		opts := []gemini.ClientOption{}
		if cfg.Upstream.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Upstream.BaseURL))
		}
		return gemini.NewClient(cfg.Model, opts...)
	}

	liveOpts := []gemini.LiveOption{}
	if cfg.Upstream.LiveHost != "" {
		liveOpts = append(liveOpts, gemini.WithLiveHost(cfg.Upstream.LiveScheme, cfg.Upstream.LiveHost))
	}
	live := gemini.NewLiveClient(cfg.LiveModel, liveOpts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Mount("/v1", sse.NewHandler(newRuntime,
		sse.WithTools(tools...),
		sse.WithInstructions(cfg.Instructions),
	).Routes())
	r.Handle("/v1/live", ws.NewHandler(live,
		ws.WithTools(tools...),
		ws.WithInstructions(cfg.Instructions),
	))

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: otelhttp.NewHandler(r, "ema-bridge"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: shutdown did not complete cleanly: %v", err)
		}
	}()

	log.Printf("ema-bridge listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
