package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vtrenkov/chatrelay/internal/config"
	"github.com/vtrenkov/chatrelay/internal/handler"
	"github.com/vtrenkov/chatrelay/internal/handler/ws"
	"github.com/vtrenkov/chatrelay/internal/service/ai"
	"github.com/vtrenkov/chatrelay/internal/service/engine"
	"github.com/vtrenkov/chatrelay/internal/service/quota"
	"github.com/vtrenkov/chatrelay/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	generators := buildGenerators(ctx, cfg)
	if len(generators) == 0 {
		log.Fatal("no generation backend configured: set OPENAI_API_KEY, ANTHROPIC_API_KEY, or ARK credentials")
	}

	store := session.NewStore(cfg.Relay.MemoryLimit)
	guard := quota.NewGuard(cfg.Relay.DailyQuota)
	hub := ws.NewHub()

	eng, err := engine.New(store, guard, generators, hub, engine.Config{
		ActivateTrigger: cfg.Relay.ActivateTrigger,
		StopTrigger:     cfg.Relay.StopTrigger,
		DelayMin:        cfg.Relay.DelayMin,
		DelayMax:        cfg.Relay.DelayMax,
	})
	if err != nil {
		log.Fatalf("failed to build relay engine: %v", err)
	}

	reaper := engine.NewReaper(eng, cfg.Relay.SweepInterval, cfg.Relay.IdleTimeout)
	reaper.Start(ctx)
	defer reaper.Stop()

	router := handler.NewRouter(eng, hub)

	startServer(ctx, cfg.Server, router)
}

// buildGenerators registers every backend with usable credentials; a session
// picks one of them at activation.
func buildGenerators(ctx context.Context, cfg *config.Config) []ai.Generator {
	var generators []ai.Generator

	if cfg.OpenAI.Enabled() {
		generators = append(generators, ai.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.Relay.MaxTokens))
		log.Printf("openai backend registered model=%s", cfg.OpenAI.Model)
	}

	if cfg.Claude.Enabled() {
		generators = append(generators, ai.NewAnthropicGenerator(cfg.Claude.APIKey, cfg.Claude.Model, cfg.Relay.MaxTokens))
		log.Printf("anthropic backend registered model=%s", cfg.Claude.Model)
	}

	if cfg.Ark.Enabled() {
		arkCfg := cfg.Ark
		if arkCfg.MaxTokens == nil {
			maxTokens := int(cfg.Relay.MaxTokens)
			arkCfg.MaxTokens = &maxTokens
		}
		chatModel, err := arkCfg.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize ark model, skipping backend: %v", err)
		} else if gen, err := ai.NewArkGenerator(ctx, chatModel); err != nil {
			log.Printf("warning: failed to build ark generator, skipping backend: %v", err)
		} else {
			generators = append(generators, gen)
			log.Printf("ark backend registered model=%s", arkCfg.Model)
		}
	}

	return generators
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chatrelay backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
