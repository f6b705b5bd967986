package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ent0n29/ember/internal/artifact"
	"github.com/ent0n29/ember/internal/config"
	"github.com/ent0n29/ember/internal/conversation"
	"github.com/ent0n29/ember/internal/httpapi"
	"github.com/ent0n29/ember/internal/llm"
	"github.com/ent0n29/ember/internal/observability"
	"github.com/ent0n29/ember/internal/pipeline"
	"github.com/ent0n29/ember/internal/session"
	"github.com/ent0n29/ember/internal/transcribe"
	"github.com/ent0n29/ember/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := conversation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("conversation store init failed: %v", err)
	}
	defer store.Close()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("conversation store: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("conversation store: postgres")
	}

	transcriber := transcribe.NewClient(transcribe.Config{
		APIKey:        cfg.HFAPIKey,
		PrimaryModel:  cfg.WhisperModel,
		FallbackModel: cfg.WhisperFallbackModel,
	})

	var generator llm.Generator
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := llm.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("gemini client init failed: %v", err)
		}
		generator = gemini
		log.Printf("generator: gemini (%s)", cfg.GeminiModel)
	} else {
		generator = llm.NewMockGenerator()
		log.Printf("generator: mock (GEMINI_API_KEY not set)")
	}

	var synthesizer voice.Synthesizer
	if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
		synthesizer = voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.ElevenLabsVoiceID,
		})
		log.Printf("synthesizer: elevenlabs")
	} else {
		synthesizer = voice.NewMockSynthesizer()
		log.Printf("synthesizer: mock (ELEVENLABS_API_KEY not set)")
	}

	artifacts := artifact.NewManager(artifact.Config{
		Dir:        cfg.AudioDir,
		ServeGrace: cfg.AudioServeGrace,
		OutputTTL:  cfg.AudioOutputTTL,
		InputTTL:   cfg.AudioInputTTL,
	})
	artifacts.SetRemovedHook(func(kind string) {
		metrics.ArtifactsRemoved.WithLabelValues(kind).Inc()
	})
	artifacts.SweepAll()

	systemPrompt := pipeline.LoadSystemPrompt(cfg.SystemPromptPath)
	orchestrator := pipeline.NewOrchestrator(store, transcriber, generator, synthesizer, artifacts, metrics, systemPrompt)

	dedup := session.NewDedupCache()
	api := httpapi.New(cfg, store, orchestrator, dedup, artifacts, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	artifacts.StartSweeper(runCtx, cfg.AudioSweepInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
