// Command qsrserver runs the QSR knowledge-assistant backend: it wires the
// store backends, LLM provider, and ingestion/retrieval pipelines selected
// by environment configuration, then serves spec §6's HTTP surface until
// terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"qsrcore/internal/citations"
	"qsrcore/internal/config"
	"qsrcore/internal/degrade"
	"qsrcore/internal/graphwriter"
	"qsrcore/internal/httpapi"
	"qsrcore/internal/ingestpipe"
	"qsrcore/internal/llm/providers"
	"qsrcore/internal/localqueue"
	"qsrcore/internal/objectstore"
	"qsrcore/internal/observability"
	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/progress"
	"qsrcore/internal/rag/embedder"
	"qsrcore/internal/retrieve"
	"qsrcore/internal/tts"
	"qsrcore/internal/validate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	observability.InitLogger("", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownOTel, err := observability.InitOTel(ctx, cfg.Telemetry)
		if err != nil {
			log.Error().Err(err).Msg("otel init failed, continuing without it")
		} else {
			defer func() { _ = shutdownOTel(context.Background()) }()
		}
	}

	stores, err := databases.NewManager(ctx, cfg.Databases)
	if err != nil {
		log.Fatal().Err(err).Msg("store backends unavailable")
	}

	objects, err := buildObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		log.Fatal().Err(err).Msg("object store unavailable")
	}

	provider, err := providers.Build(cfg, http.DefaultClient)
	if err != nil {
		log.Fatal().Err(err).Msg("llm provider unavailable")
	}

	emb := embedder.NewClient(cfg.LLM.Embedding, cfg.LLM.EmbedDim)
	writer := graphwriter.New(stores, emb)
	citationIndex := &citations.Index{
		Graph:    stores.Graph,
		Cache:    citations.ObjectStoreCache{Store: objects},
		Renderer: nil, // wired by a host that links a PDF rendering library; absent here the pipeline degrades per spec §4.2
	}
	degradeCtrl := degrade.New(3)
	progressStore := progress.New(0, 0)

	localQueue, err := localqueue.New(cfg.LocalQueue)
	if err != nil {
		log.Error().Err(err).Msg("local queue unavailable, continuing without degraded-mode replay buffer")
	}

	orchestrator := ingestpipe.New(ingestpipe.Orchestrator{
		Validator:  validate.New(nil),
		Objects:    objects,
		Stores:     stores,
		Writer:     writer,
		Citations:  citationIndex,
		Provider:   provider,
		Model:      modelFor(cfg.LLM),
		Embedder:   emb,
		Progress:   progressStore,
		Degrade:    degradeCtrl,
		LocalQueue: localQueue,
		Cfg:        cfg.Ingest,
	})

	if localQueue != nil {
		go runReplayLoop(ctx, degradeCtrl, orchestrator, cfg.Degrade.HealthProbeInterval)
	}

	retriever := &retrieve.Retriever{
		Graph:     stores.Graph,
		Vector:    stores.Vector,
		Search:    stores.Search,
		Embedder:  emb,
		Citations: citationIndex,
	}

	speech := tts.New(cfg.TTS, cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.APIKey, http.DefaultClient)

	server := &httpapi.Server{
		Ingest:    orchestrator,
		Retriever: retriever,
		Citations: citationIndex,
		Graph:     stores.Graph,
		Speech:    speech,
	}

	mux := http.NewServeMux()
	server.Register(mux)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("qsrserver listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("qsrserver stopped")
}

func buildObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.ObjectStore, error) {
	if cfg.Backend == "s3" {
		return objectstore.NewS3Store(ctx, cfg.S3)
	}
	return objectstore.NewMemoryStore(), nil
}

// runReplayLoop polls the degrade controller and drains the local-queue
// replay buffer once it reports recovery to normal mode, completing the
// spec §5 local-queue degradation contract (queue while degraded, replay
// once recovered).
func runReplayLoop(ctx context.Context, degradeCtrl *degrade.Controller, orchestrator *ingestpipe.Orchestrator, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if degradeCtrl.CurrentMode() != degrade.ModeNormal {
				continue
			}
			n, err := orchestrator.ReplayQueued(ctx)
			if err != nil {
				log.Error().Err(err).Msg("local queue replay failed")
				continue
			}
			if n > 0 {
				log.Info().Int("count", n).Msg("replayed queued uploads after recovery")
			}
		}
	}
}

func modelFor(cfg config.LLMConfig) string {
	switch cfg.Provider {
	case "anthropic":
		return cfg.Anthropic.Model
	case "google":
		return cfg.Google.Model
	default:
		return cfg.OpenAI.Model
	}
}
