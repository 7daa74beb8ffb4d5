// Command engramd runs the engram memory engine as a long-lived daemon: it
// wires the configured storage backend, embedding and LLM providers, and the
// background task scheduler, then idles until a shutdown signal.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/engramdev/engram/internal/association"
	"github.com/engramdev/engram/internal/cache"
	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/contradiction"
	"github.com/engramdev/engram/internal/decay"
	"github.com/engramdev/engram/internal/dedup"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/extraction"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/ontology"
	"github.com/engramdev/engram/internal/reranker"
	"github.com/engramdev/engram/internal/session"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/storage/memstore"
	"github.com/engramdev/engram/internal/storage/postgres"
	"github.com/engramdev/engram/internal/storage/sqlite"
	"github.com/engramdev/engram/internal/task"
	"github.com/engramdev/engram/internal/tiering"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("engramd: load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("engramd: open %s storage: %v", cfg.Storage.Backend, err)
	}
	defer store.Close()
	log.Printf("engramd: storage backend %s ready", cfg.Storage.Backend)

	embedder := buildEmbedder(cfg)
	llmClient := buildLLM(cfg)
	if llmClient == nil {
		log.Printf("engramd: no llm provider configured, classification and tiering degrade to defaults")
	}

	scheduler := task.NewScheduler(cfg.Tasks.Workers, cfg.Tasks.QueueSize)

	classifier := ontology.NewClassifier(llmClient)
	assoc := association.NewService(store, classifier, cfg.Association.AutoThreshold)
	detector := contradiction.NewDetector(store)
	extractor := extraction.NewExtractor(llmClient)
	sessions := session.NewService(store, scheduler)
	decayer := decay.NewService(store, decay.Options{
		DecayFactor:           cfg.Decay.Factor,
		MinAgeDays:            cfg.Decay.MinAgeDays,
		ArchiveMaxImportance:  cfg.Decay.ArchiveMaxImportance,
		ArchiveMaxAccessCount: cfg.Decay.ArchiveMaxAccessCount,
		ArchiveMinAgeDays:     cfg.Decay.ArchiveMinAgeDays,
	})

	var tiers *tiering.Generator
	var rerank reranker.Reranker = reranker.Noop{}
	if llmClient != nil {
		tiers = tiering.NewGenerator(store, llmClient)
		rerank = reranker.NewLLMReranker(llmClient)
	}

	eng, err := engine.New(engine.Deps{
		Store:     store,
		Embedder:  embedder,
		Checker:   dedup.NewChecker(store, dedup.Options{UpdateThreshold: cfg.Dedup.UpdateThreshold, MergeThreshold: cfg.Dedup.MergeThreshold}),
		Assoc:     assoc,
		Detector:  detector,
		Extractor: extractor,
		LLM:       llmClient,
		Tiers:     tiers,
		Reranker:  rerank,
		Scheduler: scheduler,
		Cache:     cache.New(cfg.Recall.CacheSize, cfg.Recall.CacheTTL),
	}, engine.Options{
		OverfetchFactor:        cfg.Recall.OverfetchFactor,
		MaxGraphExpansion:      cfg.Recall.MaxGraphExpansion,
		TraverseDepth:          cfg.Recall.TraverseDepth,
		RecencyWeight:          cfg.Recall.RecencyWeight,
		RecencyHalfLifeHours:   cfg.Recall.RecencyHalfLifeHours,
		SameContextBoost:       cfg.Recall.SameContextBoost,
		SameWorkspaceBoost:     cfg.Recall.SameWorkspaceBoost,
		IncludeAssociations:    cfg.Recall.IncludeAssociations,
		DecompositionEnabled:   cfg.Decomposition.Enabled,
		DecompositionMinLength: cfg.Decomposition.MinLength,
	})
	if err != nil {
		log.Fatalf("engramd: build engine: %v", err)
	}

	scheduler.Register(engine.TaskTypeDecomposeFacts, eng.DecomposeFactsHandler())
	scheduler.Register(engine.TaskTypeAutoEnrich, eng.AutoEnrichHandler())
	scheduler.Register(session.TaskTypeRememberWorkingMemory, session.WriteBehindHandler(eng))
	scheduler.Register(session.TaskTypeTouchSession, sessions.TouchHandler())
	if tiers != nil {
		scheduler.Register(tiering.TaskTypeGenerateTiers, tiers.Handler())
	}
	scheduler.RegisterRecurring(session.TaskTypeSessionCleanup,
		time.Duration(cfg.Session.CleanupIntervalSeconds)*time.Second, sessions.CleanupHandler())
	scheduler.RegisterRecurring(decay.TaskTypeDecay,
		time.Duration(cfg.Decay.IntervalSeconds)*time.Second, func(ctx context.Context, t task.Task) error {
			return decayer.DecayAllWorkspaces(ctx)
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	log.Printf("engramd: running with %d workers", cfg.Tasks.Workers)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	log.Println("engramd: shutting down")
	if !scheduler.Stop(10 * time.Second) {
		log.Println("engramd: task queue did not drain before timeout")
	}
	stats := scheduler.Stats()
	log.Printf("engramd: stopped after %d tasks (%d failed)", stats.Processed, stats.Failed)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memstore.New(), nil
	case "postgres":
		return postgres.New(cfg.Storage.PostgresDSN)
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return sqlite.New(cfg.Storage.SQLitePath)
	}
}

func buildEmbedder(cfg *config.Config) embedding.Provider {
	var inner embedding.Provider
	switch cfg.Embedding.Provider {
	case "mock":
		inner = embedding.NewMockProvider(cfg.Embedding.Dimensions)
	case "openai":
		p, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.OpenAIURL,
			APIKey:     cfg.Embedding.OpenAIAPIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			log.Fatalf("engramd: openai embeddings: %v", err)
		}
		inner = p
	default:
		inner = embedding.NewOllamaProvider(embedding.OllamaConfig{
			BaseURL:    cfg.Embedding.OllamaURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	}
	return embedding.NewCachingProvider(inner, cache.New(cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL))
}

func buildLLM(cfg *config.Config) llm.Client {
	switch cfg.LLM.Provider {
	case "none", "mock":
		return nil
	case "openai":
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey: cfg.LLM.OpenAIAPIKey,
			Model:  cfg.LLM.OpenAIModel,
		})
		if err != nil {
			log.Fatalf("engramd: openai llm: %v", err)
		}
		return c
	default:
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.LLM.OllamaURL,
			Model:   cfg.LLM.OllamaModel,
		})
	}
}
