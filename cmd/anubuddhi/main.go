package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rithvik1122/Anubuddhi-sub001/internal/agent"
	"github.com/rithvik1122/Anubuddhi-sub001/internal/api"
	"github.com/rithvik1122/Anubuddhi-sub001/internal/config"
	"github.com/rithvik1122/Anubuddhi-sub001/internal/embedding"
	"github.com/rithvik1122/Anubuddhi-sub001/internal/knowledge"
	"github.com/rithvik1122/Anubuddhi-sub001/internal/orchestrator"
	"github.com/rithvik1122/Anubuddhi-sub001/internal/provider"
	pgstore "github.com/rithvik1122/Anubuddhi-sub001/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Anubuddhi...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/anubuddhi.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// LLM providers
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Models: pc.Models,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Durable storage
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Knowledge store: embeddings + Qdrant
	var knowStore *knowledge.VectorStore
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := knowledge.NewQdrantClient(knowledge.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without knowledge store", zap.Error(qErr))
		} else {
			embCfg := embedding.Config{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			}
			var embedder embedding.Provider
			if embCfg.Provider == "api" && embCfg.Endpoint != "" {
				embedder = embedding.NewAPIProvider(embCfg)
			} else {
				embedder = embedding.NewLocalProvider(embCfg)
			}

			ks, kErr := knowledge.NewVectorStore(context.Background(), qc, embedder, logger)
			if kErr != nil {
				logger.Warn("knowledge store init failed", zap.Error(kErr))
			} else {
				if pgStore != nil {
					ks.SetArchive(pgStore)
				}
				knowStore = ks
				logger.Info("Knowledge store initialized")
			}
		}
	}

	// Agents
	registry := agent.NewRegistry(logger)
	registry.Register(agent.NewDesigner(orchestrator.AgentDesigner, router, logger))
	registry.Register(agent.NewAnalyzer(orchestrator.AgentAnalyzer, router, logger))
	registry.Register(agent.NewOptimizer(orchestrator.AgentOptimizer, router, logger))
	var recorder agent.Recorder
	if knowStore != nil {
		recorder = knowStore
	}
	registry.Register(agent.NewKnowledgeAgent(orchestrator.AgentKnowledge, recorder, logger))

	// Orchestration engine
	perf := orchestrator.NewPerformanceTracker()
	scheduler := orchestrator.NewScheduler(cfg.Orchestrator.MaxConcurrency, logger)
	dispatcher := orchestrator.NewDispatcher(registry, perf, nil,
		time.Duration(cfg.Orchestrator.TaskTimeoutSeconds)*time.Second, logger)
	planner := orchestrator.NewPlanner(cfg.Orchestrator.MaxRetries, logger)
	coordinator := orchestrator.NewCoordinator(registry, scheduler, dispatcher, planner, perf,
		cfg.Orchestrator.QueueSize, logger)
	coordinator.SetDefaultStrategy(orchestrator.Strategy(cfg.Orchestrator.DefaultStrategy))

	if knowStore != nil {
		coordinator.SetKnowledge(knowStore)
	}
	if pgStore != nil {
		coordinator.SetPersister(pgStore)
	}

	var bus *orchestrator.EventBus
	if cfg.Database.Redis.URL != "" {
		b, busErr := orchestrator.NewEventBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(busErr))
		} else {
			bus = b
			coordinator.SetBus(bus)
		}
	}

	runCtx, stop := context.WithCancel(context.Background())
	coordinator.Start(runCtx)
	logger.Info("Orchestration engine started")

	// HTTP server
	handler := api.NewHandler(coordinator, registry, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Anubuddhi listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Anubuddhi...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if bus != nil {
		bus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}
