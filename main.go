// Policy RAG Assistant synthesizes care-policy clauses strictly from a
// verified knowledge base, gated by role-based access and fully audited.
package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"policy-rag-assistant/internal/api"
	"policy-rag-assistant/internal/assistant"
	"policy-rag-assistant/internal/audit"
	"policy-rag-assistant/internal/cache"
	"policy-rag-assistant/internal/config"
	"policy-rag-assistant/internal/errors"
	"policy-rag-assistant/internal/fallback"
	"policy-rag-assistant/internal/knowledge"
	"policy-rag-assistant/internal/permissions"
	"policy-rag-assistant/internal/retrieval"
	"policy-rag-assistant/internal/safety"
	"policy-rag-assistant/internal/synthesis"
)

func main() {
	log.Println("Starting Policy RAG Assistant...")

	// Local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	store, err := knowledge.NewSQLiteStore(cfg.Database.KnowledgePath)
	if err != nil {
		log.Fatal("Failed to initialize knowledge store:", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing knowledge store: %v", err)
		}
	}()

	sink, err := audit.NewSQLiteSink(cfg.Database.AuditPath)
	if err != nil {
		log.Fatal("Failed to initialize audit sink:", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Printf("Error closing audit sink: %v", err)
		}
	}()

	var resultCache cache.Cache
	if cfg.Cache.RedisEnabled {
		redisCache, err := cache.NewRedis(cfg.Cache)
		if err != nil {
			log.Fatal("Failed to connect to redis:", err)
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Printf("Error closing redis cache: %v", err)
			}
		}()
		resultCache = redisCache
	} else {
		resultCache = cache.NewMemory()
	}

	guard := permissions.NewGuard(cfg.Permissions)
	retriever := retrieval.New(store, resultCache, cfg.Cache.TTL())
	synthesizer := synthesis.New(cfg.Assistant)
	fallbacks := fallback.NewHandler()
	validator := safety.NewRuleValidator()

	orch := assistant.New(cfg.Assistant, guard, retriever, synthesizer,
		fallbacks, validator, sink, store)

	server := api.NewServer(orch, store, guard, errors.NewErrorHandler(cfg))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Run(addr); err != nil {
		log.Printf("Failed to start server: %v", err)
		return
	}
}
