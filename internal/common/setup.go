package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"basenames-agent-go/internal/agent"
	"basenames-agent-go/internal/allocator"
	"basenames-agent-go/internal/chain"
	"basenames-agent-go/internal/database"
	"basenames-agent-go/internal/formance"
	"basenames-agent-go/internal/fulfillment"
	"basenames-agent-go/internal/messaging"
	"basenames-agent-go/internal/models"
	"basenames-agent-go/internal/naming"
	"basenames-agent-go/internal/ratelimit"
	"basenames-agent-go/internal/signer"
	"basenames-agent-go/internal/store"
	"basenames-agent-go/internal/watcher"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Ledger       store.RequestStore
	Chain        *chain.Client
	Signer       *signer.Service
	Redis        *redis.Client
	Bridge       *messaging.Bridge
	Naming       *naming.Service
	Orchestrator *fulfillment.Orchestrator
	Agent        *agent.Agent
}

// InitializeLogger installs the global zap logger. LOG_LEVEL overrides the production default.
func InitializeLogger() (*zap.Logger, func()) {
	zapCfg := zap.NewProductionConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			log.Printf("Ignoring invalid LOG_LEVEL %q: %v\n", level, err)
		} else {
			zapCfg.Level = parsed
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires every component of the running agent
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	s := &Services{}

	ledger, err := InitializeLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.Ledger = ledger

	chainClient, err := chain.NewClient(ctx, cfg.Chain)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Chain = chainClient

	pricing, err := loadPricing(cfg.Agent.PricingFile)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Naming = naming.NewService(chainClient, pricing)

	signerService, err := signer.NewService(cfg.Signer)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Signer = signerService

	redisClient, err := messaging.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Redis = redisClient
	s.Bridge = messaging.NewBridge(redisClient, cfg.Messaging)

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Window)
	default:
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Window)
	}

	s.Orchestrator = fulfillment.NewOrchestrator(fulfillment.OrchestratorConfig{
		Watcher:     watcher.New(chainClient, cfg.Watcher),
		Registrar:   signerService,
		Ledger:      ledger,
		Notifier:    s.Bridge,
		ExplorerURL: cfg.Agent.ExplorerURL,
	})

	s.Agent = agent.New(agent.Config{
		InboxId:       cfg.Agent.InboxId,
		Naming:        s.Naming,
		Allocator:     allocator.New(signerService, s.Naming, cfg.Agent.DepositWindow),
		Ledger:        ledger,
		Fulfiller:     s.Orchestrator,
		Sender:        s.Bridge,
		Limiter:       limiter,
		ExplorerURL:   cfg.Agent.ExplorerURL,
		DepositWindow: cfg.Agent.DepositWindow,
	})

	zap.L().Info("Services initialized",
		zap.String("ledger_backend", cfg.Agent.LedgerBackend),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.Duration("deposit_window", cfg.Agent.DepositWindow))

	return s, nil
}

// InitializeLedger opens the request ledger selected by LEDGER_BACKEND.
// Read-only tools use it without the rest of the agent.
func InitializeLedger(ctx context.Context, cfg *models.Config) (store.RequestStore, error) {
	switch cfg.Agent.LedgerBackend {
	case "memory":
		zap.L().Warn("Using in-memory ledger, requests are lost on restart")
		return store.NewMemoryStore(), nil
	case "formance":
		svc, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case "sqlite", "":
		svc, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Agent.LedgerBackend)
	}
}

// InitializeNaming builds the naming service on a chain client for offline price checks.
// The caller closes the returned client.
func InitializeNaming(ctx context.Context, cfg *models.Config) (*naming.Service, *chain.Client, error) {
	chainClient, err := chain.NewClient(ctx, cfg.Chain)
	if err != nil {
		return nil, nil, err
	}
	pricing, err := loadPricing(cfg.Agent.PricingFile)
	if err != nil {
		chainClient.Close()
		return nil, nil, err
	}
	return naming.NewService(chainClient, pricing), chainClient, nil
}

func (s *Services) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if s.Chain != nil {
		s.Chain.Close()
	}
	if s.Ledger != nil {
		s.Ledger.Close()
	}
}

func loadPricing(path string) (*naming.Pricing, error) {
	if path == "" {
		return naming.DefaultPricing(), nil
	}
	pricing, err := naming.LoadPricing(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load pricing: %w", err)
	}
	zap.L().Info("Loaded pricing tiers", zap.String("file", path))
	return pricing, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
