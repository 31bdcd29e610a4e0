package assistant

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/internal/pkg/hardware"
	"github.com/kart-io/helix-assistant/pkg/component/redis"
	"github.com/kart-io/helix-assistant/pkg/llm"
	"github.com/kart-io/helix-assistant/pkg/llm/ollama"
	"github.com/kart-io/helix-assistant/pkg/llm/resilience"
	llmopts "github.com/kart-io/helix-assistant/pkg/options/llm"

	// Register LLM providers
	_ "github.com/kart-io/helix-assistant/pkg/llm/openai"
)

// startupHealthTimeout bounds the provider health check done at startup.
const startupHealthTimeout = 5 * time.Second

// newEmbeddingProvider builds the embedding provider behind a circuit breaker.
// A provider that cannot be built or is unhealthy is replaced by llm.Unavailable.
func newEmbeddingProvider(ctx context.Context, opts *llmopts.ProviderOptions) llm.EmbeddingProvider {
	p, err := llm.NewEmbeddingProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		logger.Errorw("failed to initialize embedding provider", "provider", opts.Provider, "error", err.Error())
		return llm.NewUnavailable(err.Error())
	}
	if err := checkHealth(ctx, p.Health); err != nil {
		logger.Warnw("embedding provider unhealthy at startup", "provider", opts.Provider, "error", err.Error())
		return llm.NewUnavailable(err.Error())
	}
	logger.Infow("Embedding provider initialized", "provider", opts.Provider, "model", p.Model())

	// 切片级重试由摄取流水线负责，这里只做熔断
	return resilience.NewResilientEmbeddingProvider(p, nil, resilience.DefaultCircuitBreakerConfig())
}

// newChatProvider builds the chat provider behind a circuit breaker.
func newChatProvider(ctx context.Context, opts *llmopts.ProviderOptions) llm.ChatProvider {
	p, err := llm.NewChatProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		logger.Errorw("failed to initialize chat provider", "provider", opts.Provider, "error", err.Error())
		return llm.NewUnavailable(err.Error())
	}
	if err := checkHealth(ctx, p.Health); err != nil {
		logger.Warnw("chat provider unhealthy at startup", "provider", opts.Provider, "error", err.Error())
		return llm.NewUnavailable(err.Error())
	}
	logger.Infow("Chat provider initialized", "provider", opts.Provider, "model", p.Model())
	return resilience.NewResilientChatProvider(p, resilience.DefaultCircuitBreakerConfig())
}

// newCachedEmbedder puts the Redis query-embedding cache in front of embedder.
func newCachedEmbedder(embedder llm.EmbeddingProvider, rdb *redis.Client, ttl time.Duration) llm.EmbeddingProvider {
	if llm.IsUnavailable(embedder) {
		return embedder
	}
	cacheCfg := llm.DefaultEmbeddingCacheConfig()
	if ttl > 0 {
		cacheCfg.TTL = ttl
	}
	return llm.NewCachedEmbeddingProvider(embedder, rdb.Client(), cacheCfg)
}

// selectChatModel picks the quantized ollama tag that fits the detected memory.
func selectChatModel(opts *llmopts.ProviderOptions, info hardware.Info, fallbackGB float64) {
	if !opts.AutoQuantize || opts.Provider != ollama.ProviderName {
		return
	}
	availableGB := hardware.AvailableMemoryGB(info, fallbackGB)
	tier := hardware.RecommendQuantization(availableGB)
	opts.Model = hardware.ModelTag(tier)
	logger.Infow("Chat model selected from hardware",
		"available_gb", availableGB,
		"tier", tier,
		"model", opts.Model,
	)
}

func checkHealth(ctx context.Context, health func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()
	return health(ctx)
}
