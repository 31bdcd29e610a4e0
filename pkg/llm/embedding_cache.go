package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/helix-assistant/pkg/utils/json"
)

// scanBatch SCAN 每批返回的键数。
const scanBatch = 500

// EmbeddingCacheConfig 查询向量缓存配置。
type EmbeddingCacheConfig struct {
	Enabled   bool
	TTL       time.Duration
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回默认配置：缓存一天。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		Enabled:   true,
		TTL:       24 * time.Hour,
		KeyPrefix: "helix:emb:",
	}
}

// CacheStats 缓存概况。
type CacheStats struct {
	Enabled   bool          `json:"enabled"`
	Keys      int           `json:"keys"`
	TTL       time.Duration `json:"ttl"`
	KeyPrefix string        `json:"key_prefix"`
	Provider  string        `json:"provider"`
}

// CachedEmbeddingProvider 在 Redis 中缓存文本向量。
// 缓存尽力而为：任何 Redis 错误都回落到底层 provider，不会让调用失败。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	redis    goredis.Cmdable
	config   EmbeddingCacheConfig
}

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)

// NewCachedEmbeddingProvider 创建带缓存的 provider，redis 为 nil 时不缓存。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, redis goredis.Cmdable, config *EmbeddingCacheConfig) *CachedEmbeddingProvider {
	cfg := DefaultEmbeddingCacheConfig()
	if config != nil {
		cfg = config
	}
	return &CachedEmbeddingProvider{provider: provider, redis: redis, config: *cfg}
}

func (c *CachedEmbeddingProvider) enabled() bool {
	return c.config.Enabled && c.redis != nil
}

// cacheKey 为 prefix + sha256(model, text)，换模型后旧向量不会命中。
func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.provider.Model() + "\x00" + text))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// EmbedSingle 实现 EmbeddingProvider。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if !c.enabled() {
		return c.provider.EmbedSingle(ctx, text)
	}
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed 实现 EmbeddingProvider，只为未命中的文本调用底层 provider。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.enabled() || len(texts) == 0 {
		return c.provider.Embed(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.cacheKey(t)
	}
	out := c.lookup(ctx, keys)

	var missing []int
	for i := range texts {
		if out[i] == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vecs, err := c.provider.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(pending) {
		return nil, WrapError("embed", fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(pending)))
	}

	fresh := make(map[string][]float32, len(missing))
	for j, i := range missing {
		out[i] = vecs[j]
		fresh[keys[i]] = vecs[j]
	}
	c.save(ctx, fresh)

	logger.Debugw("embedding cache", "texts", len(texts), "hits", len(texts)-len(missing))
	return out, nil
}

// lookup 批量读取缓存，未命中或损坏的位置为 nil。
func (c *CachedEmbeddingProvider) lookup(ctx context.Context, keys []string) [][]float32 {
	out := make([][]float32, len(keys))
	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warnw("embedding cache read failed", "error", err.Error())
		return out
	}

	var corrupt []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil || len(vec) == 0 {
			corrupt = append(corrupt, keys[i])
			continue
		}
		out[i] = vec
	}
	if len(corrupt) > 0 {
		logger.Warnw("dropping corrupt cached embeddings", "count", len(corrupt))
		_ = c.redis.Del(ctx, corrupt...).Err()
	}
	return out
}

func (c *CachedEmbeddingProvider) save(ctx context.Context, entries map[string][]float32) {
	_, err := c.redis.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for key, vec := range entries {
			data, err := json.Marshal(vec)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, data, c.config.TTL)
		}
		return nil
	})
	if err != nil {
		logger.Warnw("embedding cache write failed", "error", err.Error(), "entries", len(entries))
	}
}

// Name 返回底层 provider 名称。
func (c *CachedEmbeddingProvider) Name() string { return c.provider.Name() }

// Model 返回底层模型。
func (c *CachedEmbeddingProvider) Model() string { return c.provider.Model() }

// Dimension 返回底层向量维度。
func (c *CachedEmbeddingProvider) Dimension() int { return c.provider.Dimension() }

// Health 只检查底层 provider，缓存不可用不影响健康。
func (c *CachedEmbeddingProvider) Health(ctx context.Context) error {
	return c.provider.Health(ctx)
}

// ClearCache 删除前缀下的全部缓存键。
func (c *CachedEmbeddingProvider) ClearCache(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	deleted := 0
	err := c.scan(ctx, func(keys []string) error {
		n, err := c.redis.Del(ctx, keys...).Result()
		deleted += int(n)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear embedding cache: %w", err)
	}
	logger.Infow("embedding cache cleared", "deleted", deleted)
	return nil
}

// GetCacheStats 统计当前缓存键数量。
func (c *CachedEmbeddingProvider) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Enabled:   c.enabled(),
		TTL:       c.config.TTL,
		KeyPrefix: c.config.KeyPrefix,
		Provider:  c.provider.Name(),
	}
	if !stats.Enabled {
		return stats, nil
	}
	err := c.scan(ctx, func(keys []string) error {
		stats.Keys += len(keys)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *CachedEmbeddingProvider) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, c.config.KeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
