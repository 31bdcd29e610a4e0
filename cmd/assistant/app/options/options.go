// Package options contains flags and options for initializing the assistant server.
package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	assistant "github.com/kart-io/helix-assistant/internal/assistant"
	cliflag "github.com/kart-io/helix-assistant/pkg/infra/app/cliflag"
	genericoptions "github.com/kart-io/helix-assistant/pkg/options"
	assistantopts "github.com/kart-io/helix-assistant/pkg/options/assistant"
	dbopts "github.com/kart-io/helix-assistant/pkg/options/database"
	llmopts "github.com/kart-io/helix-assistant/pkg/options/llm"
	logopts "github.com/kart-io/helix-assistant/pkg/options/logger"
	milvusopts "github.com/kart-io/helix-assistant/pkg/options/milvus"
	redisopts "github.com/kart-io/helix-assistant/pkg/options/redis"
	httpopts "github.com/kart-io/helix-assistant/pkg/options/server/http"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// DatabaseOptions selects the sqlite or postgres store.
	DatabaseOptions *dbopts.Options `json:"database" mapstructure:"database"`

	// MilvusOptions is used when the vector backend is milvus.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// RedisOptions configures the query-embedding cache.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// AssistantOptions contains ingestion, retrieval and chat turn settings.
	AssistantOptions *assistantopts.Options `json:"assistant" mapstructure:"assistant"`

	// ShutdownTimeout is the timeout for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		DatabaseOptions:  dbopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		AssistantOptions: assistantopts.NewOptions(),
		ShutdownTimeout:  30 * time.Second,
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.DatabaseOptions.AddFlags(fss.FlagSet("database"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.ChatOptions.AddFlags(fss.FlagSet("chat"), "chat")
	o.AssistantOptions.AddFlags(fss.FlagSet("assistant"))

	// misc flags
	fs := fss.FlagSet("misc")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout")

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	sections := map[string]genericoptions.Completer{
		"http":      o.HTTPOptions,
		"log":       o.LogOptions,
		"database":  o.DatabaseOptions,
		"redis":     o.RedisOptions,
		"embedding": o.EmbeddingOptions,
		"chat":      o.ChatOptions,
		"assistant": o.AssistantOptions,
	}
	for name, c := range sections {
		if err := c.Complete(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	// The Milvus collection shares assistant.embedding-dim with the pgvector column.
	o.MilvusOptions.Dimension = o.AssistantOptions.EmbeddingDim
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := genericoptions.ValidateAll(
		o.HTTPOptions,
		o.LogOptions,
		o.DatabaseOptions,
		o.RedisOptions,
		o.EmbeddingOptions,
		o.ChatOptions,
		o.AssistantOptions,
	)
	if o.AssistantOptions.VectorBackend == assistantopts.VectorBackendMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	if o.AssistantOptions.VectorBackend == assistantopts.VectorBackendPGVector && o.DatabaseOptions.Driver != dbopts.DriverPostgres {
		errs = append(errs, fmt.Errorf("vector-backend pgvector requires database.driver=postgres"))
	}
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown-timeout must be positive"))
	}
	if o.HTTPOptions.WriteTimeout <= o.AssistantOptions.GenerationTimeout {
		errs = append(errs, fmt.Errorf("http write-timeout must exceed assistant generation-timeout"))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds an assistant.Config based on ServerOptions.
func (o *ServerOptions) Config() (*assistant.Config, error) {
	return &assistant.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		DatabaseOptions:  o.DatabaseOptions,
		MilvusOptions:    o.MilvusOptions,
		RedisOptions:     o.RedisOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		AssistantOptions: o.AssistantOptions,
		ShutdownTimeout:  o.ShutdownTimeout,
	}, nil
}
