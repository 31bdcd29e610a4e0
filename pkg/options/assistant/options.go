// Package assistant provides options for the document pipeline, retrieval and chat turns.
package assistant

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/helix-assistant/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Vector index backends.
const (
	VectorBackendSQL      = "sql"
	VectorBackendPGVector = "pgvector"
	VectorBackendMilvus   = "milvus"
)

// Options contains assistant configuration.
type Options struct {
	// ChunkSize is the chunk window in tokens.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the number of tokens shared by consecutive chunks.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// EmbedBatchSize is the number of chunks sent per embedding call.
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// EmbedRetryDelay is the initial backoff between embedding retries.
	EmbedRetryDelay time.Duration `json:"embed-retry-delay" mapstructure:"embed-retry-delay"`

	// GenerationTimeout bounds one chat provider call.
	GenerationTimeout time.Duration `json:"generation-timeout" mapstructure:"generation-timeout"`

	// AnswerTokens is the token allowance reserved for the answer.
	AnswerTokens int `json:"answer-tokens" mapstructure:"answer-tokens"`

	// VectorBackend is sql, pgvector or milvus.
	VectorBackend string `json:"vector-backend" mapstructure:"vector-backend"`

	// EmbeddingDim is the vector width of the pgvector column and the Milvus collection.
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// CandidateFactor multiplies k to size the ANN candidate set before filtering.
	CandidateFactor int `json:"candidate-factor" mapstructure:"candidate-factor"`

	// DocsDir holds one sub-directory per tenant.
	DocsDir string `json:"docs-dir" mapstructure:"docs-dir"`

	// IngestWorkers bounds concurrent document ingestion.
	IngestWorkers int `json:"ingest-workers" mapstructure:"ingest-workers"`

	// JobWorkers bounds concurrent background ingestion jobs.
	JobWorkers int `json:"job-workers" mapstructure:"job-workers"`

	// Watch re-ingests a tenant folder when files change.
	Watch bool `json:"watch" mapstructure:"watch"`

	// WatchDebounce is the quiet period before a changed path is re-ingested.
	WatchDebounce time.Duration `json:"watch-debounce" mapstructure:"watch-debounce"`

	// IngestOnStart re-ingests every tenant folder once the server is up.
	IngestOnStart bool `json:"ingest-on-start" mapstructure:"ingest-on-start"`

	// AvailableMemoryGB is used for quantization when no GPU is detected.
	AvailableMemoryGB float64 `json:"available-memory-gb" mapstructure:"available-memory-gb"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:         1000,
		ChunkOverlap:      200,
		EmbedBatchSize:    16,
		EmbedRetryDelay:   500 * time.Millisecond,
		GenerationTimeout: 60 * time.Second,
		AnswerTokens:      1024,
		VectorBackend:     VectorBackendSQL,
		EmbeddingDim:      768,
		CandidateFactor:   4,
		DocsDir:           "docs",
		IngestWorkers:     4,
		JobWorkers:        2,
		WatchDebounce:     2 * time.Second,
		AvailableMemoryGB: 16,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "assistant."
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Chunk window in tokens.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Tokens shared by consecutive chunks.")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Chunks per embedding request.")
	fs.DurationVar(&o.EmbedRetryDelay, p+"embed-retry-delay", o.EmbedRetryDelay, "Initial backoff between embedding retries.")
	fs.DurationVar(&o.GenerationTimeout, p+"generation-timeout", o.GenerationTimeout, "Timeout of one generation call.")
	fs.IntVar(&o.AnswerTokens, p+"answer-tokens", o.AnswerTokens, "Token allowance reserved for the answer.")
	fs.StringVar(&o.VectorBackend, p+"vector-backend", o.VectorBackend, "Vector index backend (sql|pgvector|milvus).")
	fs.IntVar(&o.EmbeddingDim, p+"embedding-dim", o.EmbeddingDim, "Embedding dimension of the vector index.")
	fs.IntVar(&o.CandidateFactor, p+"candidate-factor", o.CandidateFactor, "ANN candidates fetched per requested chunk.")
	fs.StringVar(&o.DocsDir, p+"docs-dir", o.DocsDir, "Root of the per-tenant document folders.")
	fs.IntVar(&o.IngestWorkers, p+"ingest-workers", o.IngestWorkers, "Concurrent document ingestion workers.")
	fs.IntVar(&o.JobWorkers, p+"job-workers", o.JobWorkers, "Concurrent background ingestion jobs.")
	fs.BoolVar(&o.Watch, p+"watch", o.Watch, "Re-ingest tenant folders on file changes.")
	fs.DurationVar(&o.WatchDebounce, p+"watch-debounce", o.WatchDebounce, "Quiet period before a changed file is re-ingested.")
	fs.BoolVar(&o.IngestOnStart, p+"ingest-on-start", o.IngestOnStart, "Ingest every tenant folder once the server starts. SIGHUP triggers the same pass.")
	fs.Float64Var(&o.AvailableMemoryGB, p+"available-memory-gb", o.AvailableMemoryGB, "Memory assumed for quantization on CPU-only hosts.")
}

// Complete completes the options.
func (o *Options) Complete() error {
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 16
	}
	if o.CandidateFactor <= 0 {
		o.CandidateFactor = 4
	}
	return nil
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("assistant chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("assistant chunk-overlap must be within [0, chunk-size)"))
	}
	if o.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("assistant generation-timeout must be positive"))
	}
	if o.VectorBackend != VectorBackendSQL && o.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("assistant embedding-dim must be positive for %s", o.VectorBackend))
	}
	if o.AnswerTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant answer-tokens must not be negative"))
	}
	switch o.VectorBackend {
	case VectorBackendSQL, VectorBackendPGVector, VectorBackendMilvus:
	default:
		errs = append(errs, fmt.Errorf("unsupported vector-backend %q", o.VectorBackend))
	}
	if o.IngestWorkers <= 0 || o.JobWorkers <= 0 {
		errs = append(errs, fmt.Errorf("assistant workers must be positive"))
	}
	if o.Watch && o.WatchDebounce <= 0 {
		errs = append(errs, fmt.Errorf("assistant watch-debounce must be positive"))
	}
	if o.AvailableMemoryGB < 0 {
		errs = append(errs, fmt.Errorf("assistant available-memory-gb must not be negative"))
	}
	return errs
}
