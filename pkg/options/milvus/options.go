// Package milvusopts provides options for Milvus client configuration.
package milvusopts

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/helix-assistant/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Milvus client configuration.
type Options struct {
	// Address is the Milvus server address (host:port).
	Address string `json:"address" mapstructure:"address"`

	// Database is the database name to use.
	Database string `json:"database" mapstructure:"database"`

	// Username for authentication.
	Username string `json:"username" mapstructure:"username"`

	// Password for authentication.
	Password string `json:"-" mapstructure:"password"`

	// Timeout for connection and operations.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Collection holds the chunk vectors of every tenant.
	Collection string `json:"collection" mapstructure:"collection"`

	// Dimension is the embedding dimension the collection is created with.
	Dimension int `json:"dimension" mapstructure:"dimension"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:    "localhost:19530",
		Database:   "default",
		Timeout:    30 * time.Second,
		Collection: "helix_assistant_chunks",
		Dimension:  768,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "milvus."
	fs.StringVar(&o.Address, p+"address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Milvus username for authentication.")
	fs.StringVar(&o.Password, p+"password", o.Password, "Milvus password for authentication.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Connection and operation timeout.")
	fs.StringVar(&o.Collection, p+"collection", o.Collection, "Collection that stores chunk embeddings.")
	fs.IntVar(&o.Dimension, p+"dimension", o.Dimension, "Embedding dimension of the collection.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus timeout must be positive"))
	}
	if o.Collection == "" {
		errs = append(errs, fmt.Errorf("milvus collection is required"))
	}
	if o.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("milvus dimension must be positive"))
	}
	return errs
}
