package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assistantopts "github.com/kart-io/helix-assistant/pkg/options/assistant"
	dbopts "github.com/kart-io/helix-assistant/pkg/options/database"
)

func TestServerOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *ServerOptions)
		wantErr bool
	}{
		{"默认值有效", func(*ServerOptions) {}, false},
		{"pgvector 需要 postgres", func(o *ServerOptions) {
			o.AssistantOptions.VectorBackend = assistantopts.VectorBackendPGVector
		}, true},
		{"milvus 地址为空", func(o *ServerOptions) {
			o.AssistantOptions.VectorBackend = assistantopts.VectorBackendMilvus
			o.MilvusOptions.Address = ""
		}, true},
		{"sql 后端忽略 milvus", func(o *ServerOptions) { o.MilvusOptions.Address = "" }, false},
		{"写超时小于生成超时", func(o *ServerOptions) {
			o.HTTPOptions.WriteTimeout = 10 * time.Second
			o.AssistantOptions.GenerationTimeout = 30 * time.Second
		}, true},
		{"关闭超时为零", func(o *ServerOptions) { o.ShutdownTimeout = 0 }, true},
		{"未知数据库驱动", func(o *ServerOptions) { o.DatabaseOptions.Driver = "mysql" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewServerOptions()
			tt.mutate(o)
			require.NoError(t, o.Complete())
			if tt.wantErr {
				assert.Error(t, o.Validate())
			} else {
				assert.NoError(t, o.Validate())
			}
		})
	}
}

func TestServerOptions_Flags(t *testing.T) {
	o := NewServerOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fss := o.Flags()
	for _, name := range fss.Order {
		fs.AddFlagSet(fss.FlagSets[name])
	}

	require.NoError(t, fs.Parse([]string{
		"--http.addr=:9000",
		"--database.driver=sqlite",
		"--embedding.model=bge-m3",
		"--chat.provider=openai",
		"--chat.api-key=sk-test",
		"--assistant.embedding-dim=1024",
		"--shutdown-timeout=5s",
	}))
	require.NoError(t, o.Complete())

	assert.Equal(t, ":9000", o.HTTPOptions.Addr)
	assert.Equal(t, dbopts.DriverSQLite, o.DatabaseOptions.Driver)
	assert.Equal(t, "bge-m3", o.EmbeddingOptions.Model)
	assert.Equal(t, "openai", o.ChatOptions.Provider)
	assert.Equal(t, 1024, o.MilvusOptions.Dimension)
	assert.Equal(t, 5*time.Second, o.ShutdownTimeout)
	assert.NoError(t, o.Validate())

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.AssistantOptions, cfg.AssistantOptions)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}
