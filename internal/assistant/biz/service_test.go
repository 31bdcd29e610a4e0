package biz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/pkg/hardware"
	"github.com/kart-io/helix-assistant/pkg/infra/pool"
	"github.com/kart-io/helix-assistant/pkg/llm"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

func newTestService(t *testing.T, env *testEnv, docsDir string) *Service {
	t.Helper()
	return &Service{
		Store:         env.store,
		Tenants:       env.store,
		Index:         store.NewSQLIndex(env.store.DB()),
		Ingestor:      env.ingestor,
		Retriever:     env.retriever,
		Conversations: env.convs,
		Languages:     env.languages,
		Embedder:      env.embedder,
		Chat:          env.chat,
		Metrics:       env.metrics,
		DocsDir:       docsDir,
	}
}

func TestService_ResolveDocsPath(t *testing.T) {
	svc := &Service{DocsDir: "/srv/docs"}
	tests := []struct {
		name    string
		tenant  string
		rel     string
		want    string
		wantErr bool
	}{
		{"整个租户目录", "acme", "", "/srv/docs/acme", false},
		{"子目录", "acme", "rh/2024", "/srv/docs/acme/rh/2024", false},
		{"目录内的 ..", "acme", "rh/../ti", "/srv/docs/acme/ti", false},
		{"越出租户目录", "acme", "../beta", "", true},
		{"仅 ..", "acme", "..", "", true},
		{"绝对路径", "acme", "/etc", "", true},
		{"空租户", "", "", "", true},
		{"租户含分隔符", "acme/../beta", "", "", true},
		{"租户为 ..", "..", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ResolveDocsPath(tt.tenant, tt.rel)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apierrors.ErrValidation), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestService_IngestFromTenantDir(t *testing.T) {
	env := newTestEnv(t)
	docs := t.TempDir()
	tenantDir := filepath.Join(docs, testTenant)
	require.NoError(t, os.MkdirAll(tenantDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tenantDir, "erp.md"), []byte(erpDoc), 0o644))
	// 其他租户的文件不会被摄取
	require.NoError(t, os.MkdirAll(filepath.Join(docs, "beta"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "beta", "x.md"), []byte(vacationDoc), 0o644))

	svc := newTestService(t, env, docs)
	res, err := svc.Ingest(context.Background(), IngestRequest{TenantID: testTenant})
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	assert.Nil(t, res.Job)
	assert.Equal(t, 1, res.Summary.DocumentsIngested)

	list, err := svc.ListDocuments(context.Background(), testTenant)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "erp.md", list[0].SourcePath)

	_, err = svc.Ingest(context.Background(), IngestRequest{TenantID: testTenant, Path: "../beta"})
	assert.True(t, errors.Is(err, apierrors.ErrValidation))
}

func TestService_IngestSubdirKeepsTenantRelativePath(t *testing.T) {
	env := newTestEnv(t)
	docs := t.TempDir()
	policies := filepath.Join(docs, testTenant, "policies")
	require.NoError(t, os.MkdirAll(policies, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(policies, "erp.md"), []byte(erpDoc), 0o644))

	svc := newTestService(t, env, docs)
	ctx := context.Background()
	full, err := svc.Ingest(ctx, IngestRequest{TenantID: testTenant})
	require.NoError(t, err)
	assert.Equal(t, 1, full.Summary.DocumentsIngested)

	sub, err := svc.Ingest(ctx, IngestRequest{TenantID: testTenant, Path: "policies"})
	require.NoError(t, err)
	assert.Equal(t, 0, sub.Summary.DocumentsIngested)
	assert.Equal(t, 1, sub.Summary.DocumentsSkipped, "子目录摄取应识别为同一文档")

	single, err := svc.Ingest(ctx, IngestRequest{TenantID: testTenant, Path: "policies/erp.md"})
	require.NoError(t, err)
	assert.Equal(t, 1, single.Summary.DocumentsSkipped)

	list, err := svc.ListDocuments(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "policies/erp.md", list[0].SourcePath)
}

func TestService_IngestContinuesPastUnreadableFile(t *testing.T) {
	env := newTestEnv(t)
	docs := t.TempDir()
	tenantDir := filepath.Join(docs, testTenant)
	require.NoError(t, os.MkdirAll(tenantDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tenantDir, "erp.md"), []byte(erpDoc), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(tenantDir, "sumiu.md"), filepath.Join(tenantDir, "broken.md")))

	svc := newTestService(t, env, docs)
	res, err := svc.Ingest(context.Background(), IngestRequest{TenantID: testTenant})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.DocumentsIngested)
	assert.Equal(t, 1, res.Summary.Errors)
	assert.Equal(t, IngestionPartial, res.Summary.Status)
	require.Len(t, res.Summary.Failures, 1)
	assert.Equal(t, "broken.md", res.Summary.Failures[0].Path)
}

func TestService_IngestProviderUnavailable(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestService(t, env, t.TempDir())

	env.embedder.health = errors.New("dial tcp: connection refused")
	_, err := svc.Ingest(context.Background(), IngestRequest{TenantID: testTenant, Documents: []SourceDocument{markdownDoc("a.md", erpDoc)}})
	assert.True(t, errors.Is(err, apierrors.ErrProviderUnavailable))
	assert.Zero(t, env.embedder.callCount(), "供应商不可用时不开始摄取")

	svc.Embedder = llm.NewUnavailable("no provider configured")
	_, err = svc.Ingest(context.Background(), IngestRequest{TenantID: testTenant})
	assert.True(t, errors.Is(err, apierrors.ErrProviderUnavailable))
	assert.Equal(t, 503, apierrors.FromError(err).HTTPStatus())
}

func TestService_IngestAsync(t *testing.T) {
	jobs := newTestPool(t, "jobs", pool.JobPool, pool.JobPoolConfig(2))
	env := newTestEnv(t, WithJobPool(jobs))
	svc := newTestService(t, env, t.TempDir())

	res, err := svc.Ingest(context.Background(), IngestRequest{
		TenantID:  testTenant,
		Async:     true,
		Documents: []SourceDocument{markdownDoc("a.md", erpDoc)},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Nil(t, res.Summary)

	require.Eventually(t, func() bool {
		job, err := env.ingestor.JobStatus(testTenant, res.Job.ID)
		return err == nil && job.Done()
	}, 5*time.Second, 10*time.Millisecond)
	job, err := env.ingestor.JobStatus(testTenant, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.State)
}

func TestService_Health(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestService(t, env, t.TempDir())
	info := hardware.CPUInfo()
	svc.Hardware = &info
	svc.Pools = pool.NewManager()

	report := svc.Health(context.Background())
	assert.Equal(t, "healthy", report.Status)
	assert.True(t, report.Healthy())
	assert.Equal(t, "fake-embed", report.Embedding.Model)
	assert.Equal(t, "fake-chat", report.Chat.Model)
	assert.True(t, report.Database.Healthy)
	assert.Equal(t, "sql", report.VectorIndex)
	require.NotNil(t, report.Performance)
	assert.Equal(t, "CPU", report.Performance.Mode)
	assert.Empty(t, report.Embedding.Circuit, "未包装熔断器")

	env.embedder.health = errors.New("down")
	report = svc.Health(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.False(t, report.Embedding.Healthy)
	assert.Equal(t, "down", report.Embedding.Error)
	assert.True(t, report.Chat.Healthy)
}
