package assistant

import (
	"context"
	"fmt"
	"os"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/helix-assistant/internal/assistant/biz"
)

// tenantFolders lists the tenant sub-directories of docsDir in name order.
func tenantFolders(docsDir string) ([]string, error) {
	entries, err := os.ReadDir(docsDir)
	if err != nil {
		return nil, err
	}
	var tenants []string
	for _, e := range entries {
		if e.IsDir() {
			tenants = append(tenants, e.Name())
		}
	}
	return tenants, nil
}

// Reindex ingests every tenant folder under the docs dir, one tenant at a
// time, and returns the summary of each tenant that could be ingested.
// A failing tenant does not stop the others; their errors are aggregated.
func (s *Server) Reindex(ctx context.Context) (map[string]*biz.IngestionSummary, error) {
	tenants, err := tenantFolders(s.service.DocsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant folders: %w", err)
	}

	summaries := make(map[string]*biz.IngestionSummary, len(tenants))
	var errs []error
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.service.Ingest(ctx, biz.IngestRequest{TenantID: tenant})
		if err != nil {
			logger.Errorw("tenant re-ingest failed", "tenant", tenant, "error", err.Error())
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
			continue
		}
		summaries[tenant] = res.Summary
		logger.Infow("Tenant re-ingested",
			"tenant", tenant,
			"status", res.Summary.Status,
			"ingested", res.Summary.DocumentsIngested,
			"skipped", res.Summary.DocumentsSkipped,
			"errors", res.Summary.Errors,
		)
	}
	return summaries, utilerrors.NewAggregate(errs)
}
