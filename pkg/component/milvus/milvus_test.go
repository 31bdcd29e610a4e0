package milvus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilters(t *testing.T) {
	tests := []struct {
		name     string
		tenant   string
		doc      int64
		tenantEx string
		docEx    string
	}{
		{"普通租户", "acme", 7, `tenant_id == "acme"`, `tenant_id == "acme" and document_id == 7`},
		{"含引号", `a"b`, 1, `tenant_id == "a\"b"`, `tenant_id == "a\"b" and document_id == 1`},
		{"含反斜杠", `a\b`, 2, `tenant_id == "a\\b"`, `tenant_id == "a\\b" and document_id == 2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tenantEx, TenantFilter(tt.tenant))
			assert.Equal(t, tt.docEx, DocumentFilter(tt.tenant, tt.doc))
		})
	}
}

func TestChunkFilters(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"启用过滤", ActiveFilter("acme"), `tenant_id == "acme" and active == true`},
		{"保留新切片", StaleFilter("acme", 7, []int64{11, 12}), `tenant_id == "acme" and document_id == 7 and chunk_id not in [11, 12]`},
		{"无保留时删除整个文档", StaleFilter("acme", 7, nil), `tenant_id == "acme" and document_id == 7`},
		{"按主键删除", ChunksFilter("acme", []int64{3}), `tenant_id == "acme" and chunk_id in [3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestNew_NilOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}
