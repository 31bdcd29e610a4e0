package biz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceWatcher_IngestsAndDeactivates(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "rh"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	w := NewSourceWatcher(env.ingestor, testTenant, root, 20*time.Millisecond)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	path := filepath.Join(root, "rh", "ferias.md")
	lookup := func() (active bool, found bool) {
		doc, err := env.store.FindDocumentBySource(context.Background(), testTenant, "rh/ferias.md")
		if err != nil || doc == nil {
			return false, false
		}
		return doc.Active, true
	}

	// 监听注册是异步的，未入库前重复写入
	require.Eventually(t, func() bool {
		if _, found := lookup(); found {
			return true
		}
		_ = os.WriteFile(path, []byte(vacationDoc), 0o644)
		return false
	}, 5*time.Second, 50*time.Millisecond)

	// 不支持的扩展名被忽略
	require.NoError(t, os.WriteFile(filepath.Join(root, "rh", "planilha.xlsx"), []byte("x"), 0o644))

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		active, found := lookup()
		return found && !active
	}, 5*time.Second, 20*time.Millisecond)

	docs, err := env.store.ListDocuments(context.Background(), testTenant, false)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Férias", docs[0].Title)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestSourceWatcher_Debounce(t *testing.T) {
	w := NewSourceWatcher(nil, testTenant, t.TempDir(), 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		w.schedule("a.md")
	}
	w.schedule("b.md")

	w.mu.Lock()
	assert.Len(t, w.pending, 2, "同一路径只保留一个计时器")
	w.mu.Unlock()

	got := map[string]int{}
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case p := <-w.fire:
			got[p]++
		case <-timeout:
			t.Fatalf("expected two debounced events, got %v", got)
		}
	}
	assert.Equal(t, map[string]int{"a.md": 1, "b.md": 1}, got)

	select {
	case p := <-w.fire:
		t.Fatalf("unexpected extra event for %s", p)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNewSourceWatcher_DefaultDebounce(t *testing.T) {
	w := NewSourceWatcher(nil, testTenant, "/tmp", 0)
	assert.Equal(t, DefaultWatchDebounce, w.debounce)
}

func TestSourceWatcher_MissingRoot(t *testing.T) {
	w := NewSourceWatcher(nil, testTenant, filepath.Join(t.TempDir(), "nope"), time.Millisecond)
	assert.Error(t, w.Run(context.Background()))
}
