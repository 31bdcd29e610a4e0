package biz

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
)

// DefaultWatchDebounce 默认的事件合并窗口。
const DefaultWatchDebounce = 2 * time.Second

// SourceWatcher 监听租户文档目录，文件变化后重新摄取该文件。
// 同一路径在 debounce 窗口内的多次事件只触发一次处理。
type SourceWatcher struct {
	ingestor *Ingestor
	tenantID string
	root     string
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	fire    chan string
	done    chan struct{}
}

// NewSourceWatcher 创建目录监听器。
func NewSourceWatcher(ingestor *Ingestor, tenantID, root string, debounce time.Duration) *SourceWatcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &SourceWatcher{
		ingestor: ingestor,
		tenantID: tenantID,
		root:     root,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		fire:     make(chan string, 64),
		done:     make(chan struct{}),
	}
}

// Run 阻塞监听直到 ctx 取消，每个 SourceWatcher 只能运行一次。
func (w *SourceWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.root); err != nil {
		return err
	}
	logger.Infow("开始监听文档目录", "tenant_id", w.tenantID, "root", w.root, "debounce", w.debounce)

	defer close(w.done)
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			logger.Infow("停止监听文档目录", "tenant_id", w.tenantID, "root", w.root)
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(watcher, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("文件监听出错", "root", w.root, "error", err)

		case path := <-w.fire:
			w.process(ctx, path)
		}
	}
}

func (w *SourceWatcher) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("监听目录 %s 失败: %w", path, err)
			}
		}
		return nil
	})
}

func (w *SourceWatcher) handleEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(watcher, ev.Name); err != nil {
				logger.Warnw("监听新目录失败", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if _, ok := ContentTypeForPath(ev.Name); !ok {
		return
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.schedule(ev.Name)
	}
}

// schedule 重置 path 的计时器，窗口结束后投递到 fire。
func (w *SourceWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.fire <- path:
		case <-w.done:
		}
	})
}

func (w *SourceWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// process 文件仍存在时重新摄取，已删除时停用对应文档。
func (w *SourceWatcher) process(ctx context.Context, path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		logger.Warnw("无法计算相对路径", "path", path, "error", err)
		return
	}
	sourcePath := filepath.ToSlash(rel)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := w.ingestor.DeactivateBySource(ctx, w.tenantID, sourcePath); err != nil {
			logger.Warnw("停用已删除文档失败", "path", sourcePath, "error", err)
		}
		return
	}
	if err != nil {
		logger.Warnw("读取变更文件失败", "path", path, "error", err)
		return
	}

	ct, _ := ContentTypeForPath(path)
	summary, err := w.ingestor.Ingest(ctx, w.tenantID, StaticSource{{
		Path:        sourcePath,
		Content:     string(data),
		ContentType: ct,
	}})
	if err != nil {
		logger.Warnw("重新摄取变更文件失败", "path", sourcePath, "error", err)
		return
	}
	logger.Infow("变更文件已处理", "path", sourcePath, "status", summary.Status, "skipped", summary.DocumentsSkipped)
}
