package skills

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a FilesystemLoader's skill catalog when config.json or
// skill.md files change under its SkillsPath (SPEC_FULL.md §4.18's
// fsnotify wiring note). Changes are debounced so a burst of writes (an
// editor save, a git checkout) triggers one reload, not several.
type Watcher struct {
	Loader   *FilesystemLoader
	Debounce time.Duration
	Logger   *slog.Logger
	OnReload func(skills []*Skill, errs []error)

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Start begins watching Loader.SkillsPath for changes. Calling Start
// twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fw.Add(w.Loader.SkillsPath); err != nil {
		_ = fw.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	debounce := w.Debounce
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx, debounce)
	return nil
}

// Stop halts the watcher and releases its fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if fw != nil {
		_ = fw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context, debounce time.Duration) {
	defer w.wg.Done()
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			skillList, errs := w.Loader.LoadAll(context.Background())
			for _, err := range errs {
				w.logger().Warn("skill reload error", "error", err)
			}
			if w.OnReload != nil {
				w.OnReload(skillList, errs)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger().Warn("skill watch error", "error", err)
		}
	}
}
