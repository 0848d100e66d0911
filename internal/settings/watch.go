package settings

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the write+rename burst an atomic save produces
// into a single reload.
const watchDebounce = 200 * time.Millisecond

// Watch 监听设置文件的外部修改并重新加载，每次成功加载后调用 onChange。
// Watch reloads the settings file when it changes on disk and calls
// onChange with the fresh snapshot. It returns once the watcher is
// installed and stops when ctx is cancelled.
func (st *Store) Watch(ctx context.Context, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// watch the directory: atomic saves replace the file, and a watch on
	// the old inode would go stale
	if err := watcher.Add(filepath.Dir(st.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != st.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					timerC = timer.C
				} else {
					timer.Reset(watchDebounce)
				}

			case <-timerC:
				timer = nil
				timerC = nil
				loaded, err := st.Load()
				if err != nil {
					st.logger.Warn("reload settings", "error", err)
					continue
				}
				if onChange != nil {
					onChange(loaded)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				st.logger.Warn("settings watcher", "error", err)
			}
		}
	}()
	return nil
}
