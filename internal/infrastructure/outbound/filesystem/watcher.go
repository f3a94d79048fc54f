package filesystem

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sophialabs/odatamock/internal/infrastructure/ports"
)

// AppFileExtensions are the files whose changes affect the simulated
// service: the manifest, the metadata document and the mock data.
var AppFileExtensions = []string{".json", ".xml"}

// Watcher watches an application directory tree and triggers a reload
// callback, debounced, when a relevant file changes.
type Watcher struct {
	rootDir    string
	debounce   time.Duration
	extensions []string
	logger     ports.Logger
	watcher    *fsnotify.Watcher
	onReload   func()
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewWatcher creates a watcher for rootDir and its subdirectories. Only
// files with one of extensions trigger onReload; nil means AppFileExtensions.
func NewWatcher(rootDir string, debounce time.Duration, extensions []string, logger ports.Logger, onReload func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if extensions == nil {
		extensions = AppFileExtensions
	}

	w := &Watcher{
		rootDir:    rootDir,
		debounce:   debounce,
		extensions: extensions,
		logger:     logger,
		watcher:    fsWatcher,
		onReload:   onReload,
		done:       make(chan struct{}),
	}

	if err := w.addRecursive(rootDir); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// Start begins watching in a goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop terminates the watcher and waits for a pending reload to finish.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !w.relevant(event.Name) {
				// New directories (e.g. a mockdata folder) are watched too.
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = w.addRecursive(event.Name)
					}
				}
				continue
			}

			w.logger.Debug("file change detected", "file", event.Name, "op", event.Op.String())

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case <-timerC:
			w.logger.Info("reinitializing mock server due to file changes", "dir", w.rootDir)
			w.onReload()
			timerC = nil
		}
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) relevant(name string) bool {
	return slices.Contains(w.extensions, strings.ToLower(filepath.Ext(name)))
}
