package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/scenario"
)

// ScenarioReloadFunc receives the scenarios after an eager reload.
type ScenarioReloadFunc func(scenarios []scenario.Scenario)

// ScenarioWatcher reloads a ScenarioSource as soon as its file changes, so
// a broken edit is reported when it is saved rather than at the next alarm
// cycle. Bursts of events are coalesced by a debounce timer.
type ScenarioWatcher struct {
	source   *ScenarioSource
	debounce time.Duration
	onReload ScenarioReloadFunc
	logger   *logging.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
	ready   chan struct{}

	// startErr is set before ready closes when the watch cannot be set up.
	startErr error

	mu    sync.Mutex
	timer *time.Timer
}

// NewScenarioWatcher watches the file behind source. onReload may be nil.
func NewScenarioWatcher(source *ScenarioSource, debounce time.Duration, onReload ScenarioReloadFunc) *ScenarioWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &ScenarioWatcher{
		source:   source,
		debounce: debounce,
		onReload: onReload,
		logger:   logging.GetLogger("config.watcher"),
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Name implements lifecycle.Component.
func (w *ScenarioWatcher) Name() string {
	return "scenario-watcher"
}

// Start loads the document once and starts watching it. It returns once
// the file watch is in place.
func (w *ScenarioWatcher) Start(ctx context.Context) error {
	scenarios := w.source.Scenarios()
	w.logger.Info("watching %s (%d scenarios, debounce %s)", w.source.Path(), len(scenarios), w.debounce)

	watchCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
		if w.startErr != nil {
			cancel()
			return w.startErr
		}
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(5 * time.Second):
		cancel()
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
}

func (w *ScenarioWatcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *ScenarioWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.startErr = fmt.Errorf("failed to create file watcher: %w", err)
		return
	}
	defer watcher.Close()

	path := w.source.Path()
	if err := watcher.Add(path); err != nil {
		w.startErr = fmt.Errorf("failed to watch %s: %w", path, err)
		return
	}
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// Atomic replaces unlink the watched inode.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(path); err != nil {
					w.logger.Warn("failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.ErrorWithErr("watcher error", err)
		}
	}
}

func (w *ScenarioWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ScenarioWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *ScenarioWatcher) reload() {
	scenarios, err := w.source.Reload()
	if err != nil {
		w.logger.ErrorWithErr("scenario reload failed", err)
	}
	if w.onReload != nil {
		w.onReload(scenarios)
	}
}

// Stop ends the watch and waits for the loop to exit.
func (w *ScenarioWatcher) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for scenario watcher to stop: %w", ctx.Err())
	}
}
