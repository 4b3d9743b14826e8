package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	defaultInboxDebounce = 500 * time.Millisecond
)

// InboxResult reports one processed inbox file.
type InboxResult struct {
	Path    string
	MovedTo string
	Result  Result
	Err     error
}

// Inbox imports JSON documents dropped into a directory. Each file is
// imported once it has been quiet for the debounce interval, then moved
// into processed/ or failed/.
type Inbox struct {
	dir      string
	engine   *Engine
	strategy Strategy
	debounce time.Duration
	logger   *slog.Logger
	onResult func(InboxResult)
	now      func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithDebounce sets the quiet period before a file is imported.
func WithDebounce(d time.Duration) InboxOption {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// WithInboxLogger sets a custom logger.
func WithInboxLogger(logger *slog.Logger) InboxOption {
	return func(in *Inbox) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// OnResult registers a callback run after every processed file.
func OnResult(fn func(InboxResult)) InboxOption {
	return func(in *Inbox) {
		in.onResult = fn
	}
}

func NewInbox(dir string, engine *Engine, strategy Strategy, opts ...InboxOption) *Inbox {
	in := &Inbox{
		dir:      dir,
		engine:   engine,
		strategy: strategy,
		debounce: defaultInboxDebounce,
		logger:   slog.Default().With("component", "importer.inbox"),
		now:      func() time.Time { return time.Now().UTC() },
		timers:   map[string]*time.Timer{},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Watch blocks until ctx is cancelled, importing new files as they settle.
// Files already present when Watch starts are imported first.
func (in *Inbox) Watch(ctx context.Context) error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(in.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create inbox %s dir: %w", sub, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", in.dir, err)
	}
	in.logger.Info("import inbox started", "dir", in.dir, "strategy", in.strategy, "debounce_ms", in.debounce.Milliseconds())

	pending, err := filepath.Glob(filepath.Join(in.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range pending {
		in.schedule(ctx, path)
	}

	defer in.drain()
	for {
		select {
		case <-ctx.Done():
			in.logger.Info("import inbox stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !in.shouldProcess(event) {
				continue
			}
			in.logger.Debug("inbox event", "path", event.Name, "op", event.Op.String())
			in.schedule(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			in.logger.Error("inbox watcher error", "error", err)
		}
	}
}

func (in *Inbox) shouldProcess(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if filepath.Dir(event.Name) != filepath.Clean(in.dir) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json")
}

// schedule (re)starts the debounce timer for path.
func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if t, ok := in.timers[path]; ok {
		if t.Stop() {
			t.Reset(in.debounce)
			return
		}
	}
	in.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(in.debounce, func() {
		defer in.wg.Done()
		in.mu.Lock()
		if in.timers[path] == timer {
			delete(in.timers, path)
		}
		in.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		in.Process(ctx, path)
	})
	in.timers[path] = timer
}

// drain cancels pending timers and waits for running imports.
func (in *Inbox) drain() {
	in.mu.Lock()
	for path, t := range in.timers {
		if t.Stop() {
			in.wg.Done()
		}
		delete(in.timers, path)
	}
	in.mu.Unlock()
	in.wg.Wait()
}

// Process imports one file and moves it aside.
func (in *Inbox) Process(ctx context.Context, path string) InboxResult {
	out := InboxResult{Path: path}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out
		}
		out.Err = err
	} else {
		out.Result, out.Err = in.engine.Import(ctx, f, in.strategy)
		f.Close()
	}

	dest := ProcessedDir
	if out.Err != nil {
		dest = FailedDir
		in.logger.Error("inbox import failed", "path", path, "error", out.Err)
	} else {
		in.logger.Info("inbox import applied", "path", path, "counter_after", out.Result.CounterAfter)
	}

	target := filepath.Join(in.dir, dest, in.now().Format("20060102T150405")+"-"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		in.logger.Error("failed to move inbox file", "path", path, "target", target, "error", err)
	} else {
		out.MovedTo = target
	}
	if in.onResult != nil {
		in.onResult(out)
	}
	return out
}
