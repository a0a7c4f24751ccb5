// Package tempfiles tracks temporary files created for request bodies
// and embedding batches so they are removed on release, normal exit and
// termination signals.
package tempfiles

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Guard is a process-scoped registry of temp file paths.
type Guard struct {
	logger *zap.Logger

	mu    sync.Mutex
	paths map[string]struct{}

	signalOnce sync.Once
}

// NewGuard creates an empty registry.
func NewGuard(logger *zap.Logger) *Guard {
	return &Guard{logger: logger, paths: make(map[string]struct{})}
}

// Create opens a new exclusively-created file under the OS temp
// directory and registers it for cleanup.
func (g *Guard) Create(pattern string) (*os.File, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.paths[f.Name()] = struct{}{}
	g.mu.Unlock()
	return f, nil
}

// Register adds an externally created path to the registry.
func (g *Guard) Register(path string) {
	g.mu.Lock()
	g.paths[path] = struct{}{}
	g.mu.Unlock()
}

// Release removes the file and drops it from the registry. Releasing an
// unknown or already-removed path is a no-op.
func (g *Guard) Release(path string) {
	g.mu.Lock()
	delete(g.paths, path)
	g.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) && g.logger != nil {
		g.logger.Warn("Failed to remove temp file", zap.String("path", path), zap.Error(err))
	}
}

// CleanupAll removes every registered file. Safe to call repeatedly.
func (g *Guard) CleanupAll() {
	g.mu.Lock()
	paths := make([]string, 0, len(g.paths))
	for p := range g.paths {
		paths = append(paths, p)
	}
	g.paths = make(map[string]struct{})
	g.mu.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && g.logger != nil {
			g.logger.Warn("Failed to remove temp file", zap.String("path", p), zap.Error(err))
		}
	}
}

// HandleSignals wires cleanup to SIGINT/SIGTERM. Idempotent: the
// handler is installed once regardless of call count. The signal is
// re-raised after cleanup so the process still terminates with the
// conventional status.
func (g *Guard) HandleSignals() {
	g.signalOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-ch
			g.CleanupAll()
			signal.Stop(ch)
			if s, ok := sig.(syscall.Signal); ok {
				_ = syscall.Kill(syscall.Getpid(), s)
			}
		}()
	})
}

// Tracked returns the number of registered paths.
func (g *Guard) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.paths)
}
