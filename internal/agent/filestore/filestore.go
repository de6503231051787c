// Package filestore implements the per-user disk area the console
// populates with distributed script files, and the cache watermark the
// agent echoes back in its process reports.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/loadforge/agent/internal/agent/console"
	"github.com/loadforge/agent/pkg/metrics"
)

// Error is raised on a write failure. The control loop treats it as
// fatal for the current session: the session is torn down and the
// agent reconnects.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("filestore: write %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FileStore is the sink for distribution messages delivered over the
// console link. Exactly one exists per agent process for its lifetime;
// the control loop creates it lazily on the first successful console
// connection and keeps it across reconnects.
type FileStore struct {
	baseDir   string
	user      string
	watermark int64
	onError   func(error)
	metrics   *metrics.AgentMetrics
}

// New creates a FileStore rooted at <homeDir>/file-store/<user>,
// creating the directory if it does not exist. onError is invoked (from
// whichever goroutine is driving the inbound pump) whenever a
// distributed file fails to write; the control loop uses it to tear the
// session down. onError may be nil. m may be nil, in which case
// file-store metrics are simply not recorded.
func New(homeDir, user string, onError func(error), m *metrics.AgentMetrics) (*FileStore, error) {
	dir := filepath.Join(homeDir, "file-store", user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	return &FileStore{baseDir: dir, user: user, onError: onError, metrics: m}, nil
}

// GetDirectory returns the store's root directory.
func (fs *FileStore) GetDirectory() string {
	return fs.baseDir
}

// GetCacheHighWaterMark returns the most recent watermark any
// distributed file has carried. Safe to call concurrently with message
// handling: it is read from either the inbound pump or the heartbeat
// task per the single-writer/many-reader policy on this field.
func (fs *FileStore) GetCacheHighWaterMark() int64 {
	return atomic.LoadInt64(&fs.watermark)
}

// RegisterMessageHandlers installs fs as the dispatcher's first-stage
// handler: it claims FileDistribution messages and writes them under
// its root, advancing the watermark. Everything else falls through to
// fallback, which is the tee of the agent's ConsoleListener and the
// live worker fan-out sender.
func (fs *FileStore) RegisterMessageHandlers(d *console.Dispatcher, fallback console.Handler) {
	d.Handle(fs.handle)
	d.SetFallback(fallback)
}

func (fs *FileStore) handle(m console.Message) bool {
	fd, ok := m.(*console.FileDistribution)
	if !ok {
		return false
	}
	if err := fs.write(fd); err != nil {
		if fs.onError != nil {
			fs.onError(err)
		}
		return true
	}
	atomic.StoreInt64(&fs.watermark, fd.Watermark)
	if fs.metrics != nil {
		fs.metrics.RecordFileStoreSync()
		fs.metrics.SetFileStoreWatermark(float64(fd.Watermark))
	}
	return true
}

func (fs *FileStore) write(fd *console.FileDistribution) error {
	target := filepath.Join(fs.baseDir, filepath.Clean(fd.RelativePath))
	rel, err := filepath.Rel(fs.baseDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &Error{Path: fd.RelativePath, Err: fmt.Errorf("path escapes file-store root")}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &Error{Path: target, Err: err}
	}
	if err := os.WriteFile(target, fd.Content, 0o644); err != nil {
		return &Error{Path: target, Err: err}
	}
	return nil
}
