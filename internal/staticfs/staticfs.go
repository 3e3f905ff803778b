// Package staticfs serves files below a fixed content root. Paths are
// confined to the root, content types come from the file extension, and
// file contents may be cached in memory and invalidated by a file watcher.
package staticfs

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/logging"
	"github.com/conneroisu/switchyard/internal/watcher"
	"github.com/conneroisu/switchyard/internal/web"
)

// DefaultSuffixes are the path suffixes served from the root when none are
// configured.
var DefaultSuffixes = []string{".html", ".htm"}

const debounceDelay = 100 * time.Millisecond

// File is a static file read from the root.
type File struct {
	Path        string
	ContentType string
	Data        []byte
	ModTime     time.Time
}

// Root is a static content root.
type Root struct {
	dir      string
	suffixes []string
	cache    bool
	logger   logging.Logger

	mu      sync.RWMutex
	entries map[string]*File
	watcher *watcher.FileWatcher
}

// New opens the root described by cfg. A root that does not exist yet is
// accepted; lookups below it report not found.
func New(cfg config.StaticConfig, logger logging.Logger) (*Root, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	dir, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root %q: %w", cfg.Root, err)
	}

	suffixes := cfg.Suffixes
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}
	normalized := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		normalized = append(normalized, s)
	}

	return &Root{
		dir:      dir,
		suffixes: normalized,
		cache:    cfg.Cache,
		logger:   logger.WithComponent("static"),
		entries:  make(map[string]*File),
	}, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string { return r.dir }

// Suffixes returns the served suffixes.
func (r *Root) Suffixes() []string { return append([]string(nil), r.suffixes...) }

// Matches reports whether a request path ends with a served suffix.
func (r *Root) Matches(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range r.suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Resolve maps a request path to a file path inside the root.
func (r *Root) Resolve(path string) (string, error) {
	clean := web.CleanPath(path)
	full := filepath.Join(r.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	rel, err := filepath.Rel(r.dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewNotFound(errors.CodePathTraversal, "path escapes static root").
			WithContext("path", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return "", errors.NewNotFound(errors.CodePathTraversal, "path escapes static root").
				WithContext("path", path)
		}
	}
	return full, nil
}

// Open reads the file for a request path, from the cache when enabled.
func (r *Root) Open(path string) (*File, error) {
	full, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}

	if r.cache {
		r.mu.RLock()
		f, ok := r.entries[full]
		r.mu.RUnlock()
		if ok {
			return f, nil
		}
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, errors.NewNotFound(errors.CodeFileNotFound, "static file not found").
			WithContext("path", path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.NewNotFound(errors.CodeFileNotFound, "static file not readable").
			WithContext("path", path)
	}

	f := &File{
		Path:        full,
		ContentType: ContentType(full),
		Data:        data,
		ModTime:     info.ModTime(),
	}
	if r.cache {
		r.mu.Lock()
		r.entries[full] = f
		r.mu.Unlock()
	}
	return f, nil
}

// Serve stages the file for path on resp with status 200.
func (r *Root) Serve(path string, resp *web.Response) error {
	f, err := r.Open(path)
	if err != nil {
		return err
	}
	resp.SetStatus(200).
		SetContentType(f.ContentType).
		SetHeader("Last-Modified", f.ModTime.UTC().Format(time.RFC1123)).
		SetBytes(f.Data)
	return nil
}

// Cached returns the number of cached files.
func (r *Root) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Invalidate drops the given absolute paths from the cache, or the whole
// cache when none are given.
func (r *Root) Invalidate(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(paths) == 0 {
		r.entries = make(map[string]*File)
		return
	}
	for _, p := range paths {
		delete(r.entries, filepath.Clean(p))
	}
}

// Watch evicts cached files when they change on disk, until ctx is done or
// Close is called.
func (r *Root) Watch(ctx context.Context) error {
	w, err := watcher.NewFileWatcher(debounceDelay, r.logger)
	if err != nil {
		return err
	}
	if err := w.AddRecursive(r.dir); err != nil {
		w.Stop()
		return fmt.Errorf("watch static root: %w", err)
	}
	w.AddFilter(watcher.NoHiddenFilter)
	w.AddHandler(func(events []watcher.ChangeEvent) error {
		paths := make([]string, 0, len(events))
		for _, e := range events {
			paths = append(paths, e.Path)
		}
		r.Invalidate(paths...)
		r.logger.Debug(ctx, "static cache invalidated", "files", len(paths))
		return nil
	})

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()

	r.logger.Info(ctx, "watching static root", "dir", r.dir)
	return w.Start(ctx)
}

// Close stops the watcher, if any.
func (r *Root) Close() error {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

var fallbackTypes = map[string]string{
	".html": web.ContentTypeHTML,
	".htm":  web.ContentTypeHTML,
	".txt":  web.ContentTypePlain,
	".json": web.ContentTypeJSON,
	".yaml": web.ContentTypeYAML,
	".yml":  web.ContentTypeYAML,
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".svg":  "image/svg+xml",
}

// ContentType returns the content type for a file name by extension.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := fallbackTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return web.ContentTypeBinary
}
