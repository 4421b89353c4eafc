// Package journal is the durable, strictly ordered log of write requests
// recorded while the origin is unreachable.
//
// Each entry is one file under {root}/PendingChanges named by a 15-digit,
// zero-padded logical millisecond timestamp, so lexical order of the names
// is append order. Entries hold the canonical encoding of the request and
// are only removed once the caller has replayed them.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/layercache/internal/clock"
	"github.com/roach88/layercache/internal/fsutil"
	"github.com/roach88/layercache/internal/protocol"
)

// DirName is the journal directory under the cache root.
const DirName = "PendingChanges"

const handleExt = ".json"

var handlePattern = regexp.MustCompile(`^[0-9]{15}\.json$`)

// ErrInvalidHandle is returned for names outside the journal naming scheme.
var ErrInvalidHandle = errors.New("invalid journal handle")

// Journal appends, lists, loads and removes pending changes.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent
// appenders in other processes sharing the directory never overwrite each
// other's entries.
type Journal struct {
	dir    string
	files  fsutil.Files
	clock  *clock.Logical
	logger *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithRetry sets the retry policy for journal file operations.
func WithRetry(p fsutil.RetryPolicy) Option {
	return func(j *Journal) { j.files.Retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// Open opens the journal under root, creating the directory if needed.
// Names handed out continue after the newest existing entry, even if src
// reads earlier than that.
func Open(root string, src clock.Source, opts ...Option) (*Journal, error) {
	j := &Journal{
		dir:    filepath.Join(root, DirName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, fmt.Errorf("open journal %s: %w", j.dir, err)
	}

	handles, err := j.List()
	if err != nil {
		return nil, err
	}
	var last int64
	if n := len(handles); n > 0 {
		last, _ = ParseHandle(handles[n-1])
	}
	j.clock = clock.NewLogicalAt(src, last)
	return j, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string { return j.dir }

// FormatHandle renders a timestamp as a journal entry name.
func FormatHandle(ts int64) string {
	return fmt.Sprintf("%015d%s", ts, handleExt)
}

// ParseHandle extracts the timestamp from a journal entry name.
func ParseHandle(handle string) (int64, bool) {
	if !handlePattern.MatchString(handle) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSuffix(handle, handleExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Append persists req and returns its handle.
//
// The entry is written to a temporary file and hard-linked into place, so
// a name is claimed atomically and only ever holds a complete entry. A
// taken name bumps the timestamp and tries again.
func (j *Journal) Append(ctx context.Context, req *protocol.Request) (string, error) {
	if !req.Verb.IsWrite() {
		return "", fmt.Errorf("%w: journal only records writes, got %s", protocol.ErrInvalidRequest, req.Verb)
	}
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return "", fmt.Errorf("journal append: %w", err)
	}

	tmp, err := j.writeTemp(data)
	if err != nil {
		return "", fmt.Errorf("journal append: %w", err)
	}
	defer os.Remove(tmp)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		handle := FormatHandle(j.clock.Next())
		err := j.files.Retry.Do("link", handle, func() error {
			return os.Link(tmp, filepath.Join(j.dir, handle))
		})
		if errors.Is(err, fs.ErrExist) {
			j.logger.Debug("journal name taken, bumping", "handle", handle)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("journal append: %w", err)
		}
		j.logger.Debug("journal append", "handle", handle, "request", req.String())
		return handle, nil
	}
}

func (j *Journal) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(j.dir, ".tmp-journal-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// List returns entry handles in append order.
func (j *Journal) List() ([]string, error) {
	names, err := j.files.List(j.dir)
	if err != nil {
		return nil, fmt.Errorf("journal list: %w", err)
	}
	handles := names[:0]
	for _, n := range names {
		if handlePattern.MatchString(n) {
			handles = append(handles, n)
		}
	}
	return handles, nil
}

// Len returns the number of pending entries.
func (j *Journal) Len() (int, error) {
	handles, err := j.List()
	if err != nil {
		return 0, err
	}
	return len(handles), nil
}

// Load decodes the request stored under handle.
func (j *Journal) Load(handle string) (*protocol.Request, error) {
	if _, ok := ParseHandle(handle); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	data, _, err := j.files.Read(filepath.Join(j.dir, handle))
	if err != nil {
		return nil, fmt.Errorf("journal load %s: %w", handle, err)
	}
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		return nil, fmt.Errorf("journal load %s: %w", handle, err)
	}
	return req, nil
}

// Remove deletes a replayed entry. Removing a missing entry is not an error.
func (j *Journal) Remove(handle string) error {
	if _, ok := ParseHandle(handle); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	if err := j.files.Remove(filepath.Join(j.dir, handle)); err != nil {
		return fmt.Errorf("journal remove %s: %w", handle, err)
	}
	return nil
}

// Watch calls fn with the handle of every entry that appears in the
// journal directory after the call. The watcher is registered before Watch
// returns; events are delivered from a background goroutine until ctx is
// done.
func (j *Journal) Watch(ctx context.Context, fn func(handle string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("journal watch: %w", err)
	}
	if err := watcher.Add(j.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("journal watch %s: %w", j.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watcherEventCreate(event) {
					continue
				}
				handle := filepath.Base(event.Name)
				if !handlePattern.MatchString(handle) {
					continue
				}
				fn(handle)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				j.logger.Warn("journal watch error", "dir", j.dir, "error", err)
			}
		}
	}()
	return nil
}

func watcherEventCreate(event fsnotify.Event) bool {
	return event.Op&fsnotify.Create == fsnotify.Create
}
