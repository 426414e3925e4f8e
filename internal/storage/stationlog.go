// Package storage implements the append-only Station Log.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/labstack/gommon/log"
	"github.com/oses-stations/collector/internal/config"
)

// lockRetryDelay is how long a batch sleeps between attempts on a held
// advisory lock.
const lockRetryDelay = 10 * time.Millisecond

// Appender appends batches of records to a log.
type Appender interface {
	AppendBatch(ctx context.Context, lines []string) (AppendResult, error)
	Path() string
}

// LineError describes one record that could not be appended.
type LineError struct {
	Index int
	Err   error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Index, e.Err)
}

// AppendResult reports the outcome of one batch.
type AppendResult struct {
	Written int
	Failed  int
	Errors  []LineError
	// Offset is the log size before the batch was written.
	Offset int64
}

// OK reports whether every line of the batch was appended.
func (r AppendResult) OK() bool {
	return r.Failed == 0
}

// logFile is the subset of *os.File used while appending.
type logFile interface {
	WriteString(s string) (int, error)
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Options configures a StationLog.
type Options struct {
	// LockPath is the advisory lock sidecar; empty disables the
	// cross-process lock (the in-process mutex always applies).
	LockPath string
	Mode     config.FailureMode
	Sync     bool
	Logger   *log.Logger
}

// StationLog is a single append-only text file shared by all uploads.
type StationLog struct {
	mu       sync.Mutex
	path     string
	lockPath string
	mode     config.FailureMode
	sync     bool
	logger   *log.Logger

	openFile func(path string) (logFile, error)
}

// NewStationLog creates a StationLog writing to path. The file itself is
// only created by the first non-empty batch.
func NewStationLog(path string, opts Options) (*StationLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("station log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	mode := opts.Mode
	if mode == "" {
		mode = config.FailureModeContinue
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New("stationlog")
	}

	return &StationLog{
		path:     path,
		lockPath: opts.LockPath,
		mode:     mode,
		sync:     opts.Sync,
		logger:   logger,
		openFile: openAppend,
	}, nil
}

func openAppend(path string) (logFile, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// Path returns the log file path.
func (l *StationLog) Path() string {
	return l.path
}

// AppendBatch appends every line followed by "\n", in order, while holding
// exclusive access to the log for the whole batch. Lines of two batches
// never interleave.
//
// A non-nil error means the batch failed as a whole (lock, open or sync);
// the result then still counts which lines made it to the file.
func (l *StationLog) AppendBatch(ctx context.Context, lines []string) (AppendResult, error) {
	var res AppendResult
	if len(lines) == 0 {
		return res, nil
	}

	var batchErr error
	err := l.withLock(ctx, func() error {
		res, batchErr = l.writeBatch(lines)
		return nil
	})
	if err != nil {
		res = AppendResult{Failed: len(lines)}
		batchErr = fmt.Errorf("acquiring station log lock: %w", err)
	}

	if batchErr != nil {
		l.logger.Errorf("batch of %d lines to %s: written=%d failed=%d: %v",
			len(lines), l.path, res.Written, res.Failed, batchErr)
	} else if !res.OK() {
		l.logger.Warnf("batch of %d lines to %s: written=%d failed=%d",
			len(lines), l.path, res.Written, res.Failed)
	}
	return res, batchErr
}

// withLock runs fn under the in-process mutex and, when configured, the
// cross-process advisory lock. Both are released on every return path.
func (l *StationLog) withLock(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// ctx may have been cancelled while queued on the mutex.
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.lockPath == "" {
		return fn()
	}
	held := false
	err := fslock.WithBlocking(l.lockPath, blocker(ctx), func() error {
		held = true
		return fn()
	})
	if err != nil && !held && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// blocker is an fslock.Blocker that sleeps lockRetryDelay between attempts
// and gives up once ctx is done.
func blocker(ctx context.Context) fslock.Blocker {
	return func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
			return nil
		}
	}
}

func (l *StationLog) writeBatch(lines []string) (res AppendResult, err error) {
	f, err := l.openFile(l.path)
	if err != nil {
		res.Failed = len(lines)
		return res, fmt.Errorf("opening station log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing station log: %w", cerr)
		}
	}()

	info, serr := f.Stat()
	switch {
	case serr == nil:
		res.Offset = info.Size()
	case l.mode == config.FailureModeAtomic:
		// Without the pre-batch size there is nothing safe to roll back to.
		res.Failed = len(lines)
		return res, fmt.Errorf("reading station log size: %w", serr)
	}

	switch l.mode {
	case config.FailureModeAtomic:
		err = l.writeAtomic(f, lines, &res)
	default:
		l.writeEach(f, lines, &res)
	}
	if err != nil {
		return res, err
	}

	if l.sync && res.Written > 0 {
		if serr := f.Sync(); serr != nil {
			err = fmt.Errorf("syncing station log: %w", serr)
			if l.mode == config.FailureModeAtomic {
				if rerr := rollback(f, lines, &res); rerr != nil {
					err = fmt.Errorf("%v: %w", rerr, err)
				}
			}
			return res, err
		}
	}
	return res, nil
}

// rollback cuts the file back to the pre-batch offset and marks every line
// of the batch as failed.
func rollback(f logFile, lines []string, res *AppendResult) error {
	res.Written = 0
	res.Failed = len(lines)
	if err := f.Truncate(res.Offset); err != nil {
		return fmt.Errorf("rolling back batch at offset %d: %w", res.Offset, err)
	}
	return nil
}

// writeEach writes lines one at a time and keeps going past failures.
func (l *StationLog) writeEach(f logFile, lines []string, res *AppendResult) {
	for i, line := range lines {
		if n, err := f.WriteString(line + "\n"); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, LineError{Index: i, Err: err})
			if n > 0 {
				// Terminate the fragment so the next line starts its own record.
				_, _ = f.WriteString("\n")
			}
			continue
		}
		res.Written++
	}
}

// writeAtomic writes the batch in a single call. On failure the file is cut
// back to its pre-batch size so none of the batch remains.
func (l *StationLog) writeAtomic(f logFile, lines []string, res *AppendResult) error {
	var b strings.Builder
	for _, line := range lines {
		b.Grow(len(line) + 1)
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if _, err := f.WriteString(b.String()); err != nil {
		res.Errors = append(res.Errors, LineError{Index: 0, Err: err})
		if rerr := rollback(f, lines, res); rerr != nil {
			return fmt.Errorf("%w (write: %v)", rerr, err)
		}
		return nil
	}
	res.Written = len(lines)
	return nil
}
