// Package missinglog records each unique not-found asset path for
// observability, without ever turning a miss into a control-flow signal.
package missinglog

import (
	"fmt"
	"io"
	"sync"
)

// Log deduplicates not-found paths and can flush the unique set to an
// io.Writer (e.g. a log file opened by the caller).
type Log struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an empty Log.
func New() *Log {
	return &Log{seen: make(map[string]struct{})}
}

// Observe records path as not-found. It is a no-op for a path already
// observed.
func (l *Log) Observe(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[path] = struct{}{}
}

// Len returns the number of unique not-found paths observed so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Flush writes every unique observed path to w, one per line, and clears
// the observed set.
func (l *Log) Flush(w io.Writer) error {
	l.mu.Lock()
	paths := make([]string, 0, len(l.seen))
	for p := range l.seen {
		paths = append(paths, p)
	}
	l.seen = make(map[string]struct{})
	l.mu.Unlock()

	for _, p := range paths {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
