package fetcher

import (
	"os"
	"sync"

	"github.com/rotisserie/eris"
)

// FailureLog appends failed pano ids to the user-supplied log file, one id
// per line. Workers share one instance; writes are serialized.
type FailureLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFailureLog opens (or creates) the log at path for appending. An empty
// path yields a no-op log.
func OpenFailureLog(path string) (*FailureLog, error) {
	if path == "" {
		return &FailureLog{}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open failure log %s", path)
	}
	return &FailureLog{f: f}, nil
}

// Append records one failed pano id.
func (l *FailureLog) Append(panoID string) {
	if l == nil || l.f == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.f.WriteString(panoID + "\n")
}

// Close releases the underlying file.
func (l *FailureLog) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
