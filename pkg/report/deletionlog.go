package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// DeletionLogName is the fixed filename of the append-only deletion log.
const DeletionLogName = "pgl-dedup.deletions.log"

// DeletionLog records every removed file, one line per deletion. The log is
// append-only and flushed per entry so it survives an interrupted run.
type DeletionLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenDeletionLog opens (or creates) the deletion log in the given directory.
func OpenDeletionLog(dir string) (*DeletionLog, error) {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, DeletionLogName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, util.UserWritableFilePerms)
	if err != nil {
		return nil, fmt.Errorf("failed to open deletion log: %w", err)
	}
	return &DeletionLog{file: f}, nil
}

// Record appends one deletion entry. Fields are tab-separated: UTC timestamp,
// path, size in bytes, reason.
func (l *DeletionLog) Record(path string, size int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s\t%s\t%d\t%s\n", time.Now().UTC().Format(time.RFC3339), path, size, reason)
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append to deletion log: %w", err)
	}
	return l.file.Sync()
}

// Path returns the log file's location.
func (l *DeletionLog) Path() string {
	return l.file.Name()
}

func (l *DeletionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
