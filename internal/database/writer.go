package database

import (
	"sync"

	"go.uber.org/zap"

	"lyric-studio/internal/logger"
	"lyric-studio/internal/models"
)

// Writer serializes request-log inserts through one goroutine so callers
// never wait on sqlite.
type Writer struct {
	db      *DB
	entries chan models.LogEntry
	log     *zap.SugaredLogger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewWriter starts a writer with a queue of queueSize entries
func NewWriter(db *DB, queueSize int) *Writer {
	w := &Writer{
		db:      db,
		entries: make(chan models.LogEntry, queueSize),
		log:     logger.ComponentLogger("database.writer"),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues an entry. It drops the entry when the queue is full or the
// writer is closed.
func (w *Writer) Record(entry models.LogEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return
	}
	select {
	case w.entries <- entry:
	default:
		w.log.Warnw("Request log queue full, dropping entry",
			logger.FieldJobID, entry.JobID,
			"kind", entry.Kind)
	}
}

// Close stops accepting entries and waits until queued ones are written
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.entries)
		w.mu.Unlock()
	})
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for entry := range w.entries {
		entry := entry
		if err := w.db.InsertEntry(&entry); err != nil {
			w.log.Errorw("Failed to write request log entry",
				logger.FieldJobID, entry.JobID,
				logger.FieldError, err)
		}
	}
}

// RequestLog pairs the queued writer with reads against the same database
type RequestLog struct {
	db     *DB
	writer *Writer
}

// NewRequestLog starts a writer on db
func NewRequestLog(db *DB, queueSize int) *RequestLog {
	return &RequestLog{db: db, writer: NewWriter(db, queueSize)}
}

// Record queues an entry
func (l *RequestLog) Record(entry models.LogEntry) {
	l.writer.Record(entry)
}

// ListEntries returns the newest entries
func (l *RequestLog) ListEntries(jobID string, limit int) ([]models.LogEntry, error) {
	return l.db.ListEntries(jobID, limit)
}

// GetMetrics aggregates request-log counters
func (l *RequestLog) GetMetrics() (*models.Metrics, error) {
	return l.db.GetMetrics()
}

// Close flushes queued entries. The database stays open.
func (l *RequestLog) Close() {
	l.writer.Close()
}
