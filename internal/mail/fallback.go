package mail

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder is the durable local substitute for the live transport.
// Record must not fail per notification; a sink that cannot be written
// is a startup error, caught when the recorder is constructed.
type Recorder interface {
	Record(kind, to, subject, body string) error
}

// FileRecorder appends timestamped text blocks to a local file. Entries
// are for humans; nothing in the notifier parses them back.
type FileRecorder struct {
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger

	now func() time.Time
}

// NewFileRecorder opens (or creates) the sink file in append mode.
func NewFileRecorder(path string, logger *zap.Logger) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open fallback sink %s: %w", path, err)
	}

	logger.Info("fallback recorder ready", zap.String("path", path))

	return &FileRecorder{
		file:   f,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Record appends one entry. Append order is read order.
func (r *FileRecorder) Record(kind, to, subject, body string) error {
	entry := fmt.Sprintf(
		"========================================\n"+
			"Type: %s\n"+
			"To: %s\n"+
			"Subject: %s\n"+
			"Timestamp: %s\n"+
			"========================================\n"+
			"%s\n"+
			"========================================\n\n",
		kind, to, subject, r.now().UTC().Format(time.RFC3339), body,
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.WriteString(entry); err != nil {
		return fmt.Errorf("append fallback entry: %w", err)
	}

	r.logger.Info("notification recorded locally",
		zap.String("kind", kind),
		zap.String("to", to),
		zap.String("subject", subject),
	)

	return nil
}

// Close releases the sink file.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
