package logging

import (
	"fmt"
	"os"
	"sync"
)

// LogRotator is an io.Writer backed by a size-capped file that ping-pongs to
// a single ".old" backup on overflow, adapted verbatim from the teacher's
// core/log_rotator.go.
type LogRotator struct {
	filename    string
	maxSize     int64
	file        *os.File
	mu          sync.Mutex
	currentSize int64
}

// NewLogRotator opens filename for append, rotating once it would exceed
// maxSizeMB megabytes.
func NewLogRotator(filename string, maxSizeMB int) (*LogRotator, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	r := &LogRotator{
		filename: filename,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogRotator) openFile() error {
	file, err := os.OpenFile(r.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	r.file = file
	r.currentSize = stat.Size()
	return nil
}

func (r *LogRotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	writeLen := int64(len(p))
	if r.currentSize+writeLen > r.maxSize {
		if err := r.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err = r.file.Write(p)
	r.currentSize += int64(n)
	return n, err
}

func (r *LogRotator) rotate() error {
	if r.file != nil {
		r.file.Close()
	}
	backupName := r.filename + ".old"
	os.Remove(backupName)
	if err := os.Rename(r.filename, backupName); err != nil {
		return err
	}
	return r.openFile()
}

func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
