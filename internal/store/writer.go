package store

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// batchSize and flushInterval are spec.md §4.8's batch trigger: whichever
// of "100 records" or "2 seconds" comes first.
const (
	batchSize     = 100
	flushInterval = 2 * time.Second
)

var retryBackoff = []time.Duration{50 * time.Millisecond, 250 * time.Millisecond, 1 * time.Second}

// Writer is the single background worker draining the Queue into the
// interactions table. Grounded in the teacher's AsyncRequestLogger
// workerLoop/flush (core/logger.go), adapted to the spec's retry-then-drop
// failure policy and withTransaction-style commit (cmd/handlers.go).
type Writer struct {
	db     *gorm.DB
	queue  *Queue
	logger *logrus.Logger
	quit   chan struct{}
	done   chan struct{}
}

func NewWriter(db *gorm.DB, queue *Queue, logger *logrus.Logger) *Writer {
	w := &Writer{
		db:     db,
		queue:  queue,
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue implements recorder.Enqueuer.
func (w *Writer) Enqueue(r *Record) { w.queue.Enqueue(r) }

func (w *Writer) run() {
	defer close(w.done)
	ch := w.queue.channel()
	timer := time.NewTicker(flushInterval)
	defer timer.Stop()

	var batch []*Record
	for {
		select {
		case r := <-ch:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				w.commit(batch)
				batch = nil
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.commit(batch)
				batch = nil
			}
		case <-w.quit:
			if len(batch) > 0 {
				w.commit(batch)
			}
			w.drainRemaining(ch)
			return
		}
	}
}

// drainRemaining flushes whatever is still buffered in the channel at
// shutdown, so a graceful stop never silently loses queued records.
func (w *Writer) drainRemaining(ch <-chan *Record) {
	var batch []*Record
	for {
		select {
		case r := <-ch:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				w.commit(batch)
				batch = nil
			}
		default:
			if len(batch) > 0 {
				w.commit(batch)
			}
			return
		}
	}
}

func (w *Writer) commit(records []*Record) {
	rows := make([]Interaction, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.toRow())
	}

	var err error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		err = w.db.Transaction(func(tx *gorm.DB) error {
			return tx.CreateInBatches(rows, len(rows)).Error
		})
		if err == nil {
			return
		}
		if attempt < len(retryBackoff) {
			time.Sleep(retryBackoff[attempt])
		}
	}
	w.logger.WithError(err).Warn("store: dropping batch after persistent failure")
}

// Close stops the worker after flushing whatever batch is currently
// buffered, per spec.md §6's "exit 0 ... after draining the current record
// batch".
func (w *Writer) Close() {
	close(w.quit)
	<-w.done
}
