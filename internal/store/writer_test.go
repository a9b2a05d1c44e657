package store

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openTestDB mirrors the teacher's core/router_test.go in-memory sqlite
// setup (file::memory:?cache=shared keeps the DB alive across connections
// for the life of the test; closing the pool at cleanup discards it, so the
// next test starts from an empty table).
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestWriter_FlushesOnBatchSize(t *testing.T) {
	db := openTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	q := NewQueue(DefaultCapacity)
	w := NewWriter(db, q, logger)

	for i := 0; i < batchSize; i++ {
		w.Enqueue(&Record{CreatedAt: time.Now(), Model: "gpt-4", SourceProvider: "api.openai.com"})
	}

	assert.Eventually(t, func() bool {
		var count int64
		db.Model(&Interaction{}).Count(&count)
		return count == batchSize
	}, 2*time.Second, 10*time.Millisecond)

	w.Close()
}

func TestWriter_FlushesOnTimerWithFewerThanBatchSize(t *testing.T) {
	db := openTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	q := NewQueue(DefaultCapacity)
	w := NewWriter(db, q, logger)

	w.Enqueue(&Record{CreatedAt: time.Now(), Model: "gemini-2.0-flash-exp", SourceProvider: "generativelanguage.googleapis.com"})

	assert.Eventually(t, func() bool {
		var count int64
		db.Model(&Interaction{}).Count(&count)
		return count == 1
	}, 3*time.Second, 20*time.Millisecond)

	w.Close()
}

func TestWriter_CloseDrainsBufferedRecords(t *testing.T) {
	db := openTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	q := NewQueue(DefaultCapacity)
	w := NewWriter(db, q, logger)

	w.Enqueue(&Record{CreatedAt: time.Now(), Model: "gpt-4", SourceProvider: "api.openai.com"})
	w.Close()

	var count int64
	db.Model(&Interaction{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestQueue_DropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(2)
	q.Enqueue(&Record{Model: "first"})
	q.Enqueue(&Record{Model: "second"})
	q.Enqueue(&Record{Model: "third"})

	assert.Equal(t, uint64(1), q.Dropped())

	first := <-q.channel()
	second := <-q.channel()
	assert.Equal(t, "second", first.Model)
	assert.Equal(t, "third", second.Model)
}
