package processing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const resultBucketName = "results"

// ErrNotFound is returned when no record exists for a task ID.
var ErrNotFound = fmt.Errorf("result not found")

// ResultStore defines the persistence collaborator. Writes are keyed by task
// ID and converge under replays: re-processing the same task overwrites the
// record in place instead of creating a duplicate.
type ResultStore interface {
	// Upsert writes the full result record for a task, creating or
	// overwriting it.
	Upsert(result *Result) error

	// SetStatus advances a task's status, creating the record if absent.
	// Illegal transitions are ignored so a redelivered task cannot move a
	// terminal record backward.
	SetStatus(taskID string, status Status, detail string) error

	// GetByTaskID retrieves a result by task ID, or ErrNotFound.
	GetByTaskID(taskID string) (*Result, error)

	// Close closes the store
	Close() error
}

// BoltStore implements ResultStore using BoltDB.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the result database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(resultBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Upsert writes the result record for its task ID, preserving the original
// creation time when the record already exists.
func (b *BoltStore) Upsert(result *Result) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultBucketName))

		if existing := bucket.Get([]byte(result.TaskID)); existing != nil {
			var prev Result
			if err := json.Unmarshal(existing, &prev); err == nil {
				result.CreatedAt = prev.CreatedAt
			}
		}
		if result.CreatedAt.IsZero() {
			result.CreatedAt = time.Now().UTC()
		}
		result.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		return bucket.Put([]byte(result.TaskID), data)
	})
}

// SetStatus advances the task's status. A new record starts at the given
// status; an existing one only moves along a legal transition.
func (b *BoltStore) SetStatus(taskID string, status Status, detail string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultBucketName))

		now := time.Now().UTC()
		record := Result{TaskID: taskID, Status: status, CreatedAt: now}
		if data := bucket.Get([]byte(taskID)); data != nil {
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("unmarshaling result: %w", err)
			}
			if record.Status == status {
				return nil
			}
			if !record.Status.CanTransition(status) {
				slog.Debug("Ignoring illegal status transition", "task_id", taskID, "from", record.Status, "to", status)
				return nil
			}
			record.Status = status
		}
		record.Error = detail
		record.UpdatedAt = now

		out, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		return bucket.Put([]byte(taskID), out)
	})
}

// GetByTaskID retrieves a result by task ID.
func (b *BoltStore) GetByTaskID(taskID string) (*Result, error) {
	var result *Result
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultBucketName))
		data := bucket.Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
