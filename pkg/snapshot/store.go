package snapshot

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/gematik/erezept-fachdienst/pkg/state"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTasks     = []byte("tasks")
	bucketMessages  = []byte("messages")
	bucketDispenses = []byte("dispenses")
	bucketAudit     = []byte("audit")
)

// Store is a bbolt-backed persistence layer for a single Engine's state.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the snapshot database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "erezeptd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketMessages, bucketDispenses, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("snapshot: creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save overwrites every bucket with the given snapshot's contents. It is not
// incremental: each call fully replaces stored state with the current
// in-memory picture, matching the "serialize the whole engine" contract.
func (s *Store) Save(snap state.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketMessages, bucketDispenses, bucketAudit} {
			if err := clearBucket(tx, bucket); err != nil {
				return err
			}
		}

		tasks := tx.Bucket(bucketTasks)
		for id, rec := range snap.Tasks {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("snapshot: marshaling task %s: %w", id, err)
			}
			if err := tasks.Put([]byte(id), data); err != nil {
				return err
			}
		}

		messages := tx.Bucket(bucketMessages)
		for id, msg := range snap.Messages {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("snapshot: marshaling message %s: %w", id, err)
			}
			if err := messages.Put([]byte(id.String()), data); err != nil {
				return err
			}
		}

		dispenses := tx.Bucket(bucketDispenses)
		for id, d := range snap.Dispenses {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("snapshot: marshaling dispense %s: %w", id, err)
			}
			if err := dispenses.Put([]byte(id.String()), data); err != nil {
				return err
			}
		}

		audit := tx.Bucket(bucketAudit)
		for _, ev := range snap.Audit {
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("snapshot: marshaling audit event %s: %w", ev.Id, err)
			}
			if err := audit.Put([]byte(ev.Id.String()), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// clearBucket deletes every key in the named bucket, leaving the bucket
// itself in place.
func clearBucket(tx *bolt.Tx, name []byte) error {
	b := tx.Bucket(name)
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a full Snapshot back out of the database. Called once at
// startup, before the engine is restored and exposed to traffic.
func (s *Store) Load() (state.Snapshot, error) {
	out := state.Snapshot{
		Tasks:     make(map[string]state.TaskRecord),
		Messages:  make(map[uuid.UUID]types.Communication),
		Dispenses: make(map[uuid.UUID]types.MedicationDispense),
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var rec state.TaskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("snapshot: unmarshaling task %s: %w", k, err)
			}
			out.Tasks[string(k)] = rec
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			id, err := uuid.Parse(string(k))
			if err != nil {
				return fmt.Errorf("snapshot: parsing message id %s: %w", k, err)
			}
			var msg types.Communication
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("snapshot: unmarshaling message %s: %w", k, err)
			}
			out.Messages[id] = msg
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketDispenses).ForEach(func(k, v []byte) error {
			id, err := uuid.Parse(string(k))
			if err != nil {
				return fmt.Errorf("snapshot: parsing dispense id %s: %w", k, err)
			}
			var d types.MedicationDispense
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("snapshot: unmarshaling dispense %s: %w", k, err)
			}
			out.Dispenses[id] = d
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(bucketAudit).ForEach(func(k, v []byte) error {
			var ev types.AuditEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("snapshot: unmarshaling audit event %s: %w", k, err)
			}
			out.Audit = append(out.Audit, ev)
			return nil
		})
	})
	if err != nil {
		return state.Snapshot{}, err
	}

	return out, nil
}
