package queue

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"kiosque/register/internal/domain"
)

var (
	bucketQueue      = []byte("queue")
	bucketArchive    = []byte("archive")
	bucketQuarantine = []byte("quarantine")
)

var (
	ErrEntryNotFound = errors.New("queue entry not found")
	// ErrQuarantined marks an entry that exhausted its retry budget and now
	// waits for explicit operator acknowledgment.
	ErrQuarantined = errors.New("entry quarantined")
)

// Queue is the durable FIFO of sales recorded while disconnected. Entries
// live in bbolt under monotonically increasing keys, so iteration order is
// recording order. An entry leaves the queue only by reaching synced (moved
// to the archive bucket) or by exhausting its retry budget (moved to the
// quarantine bucket); it is never silently dropped.
type Queue struct {
	db *bolt.DB
}

func Open(path string) (*Queue, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketQueue, bucketArchive, bucketQuarantine} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Append persists a queued sale at the tail of the FIFO.
func (q *Queue) Append(record domain.SaleRecord) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
}

// Pending returns queued and sync-failed entries in FIFO order.
func (q *Queue) Pending() ([]domain.SaleRecord, error) {
	var records []domain.SaleRecord
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).ForEach(func(_, v []byte) error {
			var rec domain.SaleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PendingCount reports how many recorded sales still await sync.
func (q *Queue) PendingCount() (int, error) {
	count := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketQueue).Stats().KeyN
		return nil
	})
	return count, err
}

// ReservedQuantities sums the per-product quantities held by every pending
// entry. A catalog refresh subtracts these from the authoritative counts so
// an overwrite never erases reservations the remote does not know about yet.
// Quarantined entries are excluded: their stock disposition is the
// operator's call.
func (q *Queue) ReservedQuantities() (map[string]int, error) {
	reserved := map[string]int{}
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).ForEach(func(_, v []byte) error {
			var rec domain.SaleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			for _, item := range rec.Items {
				reserved[item.ProductID] += item.Quantity
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// MarkSynced moves the entry to the archive with its remote order reference.
func (q *Queue) MarkSynced(id string, remoteRef string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		key, rec, err := findEntry(b, id)
		if err != nil {
			return quarantineAware(tx, id, err)
		}

		rec.Status = domain.SaleStatusSynced
		rec.RemoteRef = remoteRef
		rec.LastSyncError = ""
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketArchive).Put(key, payload); err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// MarkFailed records a failed replay attempt. Once attempts reach
// maxAttempts the entry is moved to quarantine and true is returned.
func (q *Queue) MarkFailed(id string, cause string, maxAttempts int) (bool, error) {
	quarantined := false
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		key, rec, err := findEntry(b, id)
		if err != nil {
			return quarantineAware(tx, id, err)
		}

		rec.SyncAttempts++
		rec.LastSyncError = cause
		rec.Status = domain.SaleStatusSyncFailed

		if maxAttempts > 0 && rec.SyncAttempts >= maxAttempts {
			rec.Status = domain.SaleStatusQuarantined
			quarantined = true
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketQuarantine).Put(key, payload); err != nil {
				return err
			}
			return b.Delete(key)
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, payload)
	})
	return quarantined, err
}

// Quarantined returns entries awaiting operator reconciliation.
func (q *Queue) Quarantined() ([]domain.SaleRecord, error) {
	var records []domain.SaleRecord
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQuarantine).ForEach(func(_, v []byte) error {
			var rec domain.SaleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Acknowledge removes a quarantined entry after the operator has reconciled
// it by hand.
func (q *Queue) Acknowledge(id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuarantine)
		key, _, err := findEntry(b, id)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// Archived returns synced entries, oldest first.
func (q *Queue) Archived() ([]domain.SaleRecord, error) {
	var records []domain.SaleRecord
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArchive).ForEach(func(_, v []byte) error {
			var rec domain.SaleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// quarantineAware upgrades a not-found lookup to ErrQuarantined when the
// entry left the queue through the quarantine path.
func quarantineAware(tx *bolt.Tx, id string, lookupErr error) error {
	if !errors.Is(lookupErr, ErrEntryNotFound) {
		return lookupErr
	}
	if _, _, err := findEntry(tx.Bucket(bucketQuarantine), id); err == nil {
		return fmt.Errorf("%w: %s", ErrQuarantined, id)
	}
	return lookupErr
}

func findEntry(b *bolt.Bucket, id string) ([]byte, domain.SaleRecord, error) {
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var rec domain.SaleRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, domain.SaleRecord{}, err
		}
		if rec.ID == id {
			key := make([]byte, len(k))
			copy(key, k)
			return key, rec, nil
		}
	}
	return nil, domain.SaleRecord{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
