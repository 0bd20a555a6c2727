package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// Bucket names
	bucketRecords   = []byte("records")
	bucketRecordIDs = []byte("record_ids")
	bucketAttempts  = []byte("attempts")
)

// DefaultAuditRetention is the number of attempts kept per record
const DefaultAuditRetention = 50

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db        *bolt.DB
	retention int
	now       func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store. auditRetention caps the
// attempts kept per record; zero selects DefaultAuditRetention.
func NewBoltStore(dataDir string, auditRetention int) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketRecordIDs, bucketAttempts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if auditRetention <= 0 {
		auditRetention = DefaultAuditRetention
	}

	return &BoltStore{
		db:        db,
		retention: auditRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func recordKey(kind types.Kind, key string) []byte {
	return []byte(string(kind) + "/" + key)
}

func readRecord(b *bolt.Bucket, k []byte) (*types.ResourceRecord, error) {
	data := b.Get(k)
	if data == nil {
		return nil, nil
	}
	var rec types.ResourceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", k, err)
	}
	return &rec, nil
}

func writeRecord(tx *bolt.Tx, rec *types.ResourceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketRecords).Put(recordKey(rec.Kind, rec.Key), data); err != nil {
		return err
	}
	return tx.Bucket(bucketRecordIDs).Put([]byte(rec.ID), recordKey(rec.Kind, rec.Key))
}

func recordByID(tx *bolt.Tx, id string) (*types.ResourceRecord, error) {
	k := tx.Bucket(bucketRecordIDs).Get([]byte(id))
	if k == nil {
		return nil, errors.ErrNotFound.WithCausef("record %s", id)
	}
	rec, err := readRecord(tx.Bucket(bucketRecords), k)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.ErrNotFound.WithCausef("record %s", id)
	}
	return rec, nil
}

// canonicalSpec re-encodes a JSON document with sorted object keys and no
// insignificant whitespace so equal specs compare equal byte for byte
func canonicalSpec(spec json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(spec))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.ErrValidation.WithCausef("spec is not valid JSON: %v", err)
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return nil, errors.ErrValidation.WithCausef("spec must be a JSON object")
	}
	return json.Marshal(v)
}

// Put creates or updates the desired spec of (kind, key). Submitting a spec
// identical to the stored one is a no-op and reports changed=false.
func (s *BoltStore) Put(kind types.Kind, key string, spec json.RawMessage) (*types.ResourceRecord, bool, error) {
	return s.put(kind, key, spec, "")
}

// Reject stores spec like Put but leaves the record failed with a permanent
// validation error, in the same transaction. A worker holding the record
// keeps its claim and loses the write-back on the revision.
func (s *BoltStore) Reject(kind types.Kind, key string, spec json.RawMessage, reason string) (*types.ResourceRecord, bool, error) {
	return s.put(kind, key, spec, reason)
}

func (s *BoltStore) put(kind types.Kind, key string, spec json.RawMessage, rejected string) (*types.ResourceRecord, bool, error) {
	canonical, err := canonicalSpec(spec)
	if err != nil {
		return nil, false, err
	}

	var result *types.ResourceRecord
	var changed bool
	err = s.db.Update(func(tx *bolt.Tx) error {
		rec, err := readRecord(tx.Bucket(bucketRecords), recordKey(kind, key))
		if err != nil {
			return err
		}

		now := s.now()
		switch {
		case rec == nil:
			rec = &types.ResourceRecord{
				ID:              uuid.New().String(),
				Kind:            kind,
				Key:             key,
				Spec:            canonical,
				DesiredRevision: 1,
				Status:          types.StatusPending,
				CreatedAt:       now,
			}
		case rec.Status != types.StatusDeleted && bytes.Equal(rec.Spec, canonical):
			result = rec
			return nil
		default:
			// A changed spec, or a resubmission of a tombstoned record.
			// An in-flight attempt will lose its write-back on the revision.
			rec.Spec = canonical
			rec.DesiredRevision++
			rec.Status = types.StatusPending
			resetFailure(rec)
		}

		if rejected != "" {
			rec.Status = types.StatusFailed
			rec.Attempts = 1
			rec.LastError = rejected
			rec.ErrorClass = types.ErrorClassValidation
		}
		rec.UpdatedAt = now
		changed = true
		result = rec
		return writeRecord(tx, rec)
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func resetFailure(rec *types.ResourceRecord) {
	rec.Attempts = 0
	rec.Retryable = false
	rec.NextAttemptAt = time.Time{}
	rec.LastError = ""
	rec.ErrorClass = types.ErrorClassNone
}

func (s *BoltStore) Get(kind types.Kind, key string) (*types.ResourceRecord, error) {
	var rec *types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = readRecord(tx.Bucket(bucketRecords), recordKey(kind, key))
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.ErrNotFound.WithCausef("%s/%s", kind, key)
		}
		return nil
	})
	return rec, err
}

func (s *BoltStore) GetByID(id string) (*types.ResourceRecord, error) {
	var rec *types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = recordByID(tx, id)
		return err
	})
	return rec, err
}

// List returns all records of kind, or every record when kind is empty,
// ordered by kind then key
func (s *BoltStore) List(kind types.Kind) ([]*types.ResourceRecord, error) {
	var records []*types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		prefix := []byte{}
		if kind != "" {
			prefix = []byte(string(kind) + "/")
		}
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec types.ResourceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", k, err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	return records, err
}

// ListPending returns the records a worker may claim at now, oldest update first
func (s *BoltStore) ListPending(now time.Time) ([]*types.ResourceRecord, error) {
	all, err := s.List("")
	if err != nil {
		return nil, err
	}

	var pending []*types.ResourceRecord
	for _, rec := range all {
		if rec.Claimable(now) {
			pending = append(pending, rec)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})
	return pending, nil
}

// Tombstone marks (kind, key) for teardown. Tombstoning a deleted record is a no-op.
func (s *BoltStore) Tombstone(kind types.Kind, key string) (*types.ResourceRecord, error) {
	var result *types.ResourceRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := readRecord(tx.Bucket(bucketRecords), recordKey(kind, key))
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.ErrNotFound.WithCausef("%s/%s", kind, key)
		}
		result = rec
		if rec.Status == types.StatusDeleted {
			return nil
		}

		rec.DesiredRevision++
		rec.Status = types.StatusDeleted
		resetFailure(rec)
		rec.UpdatedAt = s.now()
		return writeRecord(tx, rec)
	})
	return result, err
}

// Retry re-arms a record whose retries were exhausted or that failed validation
func (s *BoltStore) Retry(kind types.Kind, key string) (*types.ResourceRecord, error) {
	var result *types.ResourceRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := readRecord(tx.Bucket(bucketRecords), recordKey(kind, key))
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.ErrNotFound.WithCausef("%s/%s", kind, key)
		}
		result = rec
		if rec.InFlight {
			return errors.ErrConflict.WithCausef("%s/%s is being reconciled", kind, key)
		}

		switch rec.Status {
		case types.StatusFailed:
			rec.Status = types.StatusPending
		case types.StatusDeleted:
		default:
			return nil
		}
		resetFailure(rec)
		rec.UpdatedAt = s.now()
		return writeRecord(tx, rec)
	})
	return result, err
}

// update loads the record by id, lets fn mutate it and writes it back. The
// write is committed even when fn reports a conflict so a released claim is
// never lost.
func (s *BoltStore) update(id string, fn func(rec *types.ResourceRecord) error) error {
	var fnErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := recordByID(tx, id)
		if err != nil {
			return err
		}

		fnErr = fn(rec)
		rec.UpdatedAt = s.now()
		return writeRecord(tx, rec)
	})
	if err != nil {
		return err
	}
	return fnErr
}

// MarkApplying claims the record for one worker. It fails with ErrConflict
// when the desired revision moved on or another worker holds the record.
func (s *BoltStore) MarkApplying(id string, revision int64) (*types.ResourceRecord, error) {
	var result *types.ResourceRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := recordByID(tx, id)
		if err != nil {
			return err
		}
		switch {
		case rec.DesiredRevision != revision:
			return errors.ErrConflict.WithCausef("record %s: desired revision %d, claimed %d", id, rec.DesiredRevision, revision)
		case rec.InFlight:
			return errors.ErrConflict.WithCausef("record %s is already in flight", id)
		case rec.Status == types.StatusApplied:
			return errors.ErrConflict.WithCausef("record %s is already applied at revision %d", id, revision)
		}

		rec.InFlight = true
		if rec.Status != types.StatusDeleted {
			rec.Status = types.StatusApplying
		}
		rec.UpdatedAt = s.now()
		result = rec
		return writeRecord(tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// releaseStale drops the in-flight flag of a record whose desired state
// changed during the attempt and reports the conflict
func releaseStale(rec *types.ResourceRecord, revision int64) error {
	rec.InFlight = false
	return errors.ErrConflict.WithCausef("record %s: desired revision %d, attempted %d", rec.ID, rec.DesiredRevision, revision)
}

// MarkApplied records a successful apply of revision
func (s *BoltStore) MarkApplied(id string, revision int64) error {
	return s.update(id, func(rec *types.ResourceRecord) error {
		if rec.DesiredRevision != revision || rec.Status == types.StatusDeleted {
			return releaseStale(rec, revision)
		}
		rec.InFlight = false
		rec.AppliedRevision = revision
		rec.AppliedSpec = rec.Spec
		rec.Status = types.StatusApplied
		resetFailure(rec)
		return nil
	})
}

// MarkFailed records a failed attempt at revision. Deleted records keep
// their status so the teardown is retried.
func (s *BoltStore) MarkFailed(id string, revision int64, failure types.Failure) error {
	return s.update(id, func(rec *types.ResourceRecord) error {
		if rec.DesiredRevision != revision {
			return releaseStale(rec, revision)
		}
		rec.InFlight = false
		rec.Attempts++
		rec.LastError = failure.Message
		rec.ErrorClass = failure.Class
		rec.Retryable = failure.Retry
		rec.NextAttemptAt = failure.RetryAt
		if rec.Status != types.StatusDeleted {
			rec.Status = types.StatusFailed
		}
		return nil
	})
}

// MarkDrifted sends an applied record back to pending after the host was
// found to differ from what revision renders to
func (s *BoltStore) MarkDrifted(id string, revision int64) error {
	return s.update(id, func(rec *types.ResourceRecord) error {
		if rec.Status != types.StatusApplied || rec.AppliedRevision != revision || rec.InFlight {
			return errors.ErrConflict.WithCausef("record %s changed since drift check", id)
		}
		rec.Status = types.StatusPending
		return nil
	})
}

// Purge physically removes a tombstoned record after its teardown succeeded.
// Audit entries are kept.
func (s *BoltStore) Purge(id string, revision int64) error {
	var conflict error
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := recordByID(tx, id)
		if err != nil {
			return err
		}
		if rec.Status != types.StatusDeleted || rec.DesiredRevision != revision {
			conflict = releaseStale(rec, revision)
			rec.UpdatedAt = s.now()
			return writeRecord(tx, rec)
		}
		if err := tx.Bucket(bucketRecords).Delete(recordKey(rec.Kind, rec.Key)); err != nil {
			return err
		}
		return tx.Bucket(bucketRecordIDs).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	return conflict
}

// Release drops the claim on one record after its write-back failed. An
// applying record goes back to pending; a deleted one stays deleted.
func (s *BoltStore) Release(id string) error {
	return s.update(id, func(rec *types.ResourceRecord) error {
		rec.InFlight = false
		if rec.Status == types.StatusApplying {
			rec.Status = types.StatusPending
		}
		return nil
	})
}

// ReleaseInFlight clears claims left behind by a process that died mid-attempt
func (s *BoltStore) ReleaseInFlight() (int, error) {
	released := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		var stale []*types.ResourceRecord
		err := b.ForEach(func(k, v []byte) error {
			var rec types.ResourceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", k, err)
			}
			if rec.InFlight {
				stale = append(stale, &rec)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, rec := range stale {
			rec.InFlight = false
			if rec.Status == types.StatusApplying {
				rec.Status = types.StatusPending
			}
			rec.UpdatedAt = s.now()
			if err := writeRecord(tx, rec); err != nil {
				return err
			}
		}
		released = len(stale)
		return nil
	})
	return released, err
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// AppendAttempt adds an audit entry and trims the record's history to the
// retention cap, oldest first
func (s *BoltStore) AppendAttempt(attempt *types.Attempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketAttempts).CreateBucketIfNotExists([]byte(attempt.RecordID))
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(attempt)
		if err != nil {
			return err
		}
		if err := b.Put(sequenceKey(seq), data); err != nil {
			return err
		}

		count := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		excess := count - s.retention
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

// ListAttempts returns up to limit attempts for a record, newest first.
// A non-positive limit returns the whole retained history.
func (s *BoltStore) ListAttempts(recordID string, limit int) ([]*types.Attempt, error) {
	var attempts []*types.Attempt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts).Bucket([]byte(recordID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(attempts) >= limit {
				break
			}
			var attempt types.Attempt
			if err := json.Unmarshal(v, &attempt); err != nil {
				return fmt.Errorf("failed to decode attempt %x: %w", k, err)
			}
			attempts = append(attempts, &attempt)
		}
		return nil
	})
	return attempts, err
}
