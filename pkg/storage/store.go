package storage

import (
	"encoding/json"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Store defines the interface for desired-state storage. Every transition
// that a worker performs is a compare-and-swap on (id, revision): it fails
// with errors.ErrConflict when the record moved on since it was read.
type Store interface {
	// Records
	Put(kind types.Kind, key string, spec json.RawMessage) (*types.ResourceRecord, bool, error)
	Reject(kind types.Kind, key string, spec json.RawMessage, reason string) (*types.ResourceRecord, bool, error)
	Get(kind types.Kind, key string) (*types.ResourceRecord, error)
	GetByID(id string) (*types.ResourceRecord, error)
	List(kind types.Kind) ([]*types.ResourceRecord, error)
	ListPending(now time.Time) ([]*types.ResourceRecord, error)
	Tombstone(kind types.Kind, key string) (*types.ResourceRecord, error)
	Retry(kind types.Kind, key string) (*types.ResourceRecord, error)

	// Worker transitions
	MarkApplying(id string, revision int64) (*types.ResourceRecord, error)
	MarkApplied(id string, revision int64) error
	MarkFailed(id string, revision int64, failure types.Failure) error
	MarkDrifted(id string, revision int64) error
	Purge(id string, revision int64) error
	Release(id string) error
	ReleaseInFlight() (int, error)

	// Audit log
	AppendAttempt(attempt *types.Attempt) error
	ListAttempts(recordID string, limit int) ([]*types.Attempt, error)

	// Utility
	Close() error
}
