package types

import (
	"encoding/json"
	"time"
)

// Kind identifies the class of host resource a record describes
type Kind string

const (
	KindDNSZone        Kind = "dns_zone"
	KindCronJob        Kind = "cron_job"
	KindVHost          Kind = "vhost"
	KindSSLCert        Kind = "ssl_cert"
	KindContainerStack Kind = "container_stack"
)

// Kinds lists every supported kind in a stable order
var Kinds = []Kind{KindDNSZone, KindCronJob, KindVHost, KindSSLCert, KindContainerStack}

// Valid reports whether k is one of the supported kinds
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Status is the reconciliation state of a record
type Status string

const (
	StatusPending  Status = "pending"  // desired state not yet applied
	StatusApplying Status = "applying" // a worker holds the record
	StatusApplied  Status = "applied"  // applied_revision == desired_revision
	StatusFailed   Status = "failed"   // last attempt failed, see LastError
	StatusDeleted  Status = "deleted"  // tombstoned, teardown outstanding
)

// ErrorClass classifies the last failure of a record so callers can tell
// "fix the input" apart from "retry later"
type ErrorClass string

const (
	ErrorClassNone       ErrorClass = ""
	ErrorClassValidation ErrorClass = "validation"
	ErrorClassExecution  ErrorClass = "execution"
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassStore      ErrorClass = "store"
)

// ResourceRecord is the desired state of one host resource plus its
// reconciliation bookkeeping
type ResourceRecord struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	Key             string          `json:"key"`
	Spec            json.RawMessage `json:"desired_spec"`
	DesiredRevision int64           `json:"desired_revision"`
	AppliedRevision int64           `json:"applied_revision"`
	Status          Status          `json:"status"`
	LastError       string          `json:"last_error,omitempty"`
	ErrorClass      ErrorClass      `json:"error_class,omitempty"`

	// AppliedSpec is the spec last applied to the host. Teardown renders
	// from it so a later, never-applied spec cannot hide what is installed.
	AppliedSpec json.RawMessage `json:"applied_spec,omitempty"`

	// InFlight is set while a worker holds the record. It is independent of
	// Status so a record can be re-submitted or deleted mid-apply.
	InFlight bool `json:"in_flight"`

	// Attempts counts consecutive failures at the current desired revision.
	Attempts      int       `json:"attempts"`
	Retryable     bool      `json:"retryable"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Converged reports whether the record has nothing left to do
func (r *ResourceRecord) Converged() bool {
	return r.Status == StatusApplied && r.AppliedRevision == r.DesiredRevision
}

// NeverApplied reports whether no revision of the record ever reached the host
func (r *ResourceRecord) NeverApplied() bool {
	return r.AppliedRevision == 0 && len(r.AppliedSpec) == 0
}

// TeardownSpec returns the spec a teardown has to undo
func (r *ResourceRecord) TeardownSpec() json.RawMessage {
	if len(r.AppliedSpec) > 0 {
		return r.AppliedSpec
	}
	return r.Spec
}

// Claimable reports whether a worker may pick the record up at now
func (r *ResourceRecord) Claimable(now time.Time) bool {
	if r.InFlight {
		return false
	}
	switch r.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return r.Retryable && !now.Before(r.NextAttemptAt)
	case StatusDeleted:
		if r.Attempts == 0 {
			return true
		}
		return r.Retryable && !now.Before(r.NextAttemptAt)
	default:
		return false
	}
}

// Outcome is the result of a single reconciliation attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// Action says whether an attempt applied or tore down a resource
type Action string

const (
	ActionApply    Action = "apply"
	ActionTeardown Action = "teardown"
)

// Attempt is an append-only audit entry for one reconciliation attempt
type Attempt struct {
	ID                string     `json:"id"`
	RecordID          string     `json:"record_id"`
	Kind              Kind       `json:"kind"`
	Key               string     `json:"key"`
	Action            Action     `json:"action"`
	RevisionAttempted int64      `json:"revision_attempted"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        time.Time  `json:"finished_at"`
	Outcome           Outcome    `json:"outcome"`
	ErrorClass        ErrorClass `json:"error_class,omitempty"`
	Error             string     `json:"error,omitempty"`
	RenderedArtifact  string     `json:"rendered_artifact,omitempty"`
	CommandOutput     string     `json:"command_output,omitempty"`
	ExitCode          int        `json:"exit_code"`
	Discarded         bool       `json:"discarded,omitempty"` // result dropped by the revision guard
}

// Failure carries what a worker learned from a failed attempt back into the store
type Failure struct {
	Class   ErrorClass
	Message string
	Retry   bool
	RetryAt time.Time
}
