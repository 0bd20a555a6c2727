package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/render"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Manager is the inbound side of burrow: it validates and stores desired
// state and owns the reconciler that applies it
type Manager struct {
	store      *storage.BoltStore
	registry   *render.Registry
	reconciler *reconciler.Reconciler
	broker     *events.Broker
	collector  *metrics.Collector
	logger     zerolog.Logger
	started    bool
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir         string
	AuditRetention  int
	MetricsInterval time.Duration

	Reconciler reconciler.Config
	Executor   executor.Config
	Render     render.Config
}

// Option configures a Manager
type Option func(*options)

type options struct {
	exec  reconciler.Executor
	clock func() time.Time
}

// WithExecutor replaces the host executor
func WithExecutor(exec reconciler.Executor) Option {
	return func(o *options) { o.exec = exec }
}

// WithClock replaces the wall clock of the reconciler
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// NewManager opens the store, loads vhost templates and wires the
// reconciler. Claims left behind by a previous process are released.
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	renderCfg := cfg.Render
	if renderCfg.TemplatesDir != "" {
		templates, err := render.LoadTemplates(renderCfg.TemplatesDir)
		if err != nil {
			return nil, err
		}
		renderCfg.VHostTemplates = templates
	}

	store, err := storage.NewBoltStore(cfg.DataDir, cfg.AuditRetention)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	logger := log.WithComponent("manager")
	released, err := store.ReleaseInFlight()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to release in-flight records: %w", err)
	}
	if released > 0 {
		logger.Warn().Int("records", released).Msg("Released records left in flight by a previous run")
	}

	exec := o.exec
	if exec == nil {
		exec = executor.New(cfg.Executor)
	}

	broker := events.NewBroker()
	broker.Start()

	recOpts := []reconciler.Option{reconciler.WithBroker(broker)}
	if o.clock != nil {
		recOpts = append(recOpts, reconciler.WithClock(o.clock))
	}
	registry := render.NewRegistry(renderCfg)

	metrics.RegisterComponent(metrics.ComponentStore, true, "open")

	return &Manager{
		store:      store,
		registry:   registry,
		reconciler: reconciler.NewReconciler(store, registry, exec, cfg.Reconciler, recOpts...),
		broker:     broker,
		collector:  metrics.NewCollector(store, cfg.MetricsInterval),
		logger:     logger,
	}, nil
}

// Start begins reconciliation and metrics collection
func (m *Manager) Start() {
	m.reconciler.Start()
	m.collector.Start()
	m.started = true
}

// Shutdown stops the reconciler, waits for in-flight attempts and closes the store
func (m *Manager) Shutdown() error {
	if m.started {
		m.reconciler.Stop()
		m.collector.Stop()
		m.started = false
	}
	m.broker.Stop()
	metrics.UpdateComponent(metrics.ComponentStore, false, "closed")
	m.logger.Info().Msg("Manager stopped")
	return m.store.Close()
}

// Reconciler returns the reconciler driven by this manager
func (m *Manager) Reconciler() *reconciler.Reconciler {
	return m.reconciler
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.broker
}

// Submit records the desired spec for (kind, key). An identical spec is a
// no-op. A spec that fails validation is stored as failed without retry and
// the validation error is returned alongside the record.
func (m *Manager) Submit(kind types.Kind, key string, spec json.RawMessage) (*types.ResourceRecord, error) {
	logger := log.WithRecord(string(kind), key)

	verr := m.registry.Validate(kind, key, spec)
	if verr != nil && !errors.Is(verr, errors.ErrValidation) {
		return nil, verr
	}
	if key == "" {
		return nil, verr
	}

	var (
		rec     *types.ResourceRecord
		changed bool
		err     error
	)
	if verr != nil {
		rec, changed, err = m.store.Reject(kind, key, spec, verr.Error())
	} else {
		rec, changed, err = m.store.Put(kind, key, spec)
	}
	if err != nil {
		return nil, err
	}

	if !changed {
		logger.Debug().Str("record_id", rec.ID).Msg("Spec unchanged")
		return rec, verr
	}

	if verr != nil {
		logger.Warn().Err(verr).Str("record_id", rec.ID).Int64("revision", rec.DesiredRevision).Msg("Rejected invalid spec")
		m.audit(&types.Attempt{
			RecordID:          rec.ID,
			Kind:              kind,
			Key:               key,
			Action:            types.ActionApply,
			RevisionAttempted: rec.DesiredRevision,
			StartedAt:         rec.UpdatedAt,
			FinishedAt:        rec.UpdatedAt,
			Outcome:           types.OutcomeFailure,
			ErrorClass:        types.ErrorClassValidation,
			Error:             verr.Error(),
			ExitCode:          -1,
		})
		m.publish(events.EventRecordFailed, rec, verr.Error())
		return rec, verr
	}

	logger.Info().Str("record_id", rec.ID).Int64("revision", rec.DesiredRevision).Msg("Spec submitted")
	m.publish(events.EventRecordSubmitted, rec, "")
	m.reconciler.Nudge()
	return rec, nil
}

// Query returns the record stored for (kind, key)
func (m *Manager) Query(kind types.Kind, key string) (*types.ResourceRecord, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	return m.store.Get(kind, key)
}

// QueryByID returns a record by id
func (m *Manager) QueryByID(id string) (*types.ResourceRecord, error) {
	return m.store.GetByID(id)
}

// List returns the records of kind, or all records when kind is empty
func (m *Manager) List(kind types.Kind) ([]*types.ResourceRecord, error) {
	if kind != "" {
		if err := checkKind(kind); err != nil {
			return nil, err
		}
	}
	return m.store.List(kind)
}

// Remove tombstones (kind, key). The record stays visible as deleted until
// its teardown succeeds.
func (m *Manager) Remove(kind types.Kind, key string) (*types.ResourceRecord, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rec, err := m.store.Tombstone(kind, key)
	if err != nil {
		return nil, err
	}

	logger := log.WithRecord(string(kind), key)
	logger.Info().Str("record_id", rec.ID).Msg("Record marked for removal")
	m.publish(events.EventRecordDeleted, rec, "")
	m.reconciler.Nudge()
	return rec, nil
}

// Retry re-arms a record whose retries are exhausted
func (m *Manager) Retry(kind types.Kind, key string) (*types.ResourceRecord, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rec, err := m.store.Retry(kind, key)
	if err != nil {
		return nil, err
	}

	m.publish(events.EventRecordRetried, rec, "manual retry")
	m.reconciler.Nudge()
	return rec, nil
}

// History returns up to limit attempts for (kind, key), newest first
func (m *Manager) History(kind types.Kind, key string, limit int) ([]*types.Attempt, error) {
	rec, err := m.Query(kind, key)
	if err != nil {
		return nil, err
	}
	return m.store.ListAttempts(rec.ID, limit)
}

// HistoryByID returns up to limit attempts for a record id. It keeps
// working after the record is purged.
func (m *Manager) HistoryByID(id string, limit int) ([]*types.Attempt, error) {
	return m.store.ListAttempts(id, limit)
}

func (m *Manager) audit(attempt *types.Attempt) {
	if err := m.store.AppendAttempt(attempt); err != nil {
		logger := log.WithRecordID(attempt.RecordID)
		logger.Error().Err(err).Msg("Failed to append audit entry")
	}
}

func (m *Manager) publish(eventType events.EventType, rec *types.ResourceRecord, message string) {
	m.broker.Publish(&events.Event{
		Type:     eventType,
		RecordID: rec.ID,
		Kind:     string(rec.Kind),
		Key:      rec.Key,
		Revision: rec.DesiredRevision,
		Message:  message,
	})
}

func checkKind(kind types.Kind) error {
	if !kind.Valid() {
		return errors.ErrUnsupported.WithCausef("unknown kind %q", kind)
	}
	return nil
}
