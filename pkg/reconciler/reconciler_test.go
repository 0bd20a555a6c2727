package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/render"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeExecutor records every artifact and tracks how many attempts per key
// run at the same time
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []*types.Artifact
	active    map[string]int
	maxActive int

	result  func(art *types.Artifact) *executor.Result
	entered chan *types.Artifact
	release chan struct{}
	delay   time.Duration
	drift   []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{active: make(map[string]int)}
}

func (f *fakeExecutor) Run(ctx context.Context, art *types.Artifact, timeout time.Duration) *executor.Result {
	key := string(art.Kind) + "/" + art.Key
	f.mu.Lock()
	f.calls = append(f.calls, art)
	f.active[key]++
	if f.active[key] > f.maxActive {
		f.maxActive = f.active[key]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[key]--
		f.mu.Unlock()
	}()

	if f.entered != nil {
		f.entered <- art
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.result != nil {
		return f.result(art)
	}
	return &executor.Result{Step: -1}
}

func (f *fakeExecutor) Verify(ctx context.Context, art *types.Artifact) ([]string, error) {
	return f.drift, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) lastCall() *types.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func testRenderConfig(t *testing.T) render.Config {
	dir := t.TempDir()
	return render.Config{
		ZoneDir:        filepath.Join(dir, "zones"),
		DefaultTTL:     3600,
		VHostDir:       filepath.Join(dir, "sites"),
		UserINI:        true,
		CertTool:       render.CertToolCertbot,
		CertbotPath:    "certbot",
		CertLiveDir:    filepath.Join(dir, "live"),
		DefaultWebroot: filepath.Join(dir, "www"),
		StackDir:       filepath.Join(dir, "stacks"),
		DockerPath:     "docker",
	}
}

func newTestReconciler(t *testing.T, exec Executor, cfg Config, opts ...Option) (*Reconciler, *storage.BoltStore, render.Config) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	renderCfg := testRenderConfig(t)
	r := NewReconciler(store, render.NewRegistry(renderCfg), exec, cfg, opts...)
	return r, store, renderCfg
}

func put(t *testing.T, store storage.Store, kind types.Kind, key, spec string) *types.ResourceRecord {
	t.Helper()
	rec, _, err := store.Put(kind, key, json.RawMessage(spec))
	require.NoError(t, err)
	return rec
}

func get(t *testing.T, store storage.Store, id string) *types.ResourceRecord {
	t.Helper()
	rec, err := store.GetByID(id)
	require.NoError(t, err)
	return rec
}

func TestCronJobAppliedToUserCrontab(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tabs := t.TempDir()
	crontab := filepath.Join(tabs, "crontab")
	script := fmt.Sprintf(`#!/bin/sh
if [ "$3" = "-l" ]; then
  if [ -f %[1]q/tab.$2 ]; then cat %[1]q/tab.$2; exit 0; fi
  echo "no crontab for $2" >&2; exit 1
fi
cp "$3" %[1]q/tab.$2
`, tabs)
	require.NoError(t, os.WriteFile(crontab, []byte(script), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tabs, "tab.alice"), []byte("0 0 * * * /usr/bin/true\n"), 0644))

	exe := executor.New(executor.Config{Timeout: 5 * time.Second, CrontabPath: crontab, TempDir: t.TempDir()})
	r, store, _ := newTestReconciler(t, exe, Config{})

	rec := put(t, store, types.KindCronJob, types.CronJobKey("alice", "*/5 * * * *", "/usr/bin/php backup.php"),
		`{"user":"alice","schedule":"*/5 * * * *","command":"/usr/bin/php backup.php"}`)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := get(t, store, rec.ID)
	assert.Equal(t, types.StatusApplied, got.Status)
	assert.Equal(t, int64(1), got.AppliedRevision)

	data, err := os.ReadFile(filepath.Join(tabs, "tab.alice"))
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * * /usr/bin/true\n*/5 * * * * /usr/bin/php backup.php # PANEL_JOB_"+rec.ID+"\n", string(data))

	history, err := store.ListAttempts(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.OutcomeSuccess, history[0].Outcome)
	assert.Equal(t, 0, history[0].ExitCode)
	assert.Contains(t, history[0].RenderedArtifact, "PANEL_JOB_"+rec.ID)

	// Removal takes the line out again and purges the record
	_, err = store.Tombstone(rec.Kind, rec.Key)
	require.NoError(t, err)
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)

	data, err = os.ReadFile(filepath.Join(tabs, "tab.alice"))
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * * /usr/bin/true\n", string(data))
	_, err = store.GetByID(rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestInvalidScheduleFailsPermanently(t *testing.T) {
	fake := newFakeExecutor()
	clock := newFakeClock()
	r, store, _ := newTestReconciler(t, fake, Config{}, WithClock(clock.Now))

	rec := put(t, store, types.KindCronJob, "alice-bad", `{"user":"alice","schedule":"* * *","command":"true"}`)

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	got := get(t, store, rec.ID)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, types.ErrorClassValidation, got.ErrorClass)
	assert.False(t, got.Retryable)
	assert.Contains(t, got.LastError, "5 fields")
	assert.Equal(t, 0, fake.callCount(), "no executor call for an invalid spec")

	clock.Advance(time.Hour)
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "validation failures are never retried")
}

func TestTimeoutRetriesWithBackoff(t *testing.T) {
	fake := newFakeExecutor()
	fake.result = func(art *types.Artifact) *executor.Result {
		return &executor.Result{
			ExitCode: -1,
			TimedOut: true,
			Err:      errors.ErrTimeout.WithCausef("systemctl reload apache2"),
			Step:     1,
		}
	}
	clock := newFakeClock()
	start := clock.Now()
	r, store, _ := newTestReconciler(t, fake, Config{}, WithClock(clock.Now))

	rec := put(t, store, types.KindVHost, "example.com", `{"docroot":"/var/www/example"}`)

	runOnce := func() int {
		n, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		return n
	}

	require.Equal(t, 1, runOnce())
	got := get(t, store, rec.ID)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, types.ErrorClassTimeout, got.ErrorClass)
	assert.True(t, got.Retryable)
	assert.Equal(t, start.Add(5*time.Second), got.NextAttemptAt)

	clock.Advance(4 * time.Second)
	assert.Equal(t, 0, runOnce(), "backoff not elapsed")

	retryAt := start.Add(5 * time.Second)
	for _, next := range []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second} {
		clock.Advance(retryAt.Sub(clock.Now()))
		require.Equal(t, 1, runOnce())
		retryAt = retryAt.Add(next)
		assert.Equal(t, retryAt, get(t, store, rec.ID).NextAttemptAt)
	}
	clock.Advance(retryAt.Sub(clock.Now()))
	require.Equal(t, 1, runOnce())

	got = get(t, store, rec.ID)
	assert.Equal(t, 5, got.Attempts)
	assert.False(t, got.Retryable, "max attempts reached")
	assert.Equal(t, types.StatusFailed, got.Status)

	clock.Advance(time.Hour)
	assert.Equal(t, 0, runOnce())

	history, err := store.ListAttempts(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for _, attempt := range history {
		assert.Equal(t, types.OutcomeTimeout, attempt.Outcome)
		assert.Equal(t, -1, attempt.ExitCode)
	}

	// manual retry re-arms the record
	_, err = store.Retry(rec.Kind, rec.Key)
	require.NoError(t, err)
	fake.result = nil
	assert.Equal(t, 1, runOnce())
	assert.Equal(t, types.StatusApplied, get(t, store, rec.ID).Status)
}

func TestRetryDelay(t *testing.T) {
	r := NewReconciler(nil, nil, nil, Config{})

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		80 * time.Second, 160 * time.Second, 5 * time.Minute, 5 * time.Minute,
	}
	for i, d := range want {
		assert.Equal(t, d, r.RetryDelay(i+1), "after %d failures", i+1)
	}
}

func TestSpecChangeDuringApplyIsNotLost(t *testing.T) {
	fake := newFakeExecutor()
	fake.entered = make(chan *types.Artifact, 1)
	fake.release = make(chan struct{})
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	r, store, _ := newTestReconciler(t, fake, Config{}, WithBroker(broker))

	rec := put(t, store, types.KindSSLCert, "example.com", `{"email":"old@example.com"}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.reconcileRecord(context.Background(), rec)
	}()
	<-fake.entered

	put(t, store, types.KindSSLCert, "example.com", `{"email":"mid@example.com"}`)
	put(t, store, types.KindSSLCert, "example.com", `{"email":"new@example.com"}`)
	close(fake.release)
	<-done

	got := get(t, store, rec.ID)
	assert.Equal(t, int64(3), got.DesiredRevision)
	assert.Equal(t, int64(0), got.AppliedRevision, "stale result must not be recorded as applied")
	assert.Equal(t, types.StatusPending, got.Status)
	assert.False(t, got.InFlight)

	history, err := store.ListAttempts(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Discarded)
	assert.Equal(t, int64(1), history[0].RevisionAttempted)

	var conflict bool
	for !conflict {
		select {
		case event := <-sub:
			conflict = event.Type == events.EventRecordConflict
		case <-time.After(2 * time.Second):
			t.Fatal("no conflict event")
		}
	}

	fake.entered = nil
	fake.release = nil
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got = get(t, store, rec.ID)
	assert.True(t, got.Converged())
	assert.Equal(t, int64(3), got.AppliedRevision)
	assert.Contains(t, strings.Join(fake.lastCall().Steps[0].Argv, " "), "new@example.com")
}

func TestIdenticalSubmitReconcilesOnce(t *testing.T) {
	fake := newFakeExecutor()
	r, store, _ := newTestReconciler(t, fake, Config{})

	spec := `{"soa":{"primary_ns":"ns1.example.com","hostmaster":"hostmaster.example.com"},"records":[{"name":"@","type":"A","value":"192.0.2.1"}]}`
	put(t, store, types.KindDNSZone, "example.com", spec)
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	put(t, store, types.KindDNSZone, "example.com", spec)
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, fake.callCount())
}

func TestTeardownRemovesArtifactsAndPurges(t *testing.T) {
	exe := executor.New(executor.Config{Timeout: 5 * time.Second})
	r, store, renderCfg := newTestReconciler(t, exe, Config{})
	docroot := t.TempDir()

	rec := put(t, store, types.KindVHost, "example.com",
		fmt.Sprintf(`{"docroot":%q,"php":{"memory_limit":"256M"}}`, docroot))
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.StatusApplied, get(t, store, rec.ID).Status)

	vhostPath := filepath.Join(renderCfg.VHostDir, "vhost-example.com.conf")
	iniPath := filepath.Join(docroot, ".user.ini")
	assert.FileExists(t, vhostPath)
	assert.FileExists(t, iniPath)

	_, err = store.Tombstone(types.KindVHost, "example.com")
	require.NoError(t, err)
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.NoFileExists(t, vhostPath)
	assert.NoFileExists(t, iniPath)
	_, err = store.Get(types.KindVHost, "example.com")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	history, err := store.ListAttempts(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.ActionTeardown, history[0].Action)
	assert.Equal(t, types.OutcomeSuccess, history[0].Outcome)
}

func TestVHostDocrootMoveCleansOldUserINI(t *testing.T) {
	exe := executor.New(executor.Config{Timeout: 5 * time.Second})
	r, store, _ := newTestReconciler(t, exe, Config{})
	oldRoot, newRoot := t.TempDir(), t.TempDir()

	rec := put(t, store, types.KindVHost, "example.com",
		fmt.Sprintf(`{"docroot":%q,"php":{"memory_limit":"256M"}}`, oldRoot))
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(oldRoot, ".user.ini"))

	put(t, store, types.KindVHost, "example.com",
		fmt.Sprintf(`{"docroot":%q,"php":{"memory_limit":"256M"}}`, newRoot))
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.StatusApplied, get(t, store, rec.ID).Status)
	assert.NoFileExists(t, filepath.Join(oldRoot, ".user.ini"))
	assert.FileExists(t, filepath.Join(newRoot, ".user.ini"))

	put(t, store, types.KindVHost, "example.com", fmt.Sprintf(`{"docroot":%q}`, newRoot))
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.StatusApplied, get(t, store, rec.ID).Status)
	assert.NoFileExists(t, filepath.Join(newRoot, ".user.ini"))
}

func TestTeardownOfNeverValidSpecPurges(t *testing.T) {
	fake := newFakeExecutor()
	r, store, _ := newTestReconciler(t, fake, Config{})

	rec := put(t, store, types.KindCronJob, "broken", `{"user":"Not A User","schedule":"* * * * *","command":"x"}`)
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, get(t, store, rec.ID).Status)

	_, err = store.Tombstone(rec.Kind, rec.Key)
	require.NoError(t, err)
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = store.GetByID(rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 0, fake.callCount())
}

func TestTeardownFailureStaysDeletedAndRetries(t *testing.T) {
	fake := newFakeExecutor()
	clock := newFakeClock()
	r, store, _ := newTestReconciler(t, fake, Config{}, WithClock(clock.Now))

	rec := put(t, store, types.KindContainerStack, "shop", `{"compose":"services:\n  web:\n    image: nginx\n"}`)
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = store.Tombstone(rec.Kind, rec.Key)
	require.NoError(t, err)
	fake.result = func(art *types.Artifact) *executor.Result {
		return &executor.Result{ExitCode: 1, Err: errors.ErrExecution.WithCausef("docker compose down: exit 1"), Step: 0}
	}
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)

	got := get(t, store, rec.ID)
	assert.Equal(t, types.StatusDeleted, got.Status)
	assert.Equal(t, types.ErrorClassExecution, got.ErrorClass)
	assert.True(t, got.Retryable)
	assert.Equal(t, clock.Now().Add(5*time.Second), got.NextAttemptAt)

	fake.result = nil
	clock.Advance(5 * time.Second)
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.GetByID(rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTeardownOfNeverAppliedRecordPurges(t *testing.T) {
	fake := newFakeExecutor()
	fake.result = func(art *types.Artifact) *executor.Result {
		return &executor.Result{ExitCode: 1, Err: errors.ErrExecution.WithCausef("certbot: exit 1"), Step: 0}
	}
	r, store, _ := newTestReconciler(t, fake, Config{})

	rec := put(t, store, types.KindSSLCert, "example.com", `{"email":"admin@example.com"}`)
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, get(t, store, rec.ID).Status)

	_, err = store.Tombstone(rec.Kind, rec.Key)
	require.NoError(t, err)
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetByID(rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "record purged despite the failed cleanup")
	require.Equal(t, 2, fake.callCount())
	assert.Equal(t, types.ActionTeardown, fake.lastCall().Action)
	assert.Contains(t, fake.lastCall().Steps[0].Argv, "delete")

	history, err := store.ListAttempts(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.ActionTeardown, history[0].Action)
	assert.Equal(t, types.OutcomeFailure, history[0].Outcome)
	assert.Equal(t, types.ErrorClassExecution, history[0].ErrorClass)
}

// failingStore fails the next n MarkApplied calls with a store error
type failingStore struct {
	storage.Store
	mu sync.Mutex
	n  int
}

func (s *failingStore) MarkApplied(id string, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n > 0 {
		s.n--
		return errors.ErrStore.WithCausef("disk I/O error")
	}
	return s.Store.MarkApplied(id, revision)
}

func TestWriteBackFailureReleasesClaim(t *testing.T) {
	fake := newFakeExecutor()
	_, boltStore, renderCfg := newTestReconciler(t, fake, Config{})
	store := &failingStore{Store: boltStore, n: 1}
	r := NewReconciler(store, render.NewRegistry(renderCfg), fake, Config{})

	rec := put(t, store, types.KindVHost, "example.com", `{"docroot":"/var/www/example"}`)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := get(t, store, rec.ID)
	assert.False(t, got.InFlight)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, int64(0), got.AppliedRevision)

	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "next cycle picks the record up again")

	got = get(t, store, rec.ID)
	assert.Equal(t, types.StatusApplied, got.Status)
	assert.Equal(t, int64(1), got.AppliedRevision)
	assert.Equal(t, 2, fake.callCount())

	history, err := store.ListAttempts(rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.OutcomeSuccess, history[0].Outcome)
	assert.Empty(t, history[0].ErrorClass)
	assert.Equal(t, types.ErrorClassStore, history[1].ErrorClass)
	assert.Contains(t, history[1].Error, "disk I/O error")
}

func TestDriftSweepRequeuesEditedZone(t *testing.T) {
	exe := executor.New(executor.Config{Timeout: 5 * time.Second})
	r, store, renderCfg := newTestReconciler(t, exe, Config{})

	rec := put(t, store, types.KindDNSZone, "example.com",
		`{"soa":{"primary_ns":"ns1.example.com","hostmaster":"hostmaster.example.com"},"records":[{"name":"www","type":"A","value":"192.0.2.1"}]}`)
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	zonePath := filepath.Join(renderCfg.ZoneDir, "example.com.zone")
	original, err := os.ReadFile(zonePath)
	require.NoError(t, err)

	drifted, err := r.DriftSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, drifted)

	require.NoError(t, os.WriteFile(zonePath, []byte("; edited by hand\n"), 0644))
	drifted, err = r.DriftSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, drifted)

	got := get(t, store, rec.ID)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.AppliedRevision)

	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	restored, err := os.ReadFile(zonePath)
	require.NoError(t, err)
	assert.Equal(t, string(original), string(restored))
	assert.True(t, get(t, store, rec.ID).Converged())
}

func TestWorkerPoolSingleFlightPerKey(t *testing.T) {
	fake := newFakeExecutor()
	fake.delay = 5 * time.Millisecond
	r, store, _ := newTestReconciler(t, fake, Config{Workers: 4, PollInterval: 10 * time.Millisecond, DriftInterval: 0})

	keys := []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com", "e.example.com"}
	for _, key := range keys {
		put(t, store, types.KindSSLCert, key, `{"email":"v1@example.com"}`)
	}

	r.Start()
	for i := 2; i <= 6; i++ {
		for _, key := range keys {
			put(t, store, types.KindSSLCert, key, fmt.Sprintf(`{"email":"v%d@example.com"}`, i))
		}
		r.Nudge()
		time.Sleep(3 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		records, err := store.List(types.KindSSLCert)
		if err != nil {
			return false
		}
		for _, rec := range records {
			if !rec.Converged() {
				return false
			}
		}
		return len(records) == len(keys)
	}, 10*time.Second, 20*time.Millisecond)

	r.Stop()
	goleak.VerifyNone(t)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.maxActive, "at most one attempt per key at a time")

	records, err := store.List(types.KindSSLCert)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, int64(6), rec.AppliedRevision)
		assert.False(t, rec.InFlight)
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := NewReconciler(nil, nil, nil, Config{})
	r.Stop()
}
