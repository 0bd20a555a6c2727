package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// Config holds executor configuration
type Config struct {
	// Timeout bounds a whole artifact when Run is given no timeout
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" default:"30s"`

	// WaitDelay bounds how long a killed command may keep its output pipes open
	WaitDelay time.Duration `mapstructure:"wait_delay" yaml:"wait_delay" default:"2s"`

	// OutputLimit caps the captured stdout and stderr, each
	OutputLimit int `mapstructure:"output_limit" yaml:"output_limit" default:"16384"`

	CrontabPath string `mapstructure:"crontab_path" yaml:"crontab_path" default:"crontab"`

	// TempDir holds crontab files during install; empty means os.TempDir()
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// Result is the outcome of running one artifact
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool

	// Err is nil on success, otherwise errors.ErrExecution or errors.ErrTimeout
	Err error

	// Step is the index of the failing step, -1 when none failed
	Step int
}

// Output returns stdout and stderr combined for the audit log
func (r *Result) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Executor applies artifacts to the local host
type Executor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a new executor
func New(cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CrontabPath == "" {
		cfg.CrontabPath = "crontab"
	}
	return &Executor{
		cfg:    cfg,
		logger: log.WithComponent("executor"),
	}
}

// Run performs the steps of art in order under a single deadline. A
// non-positive timeout selects the configured default.
func (e *Executor) Run(ctx context.Context, art *types.Artifact, timeout time.Duration) (res *Result) {
	start := time.Now()
	res = &Result{Step: -1}

	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newLimitedBuffer(e.cfg.OutputLimit)
	stderr := newLimitedBuffer(e.cfg.OutputLimit)

	logger := e.logger.With().
		Str("kind", string(art.Kind)).
		Str("key", art.Key).
		Str("action", string(art.Action)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			res.Err = errors.ErrExecution.WithCausef("executor panic: %v", r)
			if res.ExitCode == 0 {
				res.ExitCode = -1
			}
		}
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		res.Duration = time.Since(start)
		metrics.ArtifactDuration.WithLabelValues(string(art.Kind)).Observe(res.Duration.Seconds())
	}()

	for i, step := range art.Steps {
		if err := execCtx.Err(); err != nil {
			res.Step = i
			e.contextFailure(res, err, "before step %d", i)
			break
		}

		var err error
		switch step.Type {
		case types.StepWriteFile:
			logger.Debug().Str("path", step.Path).Msg("Writing file")
			err = writeFileAtomic(step.Path, step.Content, step.Mode)
		case types.StepRemoveFile:
			logger.Debug().Str("path", step.Path).Msg("Removing file")
			err = removeFile(step.Path)
		case types.StepCommand:
			err = e.command(execCtx, step.Argv, stdout, stderr, res)
		case types.StepCrontab:
			err = e.crontab(execCtx, step, stdout, stderr, res)
		default:
			err = errors.ErrExecution.WithCausef("unknown step type %q", step.Type)
		}

		if err != nil {
			res.Step = i
			res.Err = err
			if res.ExitCode == 0 {
				res.ExitCode = -1
			}
			break
		}
	}

	if res.Err != nil {
		logger.Warn().
			Err(res.Err).
			Int("step", res.Step).
			Int("exit_code", res.ExitCode).
			Bool("timed_out", res.TimedOut).
			Msg("Artifact failed")
	} else {
		logger.Debug().Int("steps", len(art.Steps)).Msg("Artifact applied")
	}
	return res
}

func (e *Executor) contextFailure(res *Result, err error, format string, args ...interface{}) {
	what := fmt.Sprintf(format, args...)
	res.ExitCode = -1
	if errors.Is(err, context.DeadlineExceeded) {
		res.TimedOut = true
		res.Err = errors.ErrTimeout.WithCausef("deadline exceeded %s", what)
		return
	}
	res.Err = errors.ErrExecution.WithCausef("canceled %s: %v", what, err)
}

// command runs argv and records its exit code on res. Output is appended to
// the shared buffers.
func (e *Executor) command(ctx context.Context, argv []string, stdout, stderr *limitedBuffer, res *Result) error {
	if len(argv) == 0 {
		return errors.ErrExecution.WithCausef("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.cfg.WaitDelay

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	display := shellquote.Join(argv...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.contextFailure(res, ctxErr, "running %s", display)
		metrics.CommandsTotal.WithLabelValues("timeout").Inc()
		e.logger.Warn().Str("command", display).Dur("duration", duration).Msg("Command killed")
		return res.Err
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		metrics.CommandsTotal.WithLabelValues("failure").Inc()
		e.logger.Info().Str("command", display).Int("exit_code", res.ExitCode).Dur("duration", duration).Msg("Command failed")
		return errors.ErrExecution.WithCausef("%s: %v", display, err)
	}

	res.ExitCode = 0
	metrics.CommandsTotal.WithLabelValues("success").Inc()
	e.logger.Info().Str("command", display).Int("exit_code", 0).Dur("duration", duration).Msg("Command succeeded")
	return nil
}

// crontab splices one marked line into the user's crontab and installs the
// result only when it changed
func (e *Executor) crontab(ctx context.Context, step types.Step, stdout, stderr *limitedBuffer, res *Result) error {
	current, err := e.readCrontab(ctx, step.User, res)
	if err != nil {
		return err
	}

	updated := SpliceCrontab(current, step.Marker, step.Line)
	if updated == current {
		e.logger.Debug().Str("user", step.User).Str("marker", step.Marker).Msg("Crontab unchanged")
		return nil
	}

	tmp, err := os.CreateTemp(e.cfg.TempDir, "burrow-crontab-*")
	if err != nil {
		return errors.ErrExecution.WithCausef("failed to create crontab file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(updated); err != nil {
		tmp.Close()
		return errors.ErrExecution.WithCausef("failed to write crontab file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.ErrExecution.WithCausef("failed to write crontab file: %v", err)
	}

	return e.command(ctx, []string{e.cfg.CrontabPath, "-u", step.User, tmp.Name()}, stdout, stderr, res)
}

// readCrontab lists a user's crontab. A user without one has an empty crontab.
func (e *Executor) readCrontab(ctx context.Context, user string, res *Result) (string, error) {
	out := newLimitedBuffer(0)
	errOut := newLimitedBuffer(4096)
	if err := e.command(ctx, []string{e.cfg.CrontabPath, "-u", user, "-l"}, out, errOut, res); err != nil {
		if res.TimedOut {
			return "", err
		}
		if strings.Contains(strings.ToLower(errOut.String()), "no crontab") {
			res.ExitCode = 0
			return "", nil
		}
		return "", errors.ErrExecution.WithCausef("failed to read crontab of %s: %s", user, strings.TrimSpace(errOut.String()))
	}
	return out.String(), nil
}

// writeFileAtomic replaces path so readers see either the old or the new
// content, never a partial write. Identical content is left untouched.
func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		if info, err := os.Stat(path); err == nil && info.Mode().Perm() == mode.Perm() {
			return nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.ErrExecution.WithCausef("failed to create %s: %v", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.ErrExecution.WithCausef("failed to create temp file for %s: %v", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return errors.ErrExecution.WithCausef("failed to write %s: %v", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.ErrExecution.WithCausef("failed to sync %s: %v", path, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.ErrExecution.WithCausef("failed to close %s: %v", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return errors.ErrExecution.WithCausef("failed to chmod %s: %v", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.ErrExecution.WithCausef("failed to replace %s: %v", path, err)
	}
	committed = true
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.ErrExecution.WithCausef("failed to remove %s: %v", path, err)
	}
	return nil
}
