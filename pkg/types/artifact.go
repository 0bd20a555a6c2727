package types

import (
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
)

// StepType selects how the executor performs a step
type StepType string

const (
	StepWriteFile  StepType = "write_file"
	StepRemoveFile StepType = "remove_file"
	StepCommand    StepType = "command"
	StepCrontab    StepType = "crontab"
)

// Step is one external side effect. Commands are argument vectors and are
// never passed through a shell.
type Step struct {
	Type StepType

	// write_file / remove_file
	Path    string
	Content []byte
	Mode    os.FileMode

	// command
	Argv []string

	// crontab: Line replaces the line tagged with Marker; an empty Line
	// removes it
	User   string
	Marker string
	Line   string
}

// CheckType selects an extra drift check
type CheckType string

const (
	CheckCertificate CheckType = "certificate"
)

// Check is a read-only inspection run during drift detection
type Check struct {
	Type    CheckType
	Path    string
	Domains []string
}

// Artifact is the rendered form of a record: everything the executor has to
// do to make the host match the desired spec
type Artifact struct {
	Kind   Kind
	Key    string
	Action Action
	Steps  []Step
	Checks []Check
}

// WriteFile appends an atomic file write step
func (a *Artifact) WriteFile(path string, content []byte, mode os.FileMode) {
	a.Steps = append(a.Steps, Step{Type: StepWriteFile, Path: path, Content: content, Mode: mode})
}

// RemoveFile appends a file removal step
func (a *Artifact) RemoveFile(path string) {
	a.Steps = append(a.Steps, Step{Type: StepRemoveFile, Path: path})
}

// Command appends a command step. Empty argv is ignored so optional reload
// hooks can be passed through unconditionally.
func (a *Artifact) Command(argv ...string) {
	if len(argv) == 0 {
		return
	}
	a.Steps = append(a.Steps, Step{Type: StepCommand, Argv: argv})
}

// Crontab appends a crontab splice step
func (a *Artifact) Crontab(user, marker, line string) {
	a.Steps = append(a.Steps, Step{Type: StepCrontab, User: user, Marker: marker, Line: line})
}

// Describe renders the artifact as text for the audit log. Commands are shown
// shell-quoted for readability only.
func (a *Artifact) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s/%s\n", a.Action, a.Kind, a.Key)
	for _, step := range a.Steps {
		switch step.Type {
		case StepWriteFile:
			fmt.Fprintf(&b, "write %s (%o)\n", step.Path, step.Mode)
			b.Write(step.Content)
			if len(step.Content) > 0 && step.Content[len(step.Content)-1] != '\n' {
				b.WriteByte('\n')
			}
		case StepRemoveFile:
			fmt.Fprintf(&b, "remove %s\n", step.Path)
		case StepCommand:
			fmt.Fprintf(&b, "run %s\n", shellquote.Join(step.Argv...))
		case StepCrontab:
			if step.Line == "" {
				fmt.Fprintf(&b, "crontab -u %s: remove %s\n", step.User, step.Marker)
			} else {
				fmt.Fprintf(&b, "crontab -u %s: %s\n", step.User, step.Line)
			}
		}
	}
	return b.String()
}
