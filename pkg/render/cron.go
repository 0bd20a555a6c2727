package render

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

// MarkerPrefix tags every crontab line burrow manages
const MarkerPrefix = "PANEL_JOB_"

var (
	cronUserPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

	// Standard five fields; descriptors like @daily are not accepted
	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// Marker returns the crontab marker of the record with id
func Marker(recordID string) string {
	return MarkerPrefix + recordID
}

type cronJobRenderer struct{}

func (r *cronJobRenderer) Kind() types.Kind { return types.KindCronJob }

func (r *cronJobRenderer) decode(raw json.RawMessage) (*types.CronJobSpec, string, error) {
	var spec types.CronJobSpec
	if err := decodeSpec(raw, &spec); err != nil {
		return nil, "", err
	}
	if !cronUserPattern.MatchString(spec.User) {
		return nil, "", errors.ErrValidation.WithCausef("invalid user %q", spec.User)
	}

	fields := strings.Fields(spec.Schedule)
	if len(fields) != 5 {
		return nil, "", errors.ErrValidation.WithCausef("schedule %q must have exactly 5 fields, got %d", spec.Schedule, len(fields))
	}
	schedule := strings.Join(fields, " ")
	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, "", errors.ErrValidation.WithCausef("invalid schedule %q: %v", spec.Schedule, err)
	}

	spec.Command = strings.TrimSpace(spec.Command)
	if spec.Command == "" {
		return nil, "", errors.ErrValidation.WithCausef("command is required")
	}
	if err := singleLine("command", spec.Command); err != nil {
		return nil, "", err
	}
	return &spec, schedule, nil
}

func (r *cronJobRenderer) Validate(key string, raw json.RawMessage) error {
	_, _, err := r.decode(raw)
	return err
}

func (r *cronJobRenderer) Render(rec *types.ResourceRecord) (*types.Artifact, error) {
	spec, schedule, err := r.decode(rec.Spec)
	if err != nil {
		return nil, err
	}
	marker := Marker(rec.ID)
	line := fmt.Sprintf("%s %s # %s", schedule, spec.Command, marker)

	art := newArtifact(rec, types.ActionApply)
	// A job moved to another user leaves nothing behind in the old crontab
	var applied types.CronJobSpec
	if len(rec.AppliedSpec) > 0 && json.Unmarshal(rec.AppliedSpec, &applied) == nil &&
		applied.User != spec.User && cronUserPattern.MatchString(applied.User) {
		art.Crontab(applied.User, marker, "")
	}
	art.Crontab(spec.User, marker, line)
	return art, nil
}

func (r *cronJobRenderer) Teardown(rec *types.ResourceRecord) (*types.Artifact, error) {
	var spec types.CronJobSpec
	if err := decodeSpec(rec.TeardownSpec(), &spec); err != nil {
		return nil, err
	}
	if !cronUserPattern.MatchString(spec.User) {
		return nil, errors.ErrValidation.WithCausef("invalid user %q", spec.User)
	}

	art := newArtifact(rec, types.ActionTeardown)
	art.Crontab(spec.User, Marker(rec.ID), "")
	return art, nil
}
