package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/cuemby/burrow/pkg/types"
)

// Verify compares the host against art without changing anything and
// returns one description per difference. Commands cannot be verified and
// are skipped. An error means the host could not be inspected.
func (e *Executor) Verify(ctx context.Context, art *types.Artifact) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var drift []string
	crontabs := make(map[string]string)

	for _, step := range art.Steps {
		switch step.Type {
		case types.StepWriteFile:
			current, err := os.ReadFile(step.Path)
			switch {
			case os.IsNotExist(err):
				drift = append(drift, fmt.Sprintf("%s is missing", step.Path))
			case err != nil:
				return nil, fmt.Errorf("failed to read %s: %w", step.Path, err)
			case !bytes.Equal(current, step.Content):
				drift = append(drift, fmt.Sprintf("%s differs from rendered content", step.Path))
			}

		case types.StepRemoveFile:
			if _, err := os.Stat(step.Path); err == nil {
				drift = append(drift, fmt.Sprintf("%s should not exist", step.Path))
			}

		case types.StepCrontab:
			current, ok := crontabs[step.User]
			if !ok {
				var err error
				current, err = e.readCrontab(ctx, step.User, &Result{})
				if err != nil {
					return nil, err
				}
				crontabs[step.User] = current
			}
			if !crontabHas(current, step.Marker, step.Line) {
				drift = append(drift, fmt.Sprintf("crontab of %s does not match %s", step.User, step.Marker))
			}
		}
	}

	for _, check := range art.Checks {
		if check.Type == types.CheckCertificate {
			if problem := checkCertificate(check, time.Now()); problem != "" {
				drift = append(drift, problem)
			}
		}
	}
	return drift, nil
}

// checkCertificate reports why the certificate at check.Path does not serve
// check.Domains, or "" when it does
func checkCertificate(check types.Check, now time.Time) string {
	data, err := os.ReadFile(check.Path)
	if err != nil {
		return fmt.Sprintf("certificate %s is unreadable: %v", check.Path, err)
	}
	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return fmt.Sprintf("certificate %s is invalid: %v", check.Path, err)
	}
	if now.After(cert.NotAfter) {
		return fmt.Sprintf("certificate %s expired at %s", check.Path, cert.NotAfter.Format(time.RFC3339))
	}
	for _, domain := range check.Domains {
		if err := cert.VerifyHostname(domain); err != nil {
			return fmt.Sprintf("certificate %s does not cover %s", check.Path, domain)
		}
	}
	return ""
}
