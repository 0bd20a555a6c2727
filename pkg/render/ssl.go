package render

import (
	"encoding/json"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

type sslCertRenderer struct {
	cfg Config
}

func (r *sslCertRenderer) Kind() types.Kind { return types.KindSSLCert }

func (r *sslCertRenderer) decode(key string, raw json.RawMessage) (*types.SSLCertSpec, error) {
	var spec types.SSLCertSpec
	if err := decodeSpec(raw, &spec); err != nil {
		return nil, err
	}
	domain, err := domainFor(key, spec.Domain)
	if err != nil {
		return nil, err
	}
	spec.Domain = domain

	if _, err := mail.ParseAddress(spec.Email); err != nil || strings.ContainsAny(spec.Email, " <>") {
		return nil, errors.ErrValidation.WithCausef("invalid email %q", spec.Email)
	}
	seen := map[string]bool{domain: true}
	for _, san := range spec.SANs {
		if err := validateDomain(san); err != nil {
			return nil, errors.ErrValidation.WithCausef("invalid san %q", san)
		}
		if seen[san] {
			return nil, errors.ErrValidation.WithCausef("duplicate san %q", san)
		}
		seen[san] = true
	}

	if spec.Webroot == "" {
		spec.Webroot = r.cfg.DefaultWebroot
	}
	if !filepath.IsAbs(spec.Webroot) {
		return nil, errors.ErrValidation.WithCausef("webroot must be an absolute path, got %q", spec.Webroot)
	}
	switch r.cfg.CertTool {
	case CertToolCertbot, CertToolWinAcme:
	default:
		return nil, errors.ErrUnsupported.WithCausef("certificate tool %q", r.cfg.CertTool)
	}
	return &spec, nil
}

func (r *sslCertRenderer) Validate(key string, raw json.RawMessage) error {
	_, err := r.decode(key, raw)
	return err
}

// Render emits the issuance command. Certbot is told to keep a still-valid
// certificate so re-applying an unchanged spec does not hit rate limits.
func (r *sslCertRenderer) Render(rec *types.ResourceRecord) (*types.Artifact, error) {
	spec, err := r.decode(rec.Key, rec.Spec)
	if err != nil {
		return nil, err
	}
	domains := append([]string{spec.Domain}, spec.SANs...)

	art := newArtifact(rec, types.ActionApply)
	switch r.cfg.CertTool {
	case CertToolWinAcme:
		argv := []string{r.cfg.WinAcmePath,
			"--source", "manual",
			"--host", strings.Join(domains, ","),
			"--friendlyname", spec.Domain,
			"--validation", "filesystem",
			"--webroot", spec.Webroot,
			"--store", "pemfiles",
			"--pemfilespath", filepath.Join(r.cfg.CertLiveDir, spec.Domain),
			"--emailaddress", spec.Email,
			"--accepttos",
		}
		if spec.Staging {
			argv = append(argv, "--test")
		}
		art.Command(argv...)
	default:
		argv := []string{r.cfg.CertbotPath, "certonly",
			"--non-interactive", "--agree-tos",
			"--email", spec.Email,
			"--webroot", "-w", spec.Webroot,
			"--cert-name", spec.Domain,
			"--keep-until-expiring", "--expand",
		}
		for _, d := range domains {
			argv = append(argv, "-d", d)
		}
		if spec.Staging {
			argv = append(argv, "--staging")
		}
		art.Command(argv...)
	}

	art.Checks = append(art.Checks, types.Check{
		Type:    types.CheckCertificate,
		Path:    r.certPath(spec.Domain),
		Domains: domains,
	})
	return art, nil
}

func (r *sslCertRenderer) Teardown(rec *types.ResourceRecord) (*types.Artifact, error) {
	if err := validateDomain(rec.Key); err != nil {
		return nil, err
	}

	art := newArtifact(rec, types.ActionTeardown)
	switch r.cfg.CertTool {
	case CertToolWinAcme:
		art.Command(r.cfg.WinAcmePath, "--cancel", "--friendlyname", rec.Key)
	case CertToolCertbot:
		art.Command(r.cfg.CertbotPath, "delete", "--non-interactive", "--cert-name", rec.Key)
	default:
		return nil, errors.ErrUnsupported.WithCausef("certificate tool %q", r.cfg.CertTool)
	}
	return art, nil
}

// certPath is where the issued leaf certificate lands
func (r *sslCertRenderer) certPath(domain string) string {
	if r.cfg.CertTool == CertToolWinAcme {
		return filepath.Join(r.cfg.CertLiveDir, domain, domain+"-crt.pem")
	}
	return filepath.Join(r.cfg.CertLiveDir, domain, "cert.pem")
}
