package render

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

var iniKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

type vhostRenderer struct {
	cfg Config
}

func (r *vhostRenderer) Kind() types.Kind { return types.KindVHost }

func (r *vhostRenderer) decode(key string, raw json.RawMessage) (*types.VHostSpec, error) {
	var spec types.VHostSpec
	if err := decodeSpec(raw, &spec); err != nil {
		return nil, err
	}
	domain, err := domainFor(key, spec.Domain)
	if err != nil {
		return nil, err
	}
	spec.Domain = domain

	if _, ok := r.cfg.template(spec.Template); !ok {
		return nil, errors.ErrValidation.WithCausef("unknown vhost template %q", spec.Template)
	}
	if spec.DocRoot == "" || !filepath.IsAbs(spec.DocRoot) {
		return nil, errors.ErrValidation.WithCausef("docroot must be an absolute path, got %q", spec.DocRoot)
	}
	if err := singleLine("docroot", spec.DocRoot); err != nil {
		return nil, err
	}
	if err := singleLine("cert_path", spec.CertPath); err != nil {
		return nil, err
	}
	for k, v := range spec.PHP {
		if !iniKeyPattern.MatchString(k) {
			return nil, errors.ErrValidation.WithCausef("invalid php setting %q", k)
		}
		if err := singleLine("php."+k, v); err != nil {
			return nil, err
		}
	}
	return &spec, nil
}

func (r *vhostRenderer) Validate(key string, raw json.RawMessage) error {
	_, err := r.decode(key, raw)
	return err
}

func (r *vhostRenderer) Render(rec *types.ResourceRecord) (*types.Artifact, error) {
	spec, err := r.decode(rec.Key, rec.Spec)
	if err != nil {
		return nil, err
	}

	certPath := spec.CertPath
	if certPath == "" {
		certPath = filepath.Join(r.cfg.CertLiveDir, spec.Domain)
	}
	text, _ := r.cfg.template(spec.Template)
	// Placeholders outside the known set are left as written
	replacer := strings.NewReplacer(
		"{DOMAIN}", spec.Domain,
		"{DOCROOT}", spec.DocRoot,
		"{CERT_PATH}", certPath,
	)

	art := newArtifact(rec, types.ActionApply)
	art.WriteFile(r.path(spec.Domain), []byte(replacer.Replace(text)), 0644)

	writeINI := r.cfg.UserINI && len(spec.PHP) > 0
	// Overrides installed by an earlier revision go when the docroot moves or they are dropped
	var applied types.VHostSpec
	if len(rec.AppliedSpec) > 0 && json.Unmarshal(rec.AppliedSpec, &applied) == nil &&
		len(applied.PHP) > 0 && filepath.IsAbs(applied.DocRoot) &&
		(!writeINI || applied.DocRoot != spec.DocRoot) {
		art.RemoveFile(filepath.Join(applied.DocRoot, ".user.ini"))
	}
	if writeINI {
		art.WriteFile(filepath.Join(spec.DocRoot, ".user.ini"), userINI(spec.PHP), 0644)
	}
	art.Command(expandArgv(r.cfg.VHostReload, spec.Domain)...)
	return art, nil
}

func (r *vhostRenderer) Teardown(rec *types.ResourceRecord) (*types.Artifact, error) {
	if err := validateDomain(rec.Key); err != nil {
		return nil, err
	}

	art := newArtifact(rec, types.ActionTeardown)
	art.RemoveFile(r.path(rec.Key))

	var spec types.VHostSpec
	if decodeSpec(rec.TeardownSpec(), &spec) == nil && r.cfg.UserINI && len(spec.PHP) > 0 && filepath.IsAbs(spec.DocRoot) {
		art.RemoveFile(filepath.Join(spec.DocRoot, ".user.ini"))
	}
	art.Command(expandArgv(r.cfg.VHostReload, rec.Key)...)
	return art, nil
}

func (r *vhostRenderer) path(domain string) string {
	return filepath.Join(r.cfg.VHostDir, "vhost-"+domain+".conf")
}

// userINI renders PHP overrides with keys sorted
func userINI(settings map[string]string) []byte {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(settings[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
